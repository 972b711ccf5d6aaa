// Package model defines the domain records shared by the engine, the store,
// and the brokerage gateway.
package model

import (
	"time"

	"github.com/google/uuid"
)

// HealthStatus represents the operational state of a brokerage account.
type HealthStatus string

// Account health states.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthError    HealthStatus = "error"
	HealthInactive HealthStatus = "inactive"
)

// Account represents a brokerage account the engine trades on behalf of.
type Account struct {
	ID            uuid.UUID    `json:"id"`
	Nickname      string       `json:"nickname"`
	Broker        string       `json:"broker"` // "KIS"
	Market        string       `json:"market"` // "US"
	Enabled       bool         `json:"enabled"`
	HealthStatus  HealthStatus `json:"health_status"`
	LastHeartbeat *time.Time   `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Active reports whether the account should have a running worker.
func (a *Account) Active() bool {
	return a.Enabled && a.HealthStatus != HealthError
}

// Credential holds the encrypted API credentials for one account. Plaintext
// values never appear in this struct; decryption happens on read inside the
// vault. Token fields are written only by the token manager.
type Credential struct {
	ID                 uuid.UUID  `json:"id"`
	AccountID          uuid.UUID  `json:"account_id"`
	AppKeyEncrypted    string     `json:"-"`
	AppSecretEncrypted string     `json:"-"`
	AccountNoEncrypted string     `json:"-"`
	Sandbox            bool       `json:"sandbox"`
	TokenEncrypted     string     `json:"-"`
	TokenExpireAt      *time.Time `json:"token_expire_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TokenValid reports whether a stored token exists and has not passed the
// given instant. Callers still apply the refresh safety margin on top.
func (c *Credential) TokenValid(now time.Time) bool {
	return c.TokenEncrypted != "" && c.TokenExpireAt != nil && now.Before(*c.TokenExpireAt)
}
