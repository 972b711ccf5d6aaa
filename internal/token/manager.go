// Package token manages access-token lifecycle for one brokerage account.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yim1990/alpha-ai/internal/model"
	"github.com/yim1990/alpha-ai/internal/vault"
	"github.com/yim1990/alpha-ai/pkg/rest"
)

var (
	// ErrRefreshExhausted is returned when the bounded refresh retries are
	// spent. The account is marked degraded, not disabled.
	ErrRefreshExhausted = errors.New("token: refresh attempts exhausted")

	// ErrNoToken is returned by Revoke when no token is stored.
	ErrNoToken = errors.New("token: no stored token")
)

// Default refresh retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffMin  = time.Second
	DefaultBackoffMax  = 15 * time.Second
)

// Issuer is the wire side of token issuance, implemented by *rest.Client.
type Issuer interface {
	IssueToken(ctx context.Context) (rest.AccessToken, error)
	RevokeToken(ctx context.Context, token string) error
}

// Store is the persistence the manager needs.
type Store interface {
	GetCredential(accountID uuid.UUID) (*model.Credential, error)
	UpdateToken(accountID uuid.UUID, tokenEncrypted string, expireAt time.Time) error
	ClearToken(accountID uuid.UUID) error
	SetAccountHealth(id uuid.UUID, status model.HealthStatus) error
}

// Manager caches and refreshes the access token for one account. Concurrent
// EnsureToken calls coalesce into a single refresh; the stored token is only
// replaced after the new one is durable.
type Manager struct {
	accountID uuid.UUID
	issuer    Issuer
	store     Store
	vault     *vault.Vault
	log       *logrus.Entry

	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration

	group singleflight.Group

	mu     sync.RWMutex
	cached rest.AccessToken
}

// Option configures the manager.
type Option func(*Manager)

// WithRetryPolicy overrides the refresh retry schedule.
func WithRetryPolicy(maxAttempts int, min, max time.Duration) Option {
	return func(m *Manager) {
		m.maxAttempts = maxAttempts
		m.backoffMin = min
		m.backoffMax = max
	}
}

// NewManager creates a token manager for one account.
func NewManager(accountID uuid.UUID, issuer Issuer, st Store, v *vault.Vault, log *logrus.Entry, opts ...Option) *Manager {
	m := &Manager{
		accountID:   accountID,
		issuer:      issuer,
		store:       st,
		vault:       v,
		log:         log,
		maxAttempts: DefaultMaxAttempts,
		backoffMin:  DefaultBackoffMin,
		backoffMax:  DefaultBackoffMax,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token implements rest.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) {
	tok, err := m.EnsureToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// EnsureToken returns a token valid past the safety margin, refreshing only
// when needed. A valid cached or stored token is returned without any
// network call.
func (m *Manager) EnsureToken(ctx context.Context) (rest.AccessToken, error) {
	now := time.Now()

	m.mu.RLock()
	cached := m.cached
	m.mu.RUnlock()
	if cached.Valid(now) {
		return cached, nil
	}

	if tok, ok := m.storedToken(now); ok {
		m.setCached(tok)
		return tok, nil
	}

	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return rest.AccessToken{}, err
	}
	return v.(rest.AccessToken), nil
}

// Revoke invalidates and clears the stored token. Called when the account is
// disabled.
func (m *Manager) Revoke(ctx context.Context) error {
	cred, err := m.store.GetCredential(m.accountID)
	if err != nil {
		return fmt.Errorf("token: load credential: %w", err)
	}
	if cred.TokenEncrypted == "" {
		return ErrNoToken
	}

	value, err := m.vault.Decrypt(cred.TokenEncrypted)
	if err != nil {
		return fmt.Errorf("token: decrypt stored token: %w", err)
	}
	if err := m.issuer.RevokeToken(ctx, value); err != nil {
		return fmt.Errorf("token: revoke: %w", err)
	}
	if err := m.store.ClearToken(m.accountID); err != nil {
		return fmt.Errorf("token: clear stored token: %w", err)
	}

	m.mu.Lock()
	m.cached = rest.AccessToken{}
	m.mu.Unlock()
	return nil
}

// storedToken loads the persisted token, if it is still valid past the
// safety margin.
func (m *Manager) storedToken(now time.Time) (rest.AccessToken, bool) {
	cred, err := m.store.GetCredential(m.accountID)
	if err != nil || cred.TokenEncrypted == "" || cred.TokenExpireAt == nil {
		return rest.AccessToken{}, false
	}

	tok := rest.AccessToken{ExpiresAt: *cred.TokenExpireAt}
	if !tok.Valid(now) {
		return rest.AccessToken{}, false
	}

	value, err := m.vault.Decrypt(cred.TokenEncrypted)
	if err != nil {
		m.log.WithError(err).Warn("stored token is undecryptable, forcing refresh")
		return rest.AccessToken{}, false
	}
	tok.Value = value
	return tok, true
}

// refresh issues a new token with bounded retries and persists it before the
// cache is updated. The previously stored token stays in place until the new
// one is durable.
func (m *Manager) refresh(ctx context.Context) (rest.AccessToken, error) {
	// Another caller may have refreshed while this one waited on the group.
	if tok, ok := m.storedToken(time.Now()); ok {
		m.setCached(tok)
		return tok, nil
	}

	boff := &backoff.Backoff{
		Min:    m.backoffMin,
		Max:    m.backoffMax,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		tok, err := m.issuer.IssueToken(ctx)
		if err == nil {
			if err := m.persist(tok); err != nil {
				return rest.AccessToken{}, err
			}
			m.setCached(tok)
			m.log.WithField("expires_at", tok.ExpiresAt).Info("access token refreshed")
			return tok, nil
		}
		lastErr = err

		if rest.IsAuthFailure(err) {
			// Bad credentials never recover on retry. The account is
			// taken out of rotation until an operator intervenes.
			if herr := m.store.SetAccountHealth(m.accountID, model.HealthError); herr != nil {
				m.log.WithError(herr).Error("failed to mark account unhealthy")
			}
			m.log.WithError(err).Error("token refresh rejected, account disabled")
			return rest.AccessToken{}, fmt.Errorf("token: auth failure: %w", err)
		}

		if attempt == m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return rest.AccessToken{}, ctx.Err()
		case <-time.After(boff.Duration()):
		}
	}

	// Transient exhaustion degrades the account but leaves it enabled.
	if herr := m.store.SetAccountHealth(m.accountID, model.HealthWarning); herr != nil {
		m.log.WithError(herr).Error("failed to mark account degraded")
	}
	m.log.WithError(lastErr).Warn("token refresh exhausted, account degraded")
	return rest.AccessToken{}, fmt.Errorf("%w: %v", ErrRefreshExhausted, lastErr)
}

func (m *Manager) persist(tok rest.AccessToken) error {
	encrypted, err := m.vault.Encrypt(tok.Value)
	if err != nil {
		return fmt.Errorf("token: encrypt token: %w", err)
	}
	if err := m.store.UpdateToken(m.accountID, encrypted, tok.ExpiresAt); err != nil {
		return fmt.Errorf("token: persist token: %w", err)
	}
	return nil
}

func (m *Manager) setCached(tok rest.AccessToken) {
	m.mu.Lock()
	m.cached = tok
	m.mu.Unlock()
}
