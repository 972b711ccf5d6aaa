package model

import (
	"time"

	"github.com/google/uuid"
)

// LogLevel classifies an execution log entry.
type LogLevel string

const (
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// ExecutionLog is an append-only record of a significant engine action or
// error. Entries are never mutated after creation.
type ExecutionLog struct {
	ID        uuid.UUID  `json:"id"`
	AccountID uuid.UUID  `json:"account_id"`
	RuleID    *uuid.UUID `json:"rule_id,omitempty"`
	Level     LogLevel   `json:"level"`
	Category  string     `json:"category"` // "auth", "order", "transport", "risk", "feed", "worker"
	Message   string     `json:"message"`
	Context   string     `json:"context,omitempty"` // JSON
	ErrorCode string     `json:"error_code,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// WorkerCheckpoint marks the last safely completed worker cycle for one
// account. Owned exclusively by that account's worker.
type WorkerCheckpoint struct {
	AccountID   uuid.UUID `json:"account_id"`
	EventCursor int64     `json:"event_cursor"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
