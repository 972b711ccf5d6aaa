package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yim1990/alpha-ai/internal/model"
)

// AppendLog inserts an execution log entry. The log is append-only; there is
// deliberately no update or delete.
func (s *Store) AppendLog(l *model.ExecutionLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	var ruleID any
	if l.RuleID != nil {
		ruleID = l.RuleID.String()
	}

	_, err := s.db.Exec(`
		INSERT INTO execution_logs (id, account_id, rule_id, level, category, message, context, error_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.AccountID.String(), ruleID, string(l.Level), l.Category,
		l.Message, l.Context, l.ErrorCode, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append log: %w", err)
	}
	return nil
}

// ListLogs returns the most recent execution log entries for an account.
func (s *Store) ListLogs(accountID uuid.UUID, limit int) ([]model.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, account_id, rule_id, level, category, message, context, error_code, created_at
		FROM execution_logs WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?`, accountID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.ExecutionLog
	for rows.Next() {
		var (
			l        model.ExecutionLog
			id, acct string
			ruleID   sql.NullString
			level    string
		)
		if err := rows.Scan(&id, &acct, &ruleID, &level, &l.Category, &l.Message, &l.Context, &l.ErrorCode, &l.CreatedAt); err != nil {
			return nil, err
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: parse log id: %w", err)
		}
		if l.AccountID, err = uuid.Parse(acct); err != nil {
			return nil, fmt.Errorf("store: parse log account id: %w", err)
		}
		if ruleID.Valid {
			rid, err := uuid.Parse(ruleID.String)
			if err != nil {
				return nil, fmt.Errorf("store: parse log rule id: %w", err)
			}
			l.RuleID = &rid
		}
		l.Level = model.LogLevel(level)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Record mirrors a notable log entry into the execution log so it survives
// log rotation. Entries raised outside any account's worker land under the
// nil account id. Implements the logger package's Recorder.
func (s *Store) Record(level, component, message string, fields map[string]any) {
	l := model.ExecutionLog{
		Level:    recordLevel(level),
		Category: component,
		Message:  message,
	}
	if l.Category == "" {
		l.Category = "engine"
	}
	if len(fields) > 0 {
		flat := make(map[string]any, len(fields))
		for k, v := range fields {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			flat[k] = v
		}
		if b, err := json.Marshal(flat); err == nil {
			l.Context = string(b)
		}
	}
	_ = s.AppendLog(&l)
}

func recordLevel(level string) model.LogLevel {
	switch level {
	case "warning":
		return model.LevelWarning
	case "error":
		return model.LevelError
	case "fatal", "panic":
		return model.LevelCritical
	default:
		return model.LevelInfo
	}
}
