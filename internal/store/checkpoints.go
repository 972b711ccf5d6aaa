package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yim1990/alpha-ai/internal/model"
)

// SaveCheckpoint upserts the worker checkpoint for an account in a single
// statement, so a crash leaves either the old or the new checkpoint, never a
// partial one.
func (s *Store) SaveCheckpoint(cp *model.WorkerCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO worker_checkpoints (account_id, event_cursor, last_cycle_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			event_cursor = excluded.event_cursor,
			last_cycle_at = excluded.last_cycle_at,
			updated_at = excluded.updated_at`,
		cp.AccountID.String(), cp.EventCursor, cp.LastCycleAt.UTC(), cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint reads the worker checkpoint for an account. ErrNotFound means
// the worker has never completed a cycle; any other error should be treated
// as a corrupt checkpoint and answered with a clean baseline.
func (s *Store) GetCheckpoint(accountID uuid.UUID) (*model.WorkerCheckpoint, error) {
	var (
		cp model.WorkerCheckpoint
		id string
	)
	err := s.db.QueryRow(`
		SELECT account_id, event_cursor, last_cycle_at, updated_at
		FROM worker_checkpoints WHERE account_id = ?`, accountID.String()).
		Scan(&id, &cp.EventCursor, &cp.LastCycleAt, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if cp.AccountID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: parse checkpoint account id: %w", err)
	}
	return &cp, nil
}
