package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yim1990/alpha-ai/internal/model"
)

// UpsertPosition writes the current holding for (account, symbol). A zero
// quantity deletes the row instead.
func (s *Store) UpsertPosition(p *model.Position) error {
	if p.Quantity == 0 {
		return s.DeletePosition(p.AccountID, p.Symbol)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO positions (id, account_id, symbol, quantity, avg_price, current_price, unrealized_pnl, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			unrealized_pnl = excluded.unrealized_pnl,
			updated_at = excluded.updated_at`,
		p.ID.String(), p.AccountID.String(), p.Symbol, p.Quantity,
		p.AvgPrice.String(), p.CurrentPrice.String(), p.UnrealizedPnL.String(),
		p.OpenedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes the holding row for (account, symbol).
func (s *Store) DeletePosition(accountID uuid.UUID, symbol string) error {
	_, err := s.db.Exec(`DELETE FROM positions WHERE account_id = ? AND symbol = ?`,
		accountID.String(), symbol)
	return err
}

// GetPosition fetches the holding for (account, symbol).
func (s *Store) GetPosition(accountID uuid.UUID, symbol string) (*model.Position, error) {
	positions, err := s.queryPositions(`
		SELECT id, account_id, symbol, quantity, avg_price, current_price, unrealized_pnl, opened_at, updated_at
		FROM positions WHERE account_id = ? AND symbol = ?`, accountID.String(), symbol)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, ErrNotFound
	}
	return &positions[0], nil
}

// ListPositions returns all holdings for an account.
func (s *Store) ListPositions(accountID uuid.UUID) ([]model.Position, error) {
	return s.queryPositions(`
		SELECT id, account_id, symbol, quantity, avg_price, current_price, unrealized_pnl, opened_at, updated_at
		FROM positions WHERE account_id = ? ORDER BY symbol`, accountID.String())
}

func (s *Store) queryPositions(query string, args ...any) ([]model.Position, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var (
			p                 model.Position
			id, acct          string
			avg, current, pnl string
		)
		err := rows.Scan(&id, &acct, &p.Symbol, &p.Quantity, &avg, &current, &pnl, &p.OpenedAt, &p.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: parse position id: %w", err)
		}
		if p.AccountID, err = uuid.Parse(acct); err != nil {
			return nil, fmt.Errorf("store: parse position account id: %w", err)
		}
		if p.AvgPrice, err = scanDecimal(avg); err != nil {
			return nil, err
		}
		if p.CurrentPrice, err = scanDecimal(current); err != nil {
			return nil, err
		}
		if p.UnrealizedPnL, err = scanDecimal(pnl); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
