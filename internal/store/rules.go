package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yim1990/alpha-ai/internal/model"
)

// SaveRule inserts a trade rule. A zero ID is assigned.
func (s *Store) SaveRule(r *model.TradeRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Exchange == "" {
		r.Exchange = "NASD"
	}
	if r.TimeInForce == "" {
		r.TimeInForce = "IOC"
	}
	if r.Cooldown == 0 {
		r.Cooldown = time.Minute
	}

	_, err := s.db.Exec(`
		INSERT INTO trade_rules (id, account_id, name, symbol, exchange, buy_amount_usd, max_position_usd,
			entry_condition, exit_condition, time_in_force, cooldown_seconds, stop_loss_pct, take_profit_pct,
			enabled, last_triggered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.AccountID.String(), r.Name, r.Symbol, r.Exchange,
		r.BuyAmountUSD.String(), r.MaxPositionUSD.String(),
		r.EntryCondition, r.ExitCondition, r.TimeInForce, int64(r.Cooldown/time.Second),
		r.StopLossPct.String(), r.TakeProfitPct.String(),
		r.Enabled, r.LastTriggeredAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save rule: %w", err)
	}
	return nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(id uuid.UUID) (*model.TradeRule, error) {
	rules, err := s.queryRules(`SELECT `+ruleColumns+` FROM trade_rules WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrNotFound
	}
	return &rules[0], nil
}

// ListEnabledRules returns the enabled rules for an account.
func (s *Store) ListEnabledRules(accountID uuid.UUID) ([]model.TradeRule, error) {
	return s.queryRules(`SELECT `+ruleColumns+` FROM trade_rules
		WHERE account_id = ? AND enabled = 1 ORDER BY created_at`, accountID.String())
}

// MarkRuleTriggered stamps the rule's last trigger time, starting its
// cooldown window.
func (s *Store) MarkRuleTriggered(id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(`UPDATE trade_rules SET last_triggered_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id.String())
	return err
}

const ruleColumns = `id, account_id, name, symbol, exchange, buy_amount_usd, max_position_usd,
	entry_condition, exit_condition, time_in_force, cooldown_seconds, stop_loss_pct, take_profit_pct,
	enabled, last_triggered_at, created_at, updated_at`

func (s *Store) queryRules(query string, args ...any) ([]model.TradeRule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.TradeRule
	for rows.Next() {
		var (
			r                               model.TradeRule
			id, acct                        string
			buyAmount, maxPos, stopL, takeP string
			cooldownSec                     int64
			triggered                       sql.NullTime
		)
		err := rows.Scan(&id, &acct, &r.Name, &r.Symbol, &r.Exchange, &buyAmount, &maxPos,
			&r.EntryCondition, &r.ExitCondition, &r.TimeInForce, &cooldownSec, &stopL, &takeP,
			&r.Enabled, &triggered, &r.CreatedAt, &r.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: parse rule id: %w", err)
		}
		if r.AccountID, err = uuid.Parse(acct); err != nil {
			return nil, fmt.Errorf("store: parse rule account id: %w", err)
		}
		if r.BuyAmountUSD, err = scanDecimal(buyAmount); err != nil {
			return nil, err
		}
		if r.MaxPositionUSD, err = scanDecimal(maxPos); err != nil {
			return nil, err
		}
		if r.StopLossPct, err = scanDecimal(stopL); err != nil {
			return nil, err
		}
		if r.TakeProfitPct, err = scanDecimal(takeP); err != nil {
			return nil, err
		}
		r.Cooldown = time.Duration(cooldownSec) * time.Second
		if triggered.Valid {
			t := triggered.Time
			r.LastTriggeredAt = &t
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
