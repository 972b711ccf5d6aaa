package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yim1990/alpha-ai/internal/model"
)

const orderColumns = `id, account_id, rule_id, symbol, exchange, side, quantity, price, time_in_force,
	status, broker_order_id, client_order_id, filled_quantity, avg_fill_price, commission, raw_response,
	placed_at, filled_at, cancelled_at, created_at, updated_at`

// CreateOrder inserts a new order row. A zero ID is assigned.
func (s *Store) CreateOrder(o *model.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = model.OrderPending
	}

	var ruleID any
	if o.RuleID != nil {
		ruleID = o.RuleID.String()
	}

	_, err := s.db.Exec(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.AccountID.String(), ruleID, o.Symbol, o.Exchange, string(o.Side), o.Quantity,
		nullDecimalString(o.Price), o.TimeInForce, string(o.Status), o.BrokerOrderID, o.ClientOrderID,
		o.FilledQuantity, nullDecimalString(o.AvgFillPrice), nullDecimalString(o.Commission), o.RawResponse,
		o.PlacedAt, o.FilledAt, o.CancelledAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create order: %w", err)
	}
	return nil
}

// UpdateOrder persists the mutable order fields.
func (s *Store) UpdateOrder(o *model.Order) error {
	o.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE orders SET status = ?, broker_order_id = ?, filled_quantity = ?, avg_fill_price = ?,
			commission = ?, raw_response = ?, placed_at = ?, filled_at = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?`,
		string(o.Status), o.BrokerOrderID, o.FilledQuantity, nullDecimalString(o.AvgFillPrice),
		nullDecimalString(o.Commission), o.RawResponse, o.PlacedAt, o.FilledAt, o.CancelledAt, o.UpdatedAt,
		o.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("store: update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrder fetches one order by id.
func (s *Store) GetOrder(id uuid.UUID) (*model.Order, error) {
	orders, err := s.queryOrders(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return &orders[0], nil
}

// GetOrderByClientID fetches one order by its idempotency key.
func (s *Store) GetOrderByClientID(clientOrderID string) (*model.Order, error) {
	orders, err := s.queryOrders(`SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, clientOrderID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return &orders[0], nil
}

// ListOpenOrders returns orders awaiting fills for an account.
func (s *Store) ListOpenOrders(accountID uuid.UUID) ([]model.Order, error) {
	return s.queryOrders(`SELECT `+orderColumns+` FROM orders
		WHERE account_id = ? AND status IN ('placed', 'partially_filled')
		ORDER BY created_at`, accountID.String())
}

// ListOrdersSince returns orders created at or after the given instant, used
// for the daily notional cap.
func (s *Store) ListOrdersSince(accountID uuid.UUID, since time.Time) ([]model.Order, error) {
	return s.queryOrders(`SELECT `+orderColumns+` FROM orders
		WHERE account_id = ? AND created_at >= ?
		ORDER BY created_at`, accountID.String(), since.UTC())
}

func (s *Store) queryOrders(query string, args ...any) ([]model.Order, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var (
			o                    model.Order
			id, acct             string
			ruleID               sql.NullString
			side, status         string
			price, avgFill, comm sql.NullString
			placed, filled, canc sql.NullTime
		)
		err := rows.Scan(&id, &acct, &ruleID, &o.Symbol, &o.Exchange, &side, &o.Quantity, &price,
			&o.TimeInForce, &status, &o.BrokerOrderID, &o.ClientOrderID, &o.FilledQuantity,
			&avgFill, &comm, &o.RawResponse, &placed, &filled, &canc, &o.CreatedAt, &o.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		if o.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: parse order id: %w", err)
		}
		if o.AccountID, err = uuid.Parse(acct); err != nil {
			return nil, fmt.Errorf("store: parse order account id: %w", err)
		}
		if ruleID.Valid {
			rid, err := uuid.Parse(ruleID.String)
			if err != nil {
				return nil, fmt.Errorf("store: parse order rule id: %w", err)
			}
			o.RuleID = &rid
		}
		o.Side = model.OrderSide(side)
		o.Status = model.OrderStatus(status)
		if o.Price, err = scanNullDecimal(price); err != nil {
			return nil, err
		}
		if o.AvgFillPrice, err = scanNullDecimal(avgFill); err != nil {
			return nil, err
		}
		if o.Commission, err = scanNullDecimal(comm); err != nil {
			return nil, err
		}
		if placed.Valid {
			t := placed.Time
			o.PlacedAt = &t
		}
		if filled.Valid {
			t := filled.Time
			o.FilledAt = &t
		}
		if canc.Valid {
			t := canc.Time
			o.CancelledAt = &t
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
