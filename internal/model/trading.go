package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPlaced          OrderStatus = "placed"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderFailed          OrderStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal state change.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case OrderPending:
		return next == OrderPlaced || next == OrderRejected || next == OrderFailed
	case OrderPlaced:
		return next == OrderPartiallyFilled || next == OrderFilled || next == OrderCancelled
	case OrderPartiallyFilled:
		return next == OrderPartiallyFilled || next == OrderFilled || next == OrderCancelled
	default:
		return false
	}
}

// TradeRule defines one automated trading rule on an account. The engine
// consumes rules read-only; administrative collaborators own mutation.
type TradeRule struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Name            string          `json:"name"`
	Symbol          string          `json:"symbol"`
	Exchange        string          `json:"exchange"` // "NASD", "NYSE", "AMEX"
	BuyAmountUSD    decimal.Decimal `json:"buy_amount_usd"`
	MaxPositionUSD  decimal.Decimal `json:"max_position_usd"`
	EntryCondition  string          `json:"entry_condition"`
	ExitCondition   string          `json:"exit_condition"`
	TimeInForce     string          `json:"time_in_force"` // "IOC", "FOK", "GTD"
	Cooldown        time.Duration   `json:"cooldown"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`   // zero disables
	TakeProfitPct   decimal.Decimal `json:"take_profit_pct"` // zero disables
	Enabled         bool            `json:"enabled"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// InCooldown reports whether the rule triggered less than its cooldown ago.
func (r *TradeRule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*r.LastTriggeredAt) < r.Cooldown
}

// MarketData is a point-in-time snapshot of quote state for one symbol.
// It lives only for the evaluation cycle that reads it.
type MarketData struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"last_price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Change        decimal.Decimal `json:"change"`
	ChangeRate    decimal.Decimal `json:"change_rate"`
	Volume        int64           `json:"volume"`
	BidPrice      decimal.Decimal `json:"bid_price"`
	BidSize       int64           `json:"bid_size"`
	AskPrice      decimal.Decimal `json:"ask_price"`
	AskSize       int64           `json:"ask_size"`
	Timestamp     time.Time       `json:"timestamp"`
}

// DecisionKind is the outcome class of one rule evaluation.
type DecisionKind string

const (
	DecideEnter DecisionKind = "ENTER"
	DecideExit  DecisionKind = "EXIT"
	DecideHold  DecisionKind = "HOLD"
)

// Decision is the result of evaluating one rule against current market and
// position state. Produced fresh each cycle; persisted only if it becomes an
// order.
type Decision struct {
	RuleID   uuid.UUID       `json:"rule_id"`
	Kind     DecisionKind    `json:"kind"`
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Score    decimal.Decimal `json:"score"`
	Reason   string          `json:"reason"`
}

// Order is a persisted record of one brokerage order and its fills.
type Order struct {
	ID             uuid.UUID        `json:"id"`
	AccountID      uuid.UUID        `json:"account_id"`
	RuleID         *uuid.UUID       `json:"rule_id,omitempty"`
	Symbol         string           `json:"symbol"`
	Exchange       string           `json:"exchange"`
	Side           OrderSide        `json:"side"`
	Quantity       int64            `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"` // nil means market order
	TimeInForce    string           `json:"time_in_force"`
	Status         OrderStatus      `json:"status"`
	BrokerOrderID  string           `json:"broker_order_id,omitempty"`
	ClientOrderID  string           `json:"client_order_id"` // idempotency key, stable across retries
	FilledQuantity int64            `json:"filled_quantity"`
	AvgFillPrice   *decimal.Decimal `json:"avg_fill_price,omitempty"`
	Commission     *decimal.Decimal `json:"commission,omitempty"`
	RawResponse    string           `json:"raw_response,omitempty"`
	PlacedAt       *time.Time       `json:"placed_at,omitempty"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Open reports whether the order can still receive fills.
func (o *Order) Open() bool {
	return o.Status == OrderPlaced || o.Status == OrderPartiallyFilled
}

// Position is the current holding for one (account, symbol) pair.
type Position struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarketValue returns quantity times the freshest known price.
func (p *Position) MarketValue() decimal.Decimal {
	price := p.CurrentPrice
	if price.IsZero() {
		price = p.AvgPrice
	}
	return price.Mul(decimal.NewFromInt(p.Quantity))
}
