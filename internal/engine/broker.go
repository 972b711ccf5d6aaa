// Package engine runs the per-account trading workers: order routing, fill
// reconciliation, market-state upkeep, and the supervisor that keeps one
// worker alive per enabled account.
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yim1990/alpha-ai/pkg/rest"
)

// Broker is the slice of the brokerage API the engine consumes. *rest.Client
// satisfies it; tests substitute fakes.
type Broker interface {
	PlaceOrder(ctx context.Context, req rest.PlaceOrderRequest) (*rest.OrderResult, error)
	CancelOrder(ctx context.Context, exchange, symbol, brokerOrderID string, qty int64) (*rest.OrderResult, error)
	AmendOrder(ctx context.Context, exchange, symbol, brokerOrderID string, qty int64, price decimal.Decimal) (*rest.OrderResult, error)
	GetPositions(ctx context.Context, exchange string) ([]rest.Position, error)
	GetExecutions(ctx context.Context, exchange, symbol string, from, to time.Time) ([]rest.Execution, error)
	GetBuyingPower(ctx context.Context, exchange, symbol string, price decimal.Decimal) (*rest.BuyingPower, error)
	GetQuote(ctx context.Context, priceExchange, symbol string) (*rest.Quote, error)
}

var _ Broker = (*rest.Client)(nil)
