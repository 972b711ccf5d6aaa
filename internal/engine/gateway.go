package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yim1990/alpha-ai/internal/market"
	"github.com/yim1990/alpha-ai/internal/model"
	"github.com/yim1990/alpha-ai/internal/store"
	"github.com/yim1990/alpha-ai/pkg/rest"
)

var (
	ErrInvalidQuantity = errors.New("engine: order quantity must be positive")
	ErrInvalidPrice    = errors.New("engine: order price fails tick validation")
	ErrNotPending      = errors.New("engine: order already submitted")
	ErrNotOpen         = errors.New("engine: order is not open")
)

// US equities quote at most four decimal places (sub-dollar ticks).
const maxPriceDecimals = 4

// Gateway routes orders to the broker and keeps the durable order and
// position rows in step with what the broker reports.
type Gateway struct {
	store    *store.Store
	broker   Broker
	log      *logrus.Entry
	staleAge time.Duration
}

// NewGateway creates a gateway. staleAge is how long an open order may go
// unreported before the reconciler treats it as gone.
func NewGateway(st *store.Store, broker Broker, log *logrus.Entry, staleAge time.Duration) *Gateway {
	return &Gateway{store: st, broker: broker, log: log, staleAge: staleAge}
}

// Place validates, persists, and submits one order. The row is created in
// pending state before the wire call so a crash between the two leaves an
// auditable stub, then advanced to placed or to rejected/failed depending on
// how the broker answered. The client order id pins the attempt for
// idempotent retries.
func (g *Gateway) Place(ctx context.Context, o *model.Order) error {
	if o.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if o.Price != nil {
		if !o.Price.IsPositive() || o.Price.Exponent() < -maxPriceDecimals {
			return ErrInvalidPrice
		}
	}
	if o.Status != "" && o.Status != model.OrderPending {
		return ErrNotPending
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = ulid.Make().String()
	}

	if err := g.store.CreateOrder(o); err != nil {
		return fmt.Errorf("engine: persist order: %w", err)
	}

	req := rest.PlaceOrderRequest{
		Exchange: o.Exchange,
		Symbol:   o.Symbol,
		Side:     rest.Side(o.Side),
		Quantity: o.Quantity,
	}
	if o.Price != nil {
		req.Price = *o.Price
		req.Type = rest.OrderTypeLimit
	}

	result, err := g.broker.PlaceOrder(ctx, req)
	if err != nil {
		status := model.OrderFailed
		if rest.IsClientError(err) {
			status = model.OrderRejected
		}
		g.transition(o, status)
		o.RawResponse = err.Error()
		if uerr := g.store.UpdateOrder(o); uerr != nil {
			g.log.WithError(uerr).Error("failed to record order failure")
		}
		return fmt.Errorf("engine: place order %s: %w", o.ClientOrderID, err)
	}

	now := time.Now()
	g.transition(o, model.OrderPlaced)
	o.BrokerOrderID = result.OrderID
	o.RawResponse = string(result.Raw)
	o.PlacedAt = &now
	if err := g.store.UpdateOrder(o); err != nil {
		return fmt.Errorf("engine: record placement: %w", err)
	}

	g.log.WithFields(logrus.Fields{
		"symbol":   o.Symbol,
		"side":     o.Side,
		"qty":      o.Quantity,
		"order_id": result.OrderID,
	}).Info("order placed")
	return nil
}

// Cancel asks the broker to cancel an open order and records the outcome.
func (g *Gateway) Cancel(ctx context.Context, o *model.Order) error {
	if !o.Open() {
		return ErrNotOpen
	}
	remaining := o.Quantity - o.FilledQuantity
	if _, err := g.broker.CancelOrder(ctx, o.Exchange, o.Symbol, o.BrokerOrderID, remaining); err != nil {
		return fmt.Errorf("engine: cancel order %s: %w", o.BrokerOrderID, err)
	}

	now := time.Now()
	g.transition(o, model.OrderCancelled)
	o.CancelledAt = &now
	if err := g.store.UpdateOrder(o); err != nil {
		return fmt.Errorf("engine: record cancellation: %w", err)
	}
	g.log.WithField("order_id", o.BrokerOrderID).Info("order cancelled")
	return nil
}

// Amend revises the price of an open order in place at the broker.
func (g *Gateway) Amend(ctx context.Context, o *model.Order, price decimal.Decimal) error {
	if !o.Open() {
		return ErrNotOpen
	}
	if !price.IsPositive() || price.Exponent() < -maxPriceDecimals {
		return ErrInvalidPrice
	}
	remaining := o.Quantity - o.FilledQuantity
	if _, err := g.broker.AmendOrder(ctx, o.Exchange, o.Symbol, o.BrokerOrderID, remaining, price); err != nil {
		return fmt.Errorf("engine: amend order %s: %w", o.BrokerOrderID, err)
	}
	o.Price = &price
	if err := g.store.UpdateOrder(o); err != nil {
		return fmt.Errorf("engine: record amendment: %w", err)
	}
	return nil
}

type fillTotal struct {
	qty      int64
	notional decimal.Decimal
}

// Reconcile advances open orders from what today's execution inquiry
// reports: placed orders pick up partial and complete fills, positions
// absorb the filled shares, and open orders the broker has stopped
// reporting past the stale age are marked cancelled.
func (g *Gateway) Reconcile(ctx context.Context, accountID uuid.UUID, now time.Time) error {
	open, err := g.store.ListOpenOrders(accountID)
	if err != nil {
		return fmt.Errorf("engine: list open orders: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	type venue struct{ exchange, symbol string }
	venues := map[venue]struct{}{}
	for _, o := range open {
		venues[venue{o.Exchange, o.Symbol}] = struct{}{}
	}

	from := market.StartOfTradingDay(now)
	fills := map[string]fillTotal{}
	for v := range venues {
		execs, err := g.broker.GetExecutions(ctx, v.exchange, v.symbol, from, now)
		if err != nil {
			return fmt.Errorf("engine: fetch executions for %s: %w", v.symbol, err)
		}
		for _, e := range execs {
			t := fills[e.BrokerOrderID]
			t.qty += e.Quantity
			t.notional = t.notional.Add(e.Price.Mul(decimal.NewFromInt(e.Quantity)))
			fills[e.BrokerOrderID] = t
		}
	}

	for i := range open {
		o := &open[i]
		total, reported := fills[o.BrokerOrderID]

		if !reported || total.qty <= o.FilledQuantity {
			g.sweepStale(o, reported, now)
			continue
		}
		if err := g.applyFill(o, total, now); err != nil {
			return err
		}
	}
	return nil
}

// applyFill records new fill progress on one order and folds the newly
// filled shares into the position.
func (g *Gateway) applyFill(o *model.Order, total fillTotal, now time.Time) error {
	delta := total.qty - o.FilledQuantity
	avg := total.notional.Div(decimal.NewFromInt(total.qty))

	// Price of just the new shares, so the position re-averages correctly
	// across partial fills.
	already := decimal.Zero
	if o.AvgFillPrice != nil {
		already = o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQuantity))
	}
	deltaPrice := total.notional.Sub(already).Div(decimal.NewFromInt(delta))

	o.FilledQuantity = total.qty
	o.AvgFillPrice = &avg
	if total.qty >= o.Quantity {
		g.transition(o, model.OrderFilled)
		o.FilledAt = &now
	} else {
		g.transition(o, model.OrderPartiallyFilled)
	}
	if err := g.store.UpdateOrder(o); err != nil {
		return fmt.Errorf("engine: record fill: %w", err)
	}

	if err := g.updatePosition(o, delta, deltaPrice, now); err != nil {
		return err
	}

	g.log.WithFields(logrus.Fields{
		"order_id": o.BrokerOrderID,
		"symbol":   o.Symbol,
		"filled":   o.FilledQuantity,
		"of":       o.Quantity,
		"status":   o.Status,
	}).Info("fill reconciled")
	return nil
}

// sweepStale cancels an open order the broker has stopped reporting once it
// is older than the stale age.
func (g *Gateway) sweepStale(o *model.Order, reported bool, now time.Time) {
	if reported || g.staleAge <= 0 || o.PlacedAt == nil {
		return
	}
	if now.Sub(*o.PlacedAt) < g.staleAge {
		return
	}
	g.transition(o, model.OrderCancelled)
	o.CancelledAt = &now
	if err := g.store.UpdateOrder(o); err != nil {
		g.log.WithError(err).Error("failed to sweep stale order")
		return
	}
	g.log.WithFields(logrus.Fields{
		"order_id": o.BrokerOrderID,
		"age":      now.Sub(*o.PlacedAt).Round(time.Second),
	}).Warn("open order no longer reported, marked cancelled")
}

// updatePosition applies delta filled shares at the given average price to
// the (account, symbol) position row. Buys raise quantity and re-average the
// entry price; sells draw the quantity down, with the row removed at zero.
func (g *Gateway) updatePosition(o *model.Order, delta int64, price decimal.Decimal, now time.Time) error {
	pos, err := g.store.GetPosition(o.AccountID, o.Symbol)
	if errors.Is(err, store.ErrNotFound) {
		pos = &model.Position{AccountID: o.AccountID, Symbol: o.Symbol, OpenedAt: now}
	} else if err != nil {
		return fmt.Errorf("engine: load position: %w", err)
	}

	if o.Side == model.SideBuy {
		newQty := pos.Quantity + delta
		held := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity))
		added := price.Mul(decimal.NewFromInt(delta))
		pos.AvgPrice = held.Add(added).Div(decimal.NewFromInt(newQty))
		pos.Quantity = newQty
	} else {
		pos.Quantity -= delta
		if pos.Quantity < 0 {
			pos.Quantity = 0
		}
	}
	pos.CurrentPrice = price
	pos.UpdatedAt = now

	if err := g.store.UpsertPosition(pos); err != nil {
		return fmt.Errorf("engine: update position: %w", err)
	}
	return nil
}

// transition moves the order to next only when the state machine allows it.
// Illegal transitions are logged and dropped rather than corrupting a
// terminal row.
func (g *Gateway) transition(o *model.Order, next model.OrderStatus) {
	from := o.Status
	if from == "" {
		from = model.OrderPending
	}
	if !from.CanTransition(next) {
		g.log.WithFields(logrus.Fields{
			"order_id": o.ClientOrderID,
			"from":     from,
			"to":       next,
		}).Error("illegal order state transition dropped")
		return
	}
	o.Status = next
	o.UpdatedAt = time.Now()
}
