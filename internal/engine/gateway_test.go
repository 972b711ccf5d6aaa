package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yim1990/alpha-ai/internal/model"
	"github.com/yim1990/alpha-ai/internal/store"
	"github.com/yim1990/alpha-ai/pkg/rest"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeBroker struct {
	mu          sync.Mutex
	placed      []rest.PlaceOrderRequest
	cancelled   []string
	placeErr    error
	nextOrderID int
	executions  map[string][]rest.Execution // keyed by symbol
	quotes      map[string]rest.Quote
	quoteCalls  int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		executions: map[string][]rest.Execution{},
		quotes:     map[string]rest.Quote{},
	}
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, req rest.PlaceOrderRequest) (*rest.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return nil, b.placeErr
	}
	b.nextOrderID++
	b.placed = append(b.placed, req)
	return &rest.OrderResult{OrderID: fmt.Sprintf("ODNO%04d", b.nextOrderID)}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, exchange, symbol, brokerOrderID string, qty int64) (*rest.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, brokerOrderID)
	return &rest.OrderResult{OrderID: brokerOrderID}, nil
}

func (b *fakeBroker) AmendOrder(ctx context.Context, exchange, symbol, brokerOrderID string, qty int64, price decimal.Decimal) (*rest.OrderResult, error) {
	return &rest.OrderResult{OrderID: brokerOrderID}, nil
}

func (b *fakeBroker) GetPositions(ctx context.Context, exchange string) ([]rest.Position, error) {
	return nil, nil
}

func (b *fakeBroker) GetExecutions(ctx context.Context, exchange, symbol string, from, to time.Time) ([]rest.Execution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executions[symbol], nil
}

func (b *fakeBroker) GetBuyingPower(ctx context.Context, exchange, symbol string, price decimal.Decimal) (*rest.BuyingPower, error) {
	return &rest.BuyingPower{OrderableCash: dec("100000")}, nil
}

func (b *fakeBroker) GetQuote(ctx context.Context, priceExchange, symbol string) (*rest.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quoteCalls++
	q, ok := b.quotes[symbol]
	if !ok {
		return nil, &rest.APIError{StatusCode: 404, Message: "unknown symbol"}
	}
	return &q, nil
}

func (b *fakeBroker) placedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.placed)
}

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newGatewayFixture(t *testing.T) (*Gateway, *fakeBroker, *store.Store, *model.Account) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	account := &model.Account{Nickname: "main", Broker: "KIS", Market: "US", Enabled: true, HealthStatus: model.HealthHealthy}
	require.NoError(t, st.CreateAccount(account))

	broker := newFakeBroker()
	return NewGateway(st, broker, quietLog(), 15*time.Minute), broker, st, account
}

func buyOrder(account *model.Account, qty int64) *model.Order {
	return &model.Order{
		AccountID:   account.ID,
		Symbol:      "AAPL",
		Exchange:    "NASD",
		Side:        model.SideBuy,
		Quantity:    qty,
		TimeInForce: "IOC",
	}
}

func TestPlaceTransitionsToPlaced(t *testing.T) {
	g, broker, st, account := newGatewayFixture(t)

	o := buyOrder(account, 10)
	require.NoError(t, g.Place(context.Background(), o))

	assert.Equal(t, model.OrderPlaced, o.Status)
	assert.Equal(t, "ODNO0001", o.BrokerOrderID)
	assert.NotEmpty(t, o.ClientOrderID)
	assert.NotNil(t, o.PlacedAt)
	assert.Equal(t, 1, broker.placedCount())

	stored, err := st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPlaced, stored.Status)
	assert.Equal(t, "ODNO0001", stored.BrokerOrderID)
}

func TestPlaceRejectedOnClientError(t *testing.T) {
	g, broker, st, account := newGatewayFixture(t)
	broker.placeErr = &rest.APIError{StatusCode: 400, Code: "APBK0919", Message: "insufficient balance"}

	o := buyOrder(account, 10)
	err := g.Place(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, model.OrderRejected, o.Status)

	stored, err := st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderRejected, stored.Status)
	assert.Contains(t, stored.RawResponse, "insufficient balance")
}

func TestPlaceFailedOnTransportError(t *testing.T) {
	g, broker, _, account := newGatewayFixture(t)
	broker.placeErr = errors.New("dial tcp: connection refused")

	o := buyOrder(account, 10)
	err := g.Place(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, model.OrderFailed, o.Status)
}

func TestPlaceValidation(t *testing.T) {
	g, _, _, account := newGatewayFixture(t)

	o := buyOrder(account, 0)
	assert.ErrorIs(t, g.Place(context.Background(), o), ErrInvalidQuantity)

	o = buyOrder(account, 5)
	tooFine := dec("100.00001")
	o.Price = &tooFine
	assert.ErrorIs(t, g.Place(context.Background(), o), ErrInvalidPrice)

	o = buyOrder(account, 5)
	negative := dec("-1")
	o.Price = &negative
	assert.ErrorIs(t, g.Place(context.Background(), o), ErrInvalidPrice)
}

func TestPlaceRefusesResubmission(t *testing.T) {
	g, _, _, account := newGatewayFixture(t)
	o := buyOrder(account, 10)
	require.NoError(t, g.Place(context.Background(), o))
	assert.ErrorIs(t, g.Place(context.Background(), o), ErrNotPending)
}

func TestCancelOpenOrder(t *testing.T) {
	g, broker, st, account := newGatewayFixture(t)
	o := buyOrder(account, 10)
	require.NoError(t, g.Place(context.Background(), o))

	require.NoError(t, g.Cancel(context.Background(), o))
	assert.Equal(t, model.OrderCancelled, o.Status)
	assert.Equal(t, []string{"ODNO0001"}, broker.cancelled)

	open, err := st.ListOpenOrders(account.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.ErrorIs(t, g.Cancel(context.Background(), o), ErrNotOpen)
}

func TestReconcilePartialThenFull(t *testing.T) {
	g, broker, st, account := newGatewayFixture(t)
	o := buyOrder(account, 10)
	require.NoError(t, g.Place(context.Background(), o))
	now := time.Now()

	broker.executions["AAPL"] = []rest.Execution{
		{BrokerOrderID: "ODNO0001", Symbol: "AAPL", Side: rest.SideBuy, Quantity: 4, Price: dec("97.10")},
	}
	require.NoError(t, g.Reconcile(context.Background(), account.ID, now))

	stored, err := st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPartiallyFilled, stored.Status)
	assert.Equal(t, int64(4), stored.FilledQuantity)

	pos, err := st.GetPosition(account.ID, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos.Quantity)
	assert.Equal(t, "97.1", pos.AvgPrice.String())

	broker.executions["AAPL"] = append(broker.executions["AAPL"],
		rest.Execution{BrokerOrderID: "ODNO0001", Symbol: "AAPL", Side: rest.SideBuy, Quantity: 6, Price: dec("97.30")})
	require.NoError(t, g.Reconcile(context.Background(), account.ID, now))

	stored, err = st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, stored.Status)
	assert.Equal(t, int64(10), stored.FilledQuantity)
	// 4*97.10 + 6*97.30 over 10 shares.
	assert.Equal(t, "97.22", stored.AvgFillPrice.String())
	assert.NotNil(t, stored.FilledAt)

	pos, err = st.GetPosition(account.ID, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.Equal(t, "97.22", pos.AvgPrice.String())
}

func TestReconcileSellDrawsDownPosition(t *testing.T) {
	g, broker, st, account := newGatewayFixture(t)

	require.NoError(t, st.UpsertPosition(&model.Position{
		AccountID: account.ID, Symbol: "AAPL", Quantity: 10,
		AvgPrice: dec("97"), CurrentPrice: dec("103"), OpenedAt: time.Now(),
	}))

	o := buyOrder(account, 10)
	o.Side = model.SideSell
	require.NoError(t, g.Place(context.Background(), o))

	broker.executions["AAPL"] = []rest.Execution{
		{BrokerOrderID: "ODNO0001", Symbol: "AAPL", Side: rest.SideSell, Quantity: 10, Price: dec("103")},
	}
	require.NoError(t, g.Reconcile(context.Background(), account.ID, time.Now()))

	stored, err := st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, stored.Status)

	// The position row is removed once quantity reaches zero.
	_, err = st.GetPosition(account.ID, "AAPL")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReconcileSweepsStaleOrders(t *testing.T) {
	g, _, st, account := newGatewayFixture(t)
	o := buyOrder(account, 10)
	require.NoError(t, g.Place(context.Background(), o))

	// No executions reported and the order is older than the stale age.
	old := time.Now().Add(-time.Hour)
	o.PlacedAt = &old
	require.NoError(t, st.UpdateOrder(o))

	require.NoError(t, g.Reconcile(context.Background(), account.ID, time.Now()))

	stored, err := st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)
}

func TestReconcileLeavesFreshUnreportedOrders(t *testing.T) {
	g, _, st, account := newGatewayFixture(t)
	o := buyOrder(account, 10)
	require.NoError(t, g.Place(context.Background(), o))

	require.NoError(t, g.Reconcile(context.Background(), account.ID, time.Now()))

	stored, err := st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPlaced, stored.Status, "young orders wait for the broker")
}

func TestTerminalOrdersStayTerminal(t *testing.T) {
	g, broker, st, account := newGatewayFixture(t)
	o := buyOrder(account, 10)
	require.NoError(t, g.Place(context.Background(), o))
	require.NoError(t, g.Cancel(context.Background(), o))

	// A late execution report for a cancelled order must not resurrect it.
	broker.executions["AAPL"] = []rest.Execution{
		{BrokerOrderID: "ODNO0001", Symbol: "AAPL", Side: rest.SideBuy, Quantity: 10, Price: dec("97")},
	}
	require.NoError(t, g.Reconcile(context.Background(), account.ID, time.Now()))

	stored, err := st.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, stored.Status)
}
