package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yim1990/alpha-ai/internal/config"
	"github.com/yim1990/alpha-ai/internal/market"
	"github.com/yim1990/alpha-ai/internal/model"
	"github.com/yim1990/alpha-ai/internal/risk"
	"github.com/yim1990/alpha-ai/internal/rule"
	"github.com/yim1990/alpha-ai/internal/store"
	"github.com/yim1990/alpha-ai/pkg/rest"
)

// TokenProvider supplies a valid token before each cycle and revokes it when
// the account shuts down.
type TokenProvider interface {
	EnsureToken(ctx context.Context) (rest.AccessToken, error)
	Revoke(ctx context.Context) error
}

// MarketFeed is the slice of the feed the worker drives.
type MarketFeed interface {
	Track(ctx context.Context, symbol, exchange string) error
	Connected() bool
}

// Worker runs the trading loop for one account: ensure token, refresh
// market state, evaluate rules, authorize and route, reconcile fills,
// checkpoint. Rules fail independently; one broken rule never stops the
// rest of the cycle.
type Worker struct {
	account  model.Account
	store    *store.Store
	tokens   TokenProvider
	gateway  *Gateway
	rules    *rule.Engine
	guard    *risk.Guard
	calendar *market.Calendar
	cache    *market.Cache
	feed     MarketFeed
	cfg      config.Engine
	log      *logrus.Entry

	cursor              int64
	consecutiveFailures int
	lastFailureAt       *time.Time
}

// NewWorker assembles a worker from its collaborators.
func NewWorker(
	account model.Account,
	st *store.Store,
	tokens TokenProvider,
	gateway *Gateway,
	rules *rule.Engine,
	guard *risk.Guard,
	calendar *market.Calendar,
	cache *market.Cache,
	feed MarketFeed,
	cfg config.Engine,
	log *logrus.Entry,
) *Worker {
	return &Worker{
		account:  account,
		store:    st,
		tokens:   tokens,
		gateway:  gateway,
		rules:    rules,
		guard:    guard,
		calendar: calendar,
		cache:    cache,
		feed:     feed,
		cfg:      cfg,
		log:      log,
	}
}

// Run restores the last checkpoint and cycles until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.restore()

	ticker := time.NewTicker(w.cfg.CycleInterval)
	defer ticker.Stop()

	w.log.WithField("cursor", w.cursor).Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		case <-ticker.C:
			w.Cycle(ctx, time.Now())
		}
	}
}

// restore loads the last checkpoint. A missing checkpoint is a first run; a
// corrupt one falls back to a clean baseline so the worker still comes up.
func (w *Worker) restore() {
	cp, err := w.store.GetCheckpoint(w.account.ID)
	if errors.Is(err, store.ErrNotFound) {
		w.cursor = 0
		return
	}
	if err != nil {
		w.cursor = 0
		w.log.WithError(err).Warn("checkpoint unreadable, starting from clean baseline")
		w.record(model.LevelWarning, "worker", "checkpoint unreadable, starting from clean baseline", nil, "")
		return
	}
	w.cursor = cp.EventCursor
}

// Cycle runs one full pass. Every step that fails is recorded and the cycle
// moves on where that is safe; a missing token aborts the pass because
// nothing downstream can work without it.
func (w *Worker) Cycle(ctx context.Context, now time.Time) {
	if _, err := w.tokens.EnsureToken(ctx); err != nil {
		w.log.WithError(err).Error("token unavailable, skipping cycle")
		w.record(model.LevelError, "auth", "token unavailable: "+err.Error(), nil, rest.BrokerCode(err))
		return
	}

	rules, err := w.store.ListEnabledRules(w.account.ID)
	if err != nil {
		w.log.WithError(err).Error("failed to load rules")
		return
	}

	w.refreshMarketState(ctx, rules)

	session := w.calendar.SessionAt(now)
	todayNotional := w.todayNotional(now)
	for i := range rules {
		placed := w.processRule(ctx, &rules[i], session, todayNotional, now)
		todayNotional = todayNotional.Add(placed)
	}

	if err := w.gateway.Reconcile(ctx, w.account.ID, now); err != nil {
		w.log.WithError(err).Error("fill reconciliation failed")
		w.record(model.LevelError, "order", "fill reconciliation failed: "+err.Error(), nil, rest.BrokerCode(err))
	}

	w.checkpoint(now)
}

// refreshMarketState makes sure every rule's symbol is tracked by the feed.
func (w *Worker) refreshMarketState(ctx context.Context, rules []model.TradeRule) {
	if w.feed == nil {
		return
	}
	for _, r := range rules {
		if err := w.feed.Track(ctx, r.Symbol, r.Exchange); err != nil {
			w.log.WithError(err).WithField("symbol", r.Symbol).Warn("failed to track symbol")
		}
	}
}

// processRule evaluates and, when allowed, routes one rule. Errors are
// contained here so sibling rules still run. It returns the notional the
// rule just committed to a buy, so the daily cap tightens as sibling
// rules fire within the same pass.
func (w *Worker) processRule(ctx context.Context, r *model.TradeRule, session market.Session, todayNotional decimal.Decimal, now time.Time) decimal.Decimal {
	log := w.log.WithField("rule", r.Name)

	md, ok := w.cache.Snapshot(r.Symbol)
	if !ok {
		log.Debug("no market data yet")
		return decimal.Zero
	}

	pos, err := w.store.GetPosition(w.account.ID, r.Symbol)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Error("failed to load position")
		return decimal.Zero
	}
	if errors.Is(err, store.ErrNotFound) {
		pos = nil
	}

	decision, err := w.rules.Evaluate(r, md, pos)
	if err != nil {
		log.WithError(err).Error("rule evaluation failed")
		w.record(model.LevelError, "worker", "rule evaluation failed: "+err.Error(), &r.ID, "")
		return decimal.Zero
	}
	if decision.Kind == model.DecideHold {
		return decimal.Zero
	}

	verdict := w.guard.Authorize(risk.Request{
		Decision:            decision,
		Rule:                r,
		Position:            pos,
		Price:               md.LastPrice,
		TodayNotionalUSD:    todayNotional,
		ConsecutiveFailures: w.consecutiveFailures,
		LastFailureAt:       w.lastFailureAt,
		Session:             session,
		Now:                 now,
	})
	if !verdict.Allowed {
		log.WithFields(logrus.Fields{"reason": verdict.Reason, "detail": verdict.Detail}).Info("decision denied")
		w.record(model.LevelInfo, "risk", verdict.Detail, &r.ID, string(verdict.Reason))
		return decimal.Zero
	}

	return w.route(ctx, r, decision, md.LastPrice, now)
}

// route turns an authorized decision into a market order and submits it,
// returning the notional a successful buy committed at the submission
// price.
func (w *Worker) route(ctx context.Context, r *model.TradeRule, d model.Decision, price decimal.Decimal, now time.Time) decimal.Decimal {
	side := model.SideBuy
	if d.Kind == model.DecideExit {
		side = model.SideSell
	}
	order := &model.Order{
		AccountID:   w.account.ID,
		RuleID:      &r.ID,
		Symbol:      d.Symbol,
		Exchange:    r.Exchange,
		Side:        side,
		Quantity:    d.Quantity,
		TimeInForce: r.TimeInForce,
	}

	if err := w.gateway.Place(ctx, order); err != nil {
		w.consecutiveFailures++
		w.lastFailureAt = &now
		w.log.WithError(err).WithField("rule", r.Name).Error("order placement failed")
		w.record(model.LevelError, "order", "order placement failed: "+err.Error(), &r.ID, rest.BrokerCode(err))
		return decimal.Zero
	}

	w.consecutiveFailures = 0
	w.lastFailureAt = nil
	if err := w.store.MarkRuleTriggered(r.ID, now); err != nil {
		w.log.WithError(err).Error("failed to mark rule triggered")
	}
	w.record(model.LevelInfo, "order", fmt.Sprintf("%s %d %s (%s)", side, d.Quantity, d.Symbol, d.Reason), &r.ID, "")
	if side != model.SideBuy {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(d.Quantity))
}

// todayNotional sums what the account has committed to buys since the start
// of the exchange trading day. Rejected and failed submissions never bound
// capital; everything else counts at its best known price.
func (w *Worker) todayNotional(now time.Time) decimal.Decimal {
	orders, err := w.store.ListOrdersSince(w.account.ID, market.StartOfTradingDay(now))
	if err != nil {
		w.log.WithError(err).Error("failed to total today's orders")
		return decimal.Zero
	}

	total := decimal.Zero
	for _, o := range orders {
		if o.Side != model.SideBuy {
			continue
		}
		switch o.Status {
		case model.OrderRejected, model.OrderFailed:
			continue
		}
		price := decimal.Zero
		switch {
		case o.AvgFillPrice != nil:
			price = *o.AvgFillPrice
		case o.Price != nil:
			price = *o.Price
		default:
			// Open market orders carry no price of their own; value
			// them at the last known print so unfilled buys still
			// bound capital.
			if md, ok := w.cache.Snapshot(o.Symbol); ok {
				price = md.LastPrice
			}
		}
		total = total.Add(price.Mul(decimal.NewFromInt(o.Quantity)))
	}
	return total
}

// checkpoint advances the durable cursor and heartbeat after a completed
// pass.
func (w *Worker) checkpoint(now time.Time) {
	w.cursor++
	if err := w.store.SaveCheckpoint(&model.WorkerCheckpoint{
		AccountID:   w.account.ID,
		EventCursor: w.cursor,
		LastCycleAt: now,
	}); err != nil {
		w.cursor--
		w.log.WithError(err).Error("failed to save checkpoint")
		return
	}
	if err := w.store.Heartbeat(w.account.ID, now); err != nil {
		w.log.WithError(err).Error("failed to write heartbeat")
	}
}

// Cursor exposes the checkpoint cursor for observability.
func (w *Worker) Cursor() int64 { return w.cursor }

func (w *Worker) record(level model.LogLevel, category, message string, ruleID *uuid.UUID, errorCode string) {
	entry := &model.ExecutionLog{
		AccountID: w.account.ID,
		RuleID:    ruleID,
		Level:     level,
		Category:  category,
		Message:   message,
		ErrorCode: errorCode,
	}
	if err := w.store.AppendLog(entry); err != nil {
		w.log.WithError(err).Error("failed to append execution log")
	}
}
