// Package rule evaluates trade rules against market and position state. The
// evaluator is pure: given the same rule, snapshot, and position it always
// returns the same decision, which keeps evaluations replayable.
package rule

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/yim1990/alpha-ai/internal/model"
)

var (
	// ErrNoMarketData is returned when the snapshot carries no usable price.
	ErrNoMarketData = errors.New("rule: no market data")
)

// Engine compiles and evaluates rule conditions. Compiled expressions are
// cached by source text, so repeated cycles do not re-parse.
type Engine struct {
	mu       sync.RWMutex
	compiled map[string]node
}

// NewEngine creates an evaluator with an empty compile cache.
func NewEngine() *Engine {
	return &Engine{compiled: map[string]node{}}
}

// Evaluate decides what, if anything, a rule wants to do right now. It never
// performs I/O and never mutates its inputs. Position caps are not checked
// here; authorization owns every limit.
func (e *Engine) Evaluate(r *model.TradeRule, md model.MarketData, pos *model.Position) (model.Decision, error) {
	d := model.Decision{RuleID: r.ID, Kind: model.DecideHold, Symbol: r.Symbol}

	if md.LastPrice.IsZero() {
		return d, ErrNoMarketData
	}

	env := &Env{Market: md, Position: pos}
	holding := pos != nil && pos.Quantity > 0

	if holding {
		exit, reason, err := e.exitTriggered(r, env)
		if err != nil {
			return d, err
		}
		if exit {
			d.Kind = model.DecideExit
			d.Quantity = pos.Quantity
			d.Score = env.pnlPct()
			d.Reason = reason
			return d, nil
		}
		d.Reason = "holding, exit conditions quiet"
		return d, nil
	}

	if strings.TrimSpace(r.EntryCondition) == "" {
		d.Reason = "no entry condition"
		return d, nil
	}
	enter, err := e.condition(r.EntryCondition, env)
	if err != nil {
		return d, fmt.Errorf("rule %s entry: %w", r.Name, err)
	}
	if !enter {
		d.Reason = "entry condition not met"
		return d, nil
	}

	qty := EntryQuantity(r.BuyAmountUSD, md.LastPrice)
	if qty < 1 {
		d.Reason = "buy amount below one share"
		return d, nil
	}

	d.Kind = model.DecideEnter
	d.Quantity = qty
	d.Score = md.ChangeRate.Abs()
	d.Reason = "entry condition met"
	return d, nil
}

// exitTriggered checks, in order, stop loss, take profit, then the rule's
// own exit expression. The first hit wins.
func (e *Engine) exitTriggered(r *model.TradeRule, env *Env) (bool, string, error) {
	pnl := env.pnlPct()

	if r.StopLossPct.IsPositive() && pnl.LessThanOrEqual(r.StopLossPct.Neg()) {
		return true, fmt.Sprintf("stop loss at %s%%", pnl.StringFixed(2)), nil
	}
	if r.TakeProfitPct.IsPositive() && pnl.GreaterThanOrEqual(r.TakeProfitPct) {
		return true, fmt.Sprintf("take profit at %s%%", pnl.StringFixed(2)), nil
	}

	if strings.TrimSpace(r.ExitCondition) == "" {
		return false, "", nil
	}
	hit, err := e.condition(r.ExitCondition, env)
	if err != nil {
		return false, "", fmt.Errorf("rule %s exit: %w", r.Name, err)
	}
	if hit {
		return true, "exit condition met", nil
	}
	return false, "", nil
}

// condition evaluates one boolean condition string, dispatching "@name" to
// the registered-function variant and everything else to the expression
// parser.
func (e *Engine) condition(src string, env *Env) (bool, error) {
	src = strings.TrimSpace(src)
	if name, ok := strings.CutPrefix(src, "@"); ok {
		fn, found := lookupCondition(name)
		if !found {
			return false, fmt.Errorf("rule: condition %q not registered", name)
		}
		return fn(env)
	}

	n, err := e.compile(src)
	if err != nil {
		return false, err
	}
	v, err := n.eval(env)
	if err != nil {
		return false, err
	}
	return v.asBool()
}

func (e *Engine) compile(src string) (node, error) {
	e.mu.RLock()
	n, ok := e.compiled[src]
	e.mu.RUnlock()
	if ok {
		return n, nil
	}

	n, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.compiled[src] = n
	e.mu.Unlock()
	return n, nil
}

// EntryQuantity is the share count a buy amount affords at the given price,
// rounded down to whole shares.
func EntryQuantity(buyAmount, price decimal.Decimal) int64 {
	if price.IsZero() {
		return 0
	}
	return buyAmount.Div(price).Floor().IntPart()
}
