// Package risk authorizes trading decisions before they reach the broker.
// Every limit lives here; evaluation stays strategy-pure and the gateway
// trusts whatever the guard lets through.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yim1990/alpha-ai/internal/market"
	"github.com/yim1990/alpha-ai/internal/model"
)

// Reason is a machine-readable denial code, stable for logs and metrics.
type Reason string

const (
	ReasonCooldownActive  Reason = "cooldown_active"
	ReasonPositionCap     Reason = "position_cap_exceeded"
	ReasonDailyCap        Reason = "daily_cap_exceeded"
	ReasonMarketClosed    Reason = "market_closed"
	ReasonSessionBlocked  Reason = "session_not_allowed"
	ReasonFailureCooldown Reason = "failure_cooldown"
	ReasonNoPrice         Reason = "no_price"
)

// Result is the guard's verdict. A denial is control flow, not an error.
type Result struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

func allow() Result { return Result{Allowed: true} }

func deny(reason Reason, format string, args ...any) Result {
	return Result{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Limits are the account-wide ceilings, sourced from engine config.
type Limits struct {
	DailyNotionalCapUSD    decimal.Decimal // zero disables the cap
	MaxConsecutiveFailures int             // zero disables the failure brake
	FailureCooldown        time.Duration
	AllowPreMarket         bool
	AllowAfterHours        bool
}

// Request carries everything one authorization needs. The caller assembles
// it from durable state so the guard itself never touches storage.
type Request struct {
	Decision model.Decision
	Rule     *model.TradeRule
	Position *model.Position // nil when flat
	Price    decimal.Decimal // price used for notional math

	TodayNotionalUSD    decimal.Decimal // account's cumulative buys today
	ConsecutiveFailures int
	LastFailureAt       *time.Time

	Session market.Session
	Now     time.Time
}

// Guard applies the account's limits to decisions.
type Guard struct {
	limits Limits
}

// NewGuard creates a guard with fixed limits.
func NewGuard(limits Limits) *Guard {
	return &Guard{limits: limits}
}

// Authorize runs the checks in a fixed order and stops at the first
// failure: rule cooldown, position cap, daily notional cap, session hours,
// consecutive-failure brake. HOLD decisions pass trivially.
func (g *Guard) Authorize(req Request) Result {
	if req.Decision.Kind == model.DecideHold {
		return allow()
	}

	if req.Rule.InCooldown(req.Now) {
		remaining := req.Rule.Cooldown - req.Now.Sub(*req.Rule.LastTriggeredAt)
		return deny(ReasonCooldownActive, "rule %s cooling down for %s", req.Rule.Name, remaining.Round(time.Second))
	}

	if req.Decision.Kind == model.DecideEnter {
		if req.Price.IsZero() {
			return deny(ReasonNoPrice, "no price for %s", req.Decision.Symbol)
		}
		if r := g.checkPositionCap(req); !r.Allowed {
			return r
		}
		if r := g.checkDailyCap(req); !r.Allowed {
			return r
		}
	}

	if r := g.checkSession(req.Session); !r.Allowed {
		return r
	}

	return g.checkFailureBrake(req)
}

// checkPositionCap rejects entries whose resulting position value would
// exceed the rule's ceiling.
func (g *Guard) checkPositionCap(req Request) Result {
	if !req.Rule.MaxPositionUSD.IsPositive() {
		return allow()
	}

	held := decimal.Zero
	if req.Position != nil {
		held = req.Position.MarketValue()
	}
	added := req.Price.Mul(decimal.NewFromInt(req.Decision.Quantity))
	resulting := held.Add(added)

	if resulting.GreaterThan(req.Rule.MaxPositionUSD) {
		return deny(ReasonPositionCap, "resulting position %s exceeds cap %s",
			resulting.StringFixed(2), req.Rule.MaxPositionUSD.StringFixed(2))
	}
	return allow()
}

func (g *Guard) checkDailyCap(req Request) Result {
	if !g.limits.DailyNotionalCapUSD.IsPositive() {
		return allow()
	}

	added := req.Price.Mul(decimal.NewFromInt(req.Decision.Quantity))
	total := req.TodayNotionalUSD.Add(added)

	if total.GreaterThan(g.limits.DailyNotionalCapUSD) {
		return deny(ReasonDailyCap, "daily notional %s would exceed cap %s",
			total.StringFixed(2), g.limits.DailyNotionalCapUSD.StringFixed(2))
	}
	return allow()
}

func (g *Guard) checkSession(s market.Session) Result {
	switch s {
	case market.SessionRegular:
		return allow()
	case market.SessionPre:
		if g.limits.AllowPreMarket {
			return allow()
		}
		return deny(ReasonSessionBlocked, "pre-market trading disabled")
	case market.SessionAfter:
		if g.limits.AllowAfterHours {
			return allow()
		}
		return deny(ReasonSessionBlocked, "after-hours trading disabled")
	default:
		return deny(ReasonMarketClosed, "market closed")
	}
}

// checkFailureBrake pauses an account that keeps failing orders until the
// cooldown since the last failure elapses.
func (g *Guard) checkFailureBrake(req Request) Result {
	if g.limits.MaxConsecutiveFailures <= 0 {
		return allow()
	}
	if req.ConsecutiveFailures < g.limits.MaxConsecutiveFailures {
		return allow()
	}
	if req.LastFailureAt == nil {
		return allow()
	}
	elapsed := req.Now.Sub(*req.LastFailureAt)
	if elapsed < g.limits.FailureCooldown {
		return deny(ReasonFailureCooldown, "%d consecutive failures, pausing for %s",
			req.ConsecutiveFailures, (g.limits.FailureCooldown - elapsed).Round(time.Second))
	}
	return allow()
}
