package risk

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/yim1990/alpha-ai/internal/market"
	"github.com/yim1990/alpha-ai/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func defaultLimits() Limits {
	return Limits{
		DailyNotionalCapUSD:    dec("25000"),
		MaxConsecutiveFailures: 3,
		FailureCooldown:        5 * time.Minute,
	}
}

func enterRequest() Request {
	rule := &model.TradeRule{
		ID:             uuid.New(),
		Name:           "aapl-dip",
		Symbol:         "AAPL",
		BuyAmountUSD:   dec("1000"),
		MaxPositionUSD: dec("5000"),
		Cooldown:       time.Minute,
	}
	return Request{
		Decision: model.Decision{RuleID: rule.ID, Kind: model.DecideEnter, Symbol: "AAPL", Quantity: 10},
		Rule:     rule,
		Price:    dec("97"),
		Session:  market.SessionRegular,
		Now:      time.Now(),
	}
}

func TestAllowCleanEntry(t *testing.T) {
	g := NewGuard(defaultLimits())
	res := g.Authorize(enterRequest())
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
}

func TestHoldAlwaysAllowed(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.Decision.Kind = model.DecideHold
	req.Session = market.SessionClosed
	assert.True(t, g.Authorize(req).Allowed)
}

func TestCooldownDeny(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	fired := req.Now.Add(-30 * time.Second)
	req.Rule.LastTriggeredAt = &fired

	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonCooldownActive, res.Reason)
}

func TestCooldownBoundary(t *testing.T) {
	// Exactly at the cooldown boundary the rule may fire again.
	g := NewGuard(defaultLimits())
	req := enterRequest()
	fired := req.Now.Add(-req.Rule.Cooldown)
	req.Rule.LastTriggeredAt = &fired

	assert.True(t, g.Authorize(req).Allowed)

	justInside := req.Now.Add(-req.Rule.Cooldown + time.Millisecond)
	req.Rule.LastTriggeredAt = &justInside
	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonCooldownActive, res.Reason)
}

func TestPositionCapDeny(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.Position = &model.Position{
		Symbol: "AAPL", Quantity: 45,
		AvgPrice: dec("97"), CurrentPrice: dec("97"),
	}
	// Held 45*97=4365 plus 10*97=970 exceeds the 5000 cap.
	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonPositionCap, res.Reason)
}

func TestPositionCapDominatesExpression(t *testing.T) {
	// A position already at cap denies entry no matter how strong the
	// signal that produced the decision was.
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.Decision.Score = dec("99")
	req.Position = &model.Position{Symbol: "AAPL", Quantity: 100, AvgPrice: dec("97"), CurrentPrice: dec("97")}

	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonPositionCap, res.Reason)
}

func TestPositionCapIgnoredForExit(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.Decision.Kind = model.DecideExit
	req.Position = &model.Position{Symbol: "AAPL", Quantity: 100, AvgPrice: dec("97"), CurrentPrice: dec("97")}
	assert.True(t, g.Authorize(req).Allowed, "exits reduce exposure and skip the caps")
}

func TestDailyCapDeny(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.TodayNotionalUSD = dec("24500")
	// 24500 + 970 > 25000.
	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonDailyCap, res.Reason)
}

func TestDailyCapDisabledWhenZero(t *testing.T) {
	limits := defaultLimits()
	limits.DailyNotionalCapUSD = decimal.Zero
	g := NewGuard(limits)
	req := enterRequest()
	req.TodayNotionalUSD = dec("1000000")
	assert.True(t, g.Authorize(req).Allowed)
}

func TestCheckOrderCooldownBeforeCaps(t *testing.T) {
	// Both cooldown and position cap would deny; cooldown is checked first.
	g := NewGuard(defaultLimits())
	req := enterRequest()
	fired := req.Now.Add(-time.Second)
	req.Rule.LastTriggeredAt = &fired
	req.Position = &model.Position{Symbol: "AAPL", Quantity: 100, AvgPrice: dec("97"), CurrentPrice: dec("97")}

	res := g.Authorize(req)
	assert.Equal(t, ReasonCooldownActive, res.Reason)
}

func TestSessionChecks(t *testing.T) {
	g := NewGuard(defaultLimits())

	req := enterRequest()
	req.Session = market.SessionClosed
	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonMarketClosed, res.Reason)

	req.Session = market.SessionPre
	res = g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonSessionBlocked, res.Reason)

	limits := defaultLimits()
	limits.AllowPreMarket = true
	req.Session = market.SessionPre
	assert.True(t, NewGuard(limits).Authorize(req).Allowed)

	req.Session = market.SessionAfter
	res = NewGuard(defaultLimits()).Authorize(req)
	assert.Equal(t, ReasonSessionBlocked, res.Reason)
}

func TestFailureBrake(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.ConsecutiveFailures = 3
	last := req.Now.Add(-time.Minute)
	req.LastFailureAt = &last

	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonFailureCooldown, res.Reason)

	// The brake releases once the cooldown window clears.
	cleared := req.Now.Add(-6 * time.Minute)
	req.LastFailureAt = &cleared
	assert.True(t, g.Authorize(req).Allowed)
}

func TestFailureBrakeBelowThreshold(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.ConsecutiveFailures = 2
	last := req.Now.Add(-time.Second)
	req.LastFailureAt = &last
	assert.True(t, g.Authorize(req).Allowed)
}

func TestEntryWithoutPrice(t *testing.T) {
	g := NewGuard(defaultLimits())
	req := enterRequest()
	req.Price = decimal.Zero
	res := g.Authorize(req)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonNoPrice, res.Reason)
}
