package rule

import (
	"github.com/shopspring/decimal"

	"github.com/yim1990/alpha-ai/internal/model"
)

// Env is the read-only evaluation context a condition sees. It exposes the
// current market snapshot and the open position (nil when flat); nothing in
// it can be mutated by a condition.
type Env struct {
	Market   model.MarketData
	Position *model.Position
}

var hundred = decimal.NewFromInt(100)

// field resolves one identifier to a numeric value. Aliases cover the names
// rule authors actually write.
func (e *Env) field(name string) (decimal.Decimal, bool) {
	switch name {
	case "price", "last_price", "last":
		return e.Market.LastPrice, true
	case "previous_close", "prev_close":
		return e.Market.PreviousClose, true
	case "change":
		return e.Market.Change, true
	case "change_rate", "rate":
		return e.Market.ChangeRate, true
	case "volume":
		return decimal.NewFromInt(e.Market.Volume), true
	case "bid", "bid_price":
		return e.Market.BidPrice, true
	case "bid_size":
		return decimal.NewFromInt(e.Market.BidSize), true
	case "ask", "ask_price":
		return e.Market.AskPrice, true
	case "ask_size":
		return decimal.NewFromInt(e.Market.AskSize), true
	case "position_qty", "qty":
		if e.Position == nil {
			return decimal.Zero, true
		}
		return decimal.NewFromInt(e.Position.Quantity), true
	case "avg_price", "position_avg_price":
		if e.Position == nil {
			return decimal.Zero, true
		}
		return e.Position.AvgPrice, true
	case "position_value":
		if e.Position == nil {
			return decimal.Zero, true
		}
		return e.Position.MarketValue(), true
	case "pnl_pct":
		return e.pnlPct(), true
	}
	return decimal.Decimal{}, false
}

// pnlPct is the unrealized gain of the open position as a percentage of its
// average entry price. Zero when flat or when the entry price is unknown.
func (e *Env) pnlPct() decimal.Decimal {
	if e.Position == nil || e.Position.AvgPrice.IsZero() {
		return decimal.Zero
	}
	price := e.Market.LastPrice
	if price.IsZero() {
		price = e.Position.CurrentPrice
	}
	if price.IsZero() {
		return decimal.Zero
	}
	return price.Sub(e.Position.AvgPrice).Div(e.Position.AvgPrice).Mul(hundred)
}
