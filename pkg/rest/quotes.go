package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const trCurrentPrice = "HHDFS00000300"

// Price-inquiry exchange codes. These differ from the order exchange codes.
const (
	PriceExchangeNAS = "NAS"
	PriceExchangeNYS = "NYS"
	PriceExchangeAMS = "AMS"
)

// Quote is an on-demand price snapshot from the quotations endpoint. It is
// the polling fallback used when the realtime feed is unavailable.
type Quote struct {
	Symbol        string
	Last          decimal.Decimal
	PreviousClose decimal.Decimal
	Change        decimal.Decimal
	ChangeRate    decimal.Decimal
	Volume        int64
	AsOf          time.Time
}

type quoteResponse struct {
	envelope
	Output struct {
		Rsym string `json:"rsym"`
		Last string `json:"last"`
		Base string `json:"base"`
		Diff string `json:"diff"`
		Rate string `json:"rate"`
		Sign string `json:"sign"`
		Tvol string `json:"tvol"`
	} `json:"output"`
}

// PriceExchange maps an order exchange code to its price-inquiry code.
func PriceExchange(orderExchange string) string {
	switch orderExchange {
	case ExchangeNYSE:
		return PriceExchangeNYS
	case ExchangeAMEX:
		return PriceExchangeAMS
	default:
		return PriceExchangeNAS
	}
}

// GetQuote fetches the current price for a symbol.
func (c *Client) GetQuote(ctx context.Context, priceExchange, symbol string) (*Quote, error) {
	q := url.Values{}
	q.Set("AUTH", "")
	q.Set("EXCD", priceExchange)
	q.Set("SYMB", symbol)

	body, err := c.call(ctx, callSpec{
		method: http.MethodGet,
		path:   "/uapi/overseas-price/v1/quotations/price",
		trID:   trCurrentPrice,
		query:  q,
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(body); err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("rest: unmarshal quote response: %w", err)
	}

	change := parseDecimal(resp.Output.Diff)
	// sign codes 4 and 5 mean the price moved down.
	if resp.Output.Sign == "4" || resp.Output.Sign == "5" {
		change = change.Neg()
	}

	return &Quote{
		Symbol:        symbol,
		Last:          parseDecimal(resp.Output.Last),
		PreviousClose: parseDecimal(resp.Output.Base),
		Change:        change,
		ChangeRate:    parseDecimal(resp.Output.Rate),
		Volume:        parseInt(resp.Output.Tvol),
		AsOf:          time.Now(),
	}, nil
}
