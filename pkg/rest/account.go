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

// Position is one overseas-stock holding line from the balance inquiry.
type Position struct {
	Symbol       string
	Name         string
	Quantity     int64
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	MarketValue  decimal.Decimal
	ProfitLoss   decimal.Decimal
	ProfitRate   decimal.Decimal
}

// Execution is one fill record from the daily execution inquiry.
type Execution struct {
	BrokerOrderID string
	Symbol        string
	Side          Side
	Quantity      int64
	Price         decimal.Decimal
	ExecutedAt    time.Time
}

// BuyingPower summarizes how much cash the account can deploy for a symbol.
type BuyingPower struct {
	OrderableCash decimal.Decimal // USD orderable amount
	MaxQuantity   int64           // max orderable quantity at the given price
	ExchangeRate  decimal.Decimal
}

type balanceResponse struct {
	envelope
	Output1 []struct {
		Pdno       string `json:"ovrs_pdno"`
		Name       string `json:"ovrs_item_name"`
		Qty        string `json:"ovrs_cblc_qty"`
		AvgPrice   string `json:"pchs_avg_pric"`
		NowPrice   string `json:"now_pric2"`
		EvalAmount string `json:"ovrs_stck_evlu_amt"`
		ProfitLoss string `json:"frcr_evlu_pfls_amt"`
		ProfitRate string `json:"evlu_pfls_rt"`
	} `json:"output1"`
}

type executionsResponse struct {
	envelope
	Output []struct {
		Odno       string `json:"odno"`
		Pdno       string `json:"pdno"`
		SideCode   string `json:"sll_buy_dvsn_cd"` // 01 sell, 02 buy
		FilledQty  string `json:"ft_ccld_qty"`
		FilledPric string `json:"ft_ccld_unpr3"`
		OrderDate  string `json:"dmst_ord_dt"`
		FilledTime string `json:"ft_ccld_tmd"`
	} `json:"output"`
}

type buyingPowerResponse struct {
	envelope
	Output struct {
		OrderableCash string `json:"ovrs_ord_psbl_amt"`
		MaxQty        string `json:"max_ord_psbl_qty"`
		ExchangeRate  string `json:"exrt"`
	} `json:"output"`
}

// GetPositions fetches current holdings for the account.
func (c *Client) GetPositions(ctx context.Context, exchange string) ([]Position, error) {
	q := url.Values{}
	q.Set("CANO", c.cano)
	q.Set("ACNT_PRDT_CD", c.acntPrdtCd)
	q.Set("OVRS_EXCG_CD", exchange)
	q.Set("TR_CRCY_CD", "USD")
	q.Set("CTX_AREA_FK200", "")
	q.Set("CTX_AREA_NK200", "")

	body, err := c.call(ctx, callSpec{
		method: http.MethodGet,
		path:   "/uapi/overseas-stock/v1/trading/inquire-balance",
		trID:   c.trID(trBalance),
		query:  q,
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(body); err != nil {
		return nil, err
	}

	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("rest: unmarshal balance response: %w", err)
	}

	positions := make([]Position, 0, len(resp.Output1))
	for _, row := range resp.Output1 {
		qty := parseInt(row.Qty)
		if qty == 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:       row.Pdno,
			Name:         row.Name,
			Quantity:     qty,
			AvgPrice:     parseDecimal(row.AvgPrice),
			CurrentPrice: parseDecimal(row.NowPrice),
			MarketValue:  parseDecimal(row.EvalAmount),
			ProfitLoss:   parseDecimal(row.ProfitLoss),
			ProfitRate:   parseDecimal(row.ProfitRate),
		})
	}
	return positions, nil
}

// GetExecutions fetches fills between two dates, most recent first. An empty
// symbol returns fills for all symbols.
func (c *Client) GetExecutions(ctx context.Context, exchange, symbol string, from, to time.Time) ([]Execution, error) {
	q := url.Values{}
	q.Set("CANO", c.cano)
	q.Set("ACNT_PRDT_CD", c.acntPrdtCd)
	q.Set("PDNO", symbol)
	q.Set("ORD_STRT_DT", from.Format("20060102"))
	q.Set("ORD_END_DT", to.Format("20060102"))
	q.Set("SLL_BUY_DVSN", "00")
	q.Set("CCLD_NCCS_DVSN", "00")
	q.Set("OVRS_EXCG_CD", exchange)
	q.Set("SORT_SQN", "DS")
	q.Set("ORD_DT", "")
	q.Set("ORD_GNO_BRNO", "")
	q.Set("ODNO", "")
	q.Set("CTX_AREA_NK200", "")
	q.Set("CTX_AREA_FK200", "")

	body, err := c.call(ctx, callSpec{
		method: http.MethodGet,
		path:   "/uapi/overseas-stock/v1/trading/inquire-ccnl",
		trID:   c.trID(trExecutions),
		query:  q,
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(body); err != nil {
		return nil, err
	}

	var resp executionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("rest: unmarshal executions response: %w", err)
	}

	executions := make([]Execution, 0, len(resp.Output))
	for _, row := range resp.Output {
		side := SideSell
		if row.SideCode == "02" {
			side = SideBuy
		}
		executedAt, _ := time.ParseInLocation("20060102 150405", row.OrderDate+" "+row.FilledTime, easternTime)
		executions = append(executions, Execution{
			BrokerOrderID: row.Odno,
			Symbol:        row.Pdno,
			Side:          side,
			Quantity:      parseInt(row.FilledQty),
			Price:         parseDecimal(row.FilledPric),
			ExecutedAt:    executedAt,
		})
	}
	return executions, nil
}

// GetBuyingPower fetches the orderable USD amount for a symbol at a price.
func (c *Client) GetBuyingPower(ctx context.Context, exchange, symbol string, price decimal.Decimal) (*BuyingPower, error) {
	q := url.Values{}
	q.Set("CANO", c.cano)
	q.Set("ACNT_PRDT_CD", c.acntPrdtCd)
	q.Set("OVRS_EXCG_CD", exchange)
	q.Set("OVRS_ORD_UNPR", price.String())
	q.Set("ITEM_CD", symbol)

	body, err := c.call(ctx, callSpec{
		method: http.MethodGet,
		path:   "/uapi/overseas-stock/v1/trading/inquire-psamount",
		trID:   c.trID(trBuyingPower),
		query:  q,
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(body); err != nil {
		return nil, err
	}

	var resp buyingPowerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("rest: unmarshal buying power response: %w", err)
	}

	return &BuyingPower{
		OrderableCash: parseDecimal(resp.Output.OrderableCash),
		MaxQuantity:   parseInt(resp.Output.MaxQty),
		ExchangeRate:  parseDecimal(resp.Output.ExchangeRate),
	}, nil
}

// easternTime is the exchange timezone used on execution timestamps.
var easternTime = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseDecimal reads the broker's numeric string fields, which may be empty.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseInt(s string) int64 {
	return parseDecimal(s).IntPart()
}
