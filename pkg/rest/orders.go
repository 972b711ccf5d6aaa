package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Side represents the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType represents the broker order type code.
type OrderType string

const (
	OrderTypeLimit  OrderType = "00"
	OrderTypeMarket OrderType = "01"
)

// tr_id codes for overseas-stock trading calls (production form; sandbox
// variants swap the leading T for V).
const (
	trOrderBuy    = "TTTT1002U"
	trOrderSell   = "TTTT1001U"
	trOrderRevise = "TTTT1004U"
	trBalance     = "TTTC8001R"
	trExecutions  = "TTTS3012R"
	trBuyingPower = "TTRP6504R"
)

// Exchange codes accepted on order endpoints.
const (
	ExchangeNASD = "NASD"
	ExchangeNYSE = "NYSE"
	ExchangeAMEX = "AMEX"
)

// PlaceOrderRequest describes a new overseas-stock order. A zero Price with
// OrderTypeMarket places a market order.
type PlaceOrderRequest struct {
	Exchange string // OVRS_EXCG_CD, e.g. ExchangeNASD
	Symbol   string
	Side     Side
	Quantity int64
	Price    decimal.Decimal
	Type     OrderType
}

// OrderResult is the broker's acknowledgement of an order mutation.
type OrderResult struct {
	OrderID   string // broker order number (ODNO)
	OrderTime string // broker order timestamp (ORD_TMD)
	Raw       json.RawMessage
}

type orderBody struct {
	CANO         string `json:"CANO"`
	AcntPrdtCd   string `json:"ACNT_PRDT_CD"`
	OvrsExcgCd   string `json:"OVRS_EXCG_CD"`
	PDNO         string `json:"PDNO"`
	OrdQty       string `json:"ORD_QTY"`
	OvrsOrdUnpr  string `json:"OVRS_ORD_UNPR"`
	OrdSvrDvsnCd string `json:"ORD_SVR_DVSN_CD"`
	OrdDvsn      string `json:"ORD_DVSN"`
}

type reviseBody struct {
	CANO           string `json:"CANO"`
	AcntPrdtCd     string `json:"ACNT_PRDT_CD"`
	OvrsExcgCd     string `json:"OVRS_EXCG_CD"`
	PDNO           string `json:"PDNO"`
	OrgnOdno       string `json:"ORGN_ODNO"`
	RvseCnclDvsnCd string `json:"RVSE_CNCL_DVSN_CD"` // 01 amend, 02 cancel
	OrdQty         string `json:"ORD_QTY"`
	OvrsOrdUnpr    string `json:"OVRS_ORD_UNPR,omitempty"`
}

type orderResponse struct {
	envelope
	Output struct {
		Odno   string `json:"ODNO"`
		OrdTmd string `json:"ORD_TMD"`
	} `json:"output"`
}

// PlaceOrder submits a new order. The request body is serialized once,
// signed with the hashkey, and the identical bytes and signature are reused
// on every retry so the broker can deduplicate a lost-response attempt.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("rest: order quantity must be positive, got %d", req.Quantity)
	}
	if req.Type == "" {
		req.Type = OrderTypeLimit
		if req.Price.IsZero() {
			req.Type = OrderTypeMarket
		}
	}

	exchange := req.Exchange
	if exchange == "" {
		exchange = ExchangeNASD
	}

	body := orderBody{
		CANO:         c.cano,
		AcntPrdtCd:   c.acntPrdtCd,
		OvrsExcgCd:   exchange,
		PDNO:         req.Symbol,
		OrdQty:       fmt.Sprintf("%d", req.Quantity),
		OvrsOrdUnpr:  "0",
		OrdSvrDvsnCd: "0",
		OrdDvsn:      string(req.Type),
	}
	if !req.Price.IsZero() {
		body.OvrsOrdUnpr = req.Price.String()
	}

	trID := trOrderBuy
	if req.Side == SideSell {
		trID = trOrderSell
	}

	return c.submitOrder(ctx, "/uapi/overseas-stock/v1/trading/order", c.trID(trID), body)
}

// CancelOrder cancels an open order by its broker order number.
func (c *Client) CancelOrder(ctx context.Context, exchange, symbol, brokerOrderID string, qty int64) (*OrderResult, error) {
	body := reviseBody{
		CANO:           c.cano,
		AcntPrdtCd:     c.acntPrdtCd,
		OvrsExcgCd:     exchange,
		PDNO:           symbol,
		OrgnOdno:       brokerOrderID,
		RvseCnclDvsnCd: "02",
		OrdQty:         fmt.Sprintf("%d", qty),
	}
	return c.submitOrder(ctx, "/uapi/overseas-stock/v1/trading/order-rvsecncl", c.trID(trOrderRevise), body)
}

// AmendOrder revises the price of an open order.
func (c *Client) AmendOrder(ctx context.Context, exchange, symbol, brokerOrderID string, qty int64, price decimal.Decimal) (*OrderResult, error) {
	body := reviseBody{
		CANO:           c.cano,
		AcntPrdtCd:     c.acntPrdtCd,
		OvrsExcgCd:     exchange,
		PDNO:           symbol,
		OrgnOdno:       brokerOrderID,
		RvseCnclDvsnCd: "01",
		OrdQty:         fmt.Sprintf("%d", qty),
		OvrsOrdUnpr:    price.String(),
	}
	return c.submitOrder(ctx, "/uapi/overseas-stock/v1/trading/order-rvsecncl", c.trID(trOrderRevise), body)
}

// submitOrder signs and executes a mutating order call.
func (c *Client) submitOrder(ctx context.Context, path, trID string, payload any) (*OrderResult, error) {
	hashkey, body, err := c.signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	respBody, err := c.call(ctx, callSpec{
		method:  http.MethodPost,
		path:    path,
		trID:    trID,
		body:    body,
		hashkey: hashkey,
		auth:    true,
		mutate:  true,
	})
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(respBody); err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("rest: unmarshal order response: %w", err)
	}

	return &OrderResult{
		OrderID:   resp.Output.Odno,
		OrderTime: resp.Output.OrdTmd,
		Raw:       json.RawMessage(respBody),
	}, nil
}
