package ws

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Wire constants for the realtime protocol.
const (
	// TrIDPingPong is the keepalive tr_id; the server expects each ping
	// frame to be echoed back.
	TrIDPingPong = "PINGPONG"

	// RspCodeOK is the success response code on control frames.
	RspCodeOK = "0000"

	trTypeSubscribe   = "1"
	trTypeUnsubscribe = "2"
)

// subscribeFrame is the registration message sent for each channel/symbol
// pair. The same shape with tr_type "2" cancels the registration.
type subscribeFrame struct {
	Header subscribeHeader `json:"header"`
	Body   subscribeBody   `json:"body"`
}

type subscribeHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type subscribeBody struct {
	Input subscribeInput `json:"input"`
}

type subscribeInput struct {
	TrID  Channel `json:"tr_id"`
	TrKey string  `json:"tr_key"`
}

func newSubscribeFrame(approvalKey string, trType string, channel Channel, symbol string) subscribeFrame {
	return subscribeFrame{
		Header: subscribeHeader{
			ApprovalKey: approvalKey,
			CustType:    "P",
			TrType:      trType,
			ContentType: "utf-8",
		},
		Body: subscribeBody{
			Input: subscribeInput{TrID: channel, TrKey: symbol},
		},
	}
}

// pingFrame is the keepalive message. The server sends the same shape and
// expects it echoed.
type pingFrame struct {
	Header pingHeader `json:"header"`
}

type pingHeader struct {
	TrID string `json:"tr_id"`
}

// Frame is a parsed incoming message.
type Frame struct {
	Header FrameHeader `json:"header"`
	Body   FrameBody   `json:"body"`
}

// FrameHeader carries the routing and response fields of an incoming frame.
type FrameHeader struct {
	TrID   string `json:"tr_id"`
	RspCd  string `json:"rsp_cd"`
	RspMsg string `json:"rsp_msg"`
}

// FrameBody carries the payload of a data frame.
type FrameBody struct {
	Output tickOutput `json:"output"`
}

type tickOutput struct {
	Symb string `json:"symb"`

	// Quote fields (H0STCNT0).
	Bidp string `json:"bidp"`
	Bidv string `json:"bidv"`
	Askp string `json:"askp"`
	Askv string `json:"askv"`

	// Execution fields (H0STCNI0).
	Last string `json:"last"`
	Tvol string `json:"tvol"`
	Cvol string `json:"cvol"`
	Diff string `json:"diff"`
	Rate string `json:"rate"`
}

// IsPing returns true for keepalive frames.
func (f *Frame) IsPing() bool {
	return f.Header.TrID == TrIDPingPong
}

// IsError returns true when a control frame carries a non-success response
// code. Data frames have no response code and are never errors.
func (f *Frame) IsError() bool {
	return f.Header.RspCd != "" && f.Header.RspCd != RspCodeOK
}

// Tick is one realtime market data update.
type Tick struct {
	Symbol  string
	Channel Channel

	// Quote fields.
	BidPrice decimal.Decimal
	BidSize  int64
	AskPrice decimal.Decimal
	AskSize  int64

	// Execution fields.
	LastPrice  decimal.Decimal
	LastSize   int64
	Volume     int64
	Change     decimal.Decimal
	ChangeRate decimal.Decimal

	ReceivedAt time.Time
}

// ParseFrame parses a raw incoming message.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Tick extracts a market data tick from a data frame. The second return is
// false for control and keepalive frames.
func (f *Frame) Tick(now time.Time) (Tick, bool) {
	channel := Channel(f.Header.TrID)
	if !channel.IsValid() {
		return Tick{}, false
	}

	out := f.Body.Output
	tick := Tick{
		Symbol:     out.Symb,
		Channel:    channel,
		ReceivedAt: now,
	}

	switch channel {
	case ChannelQuote:
		tick.BidPrice = parseDecimal(out.Bidp)
		tick.BidSize = parseInt(out.Bidv)
		tick.AskPrice = parseDecimal(out.Askp)
		tick.AskSize = parseInt(out.Askv)
	case ChannelExecution:
		tick.LastPrice = parseDecimal(out.Last)
		tick.LastSize = parseInt(out.Tvol)
		tick.Volume = parseInt(out.Cvol)
		tick.Change = parseDecimal(out.Diff)
		tick.ChangeRate = parseDecimal(out.Rate)
	}

	return tick, true
}

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
