package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeFrameShape(t *testing.T) {
	frame := newSubscribeFrame("key-123", trTypeSubscribe, ChannelQuote, "AAPL")

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}

	header := raw["header"]
	if header["approval_key"] != "key-123" {
		t.Errorf("approval_key = %v", header["approval_key"])
	}
	if header["custtype"] != "P" {
		t.Errorf("custtype = %v", header["custtype"])
	}
	if header["tr_type"] != "1" {
		t.Errorf("tr_type = %v, want 1", header["tr_type"])
	}
	if header["content-type"] != "utf-8" {
		t.Errorf("content-type = %v", header["content-type"])
	}

	input, ok := raw["body"]["input"].(map[string]any)
	if !ok {
		t.Fatalf("body.input missing: %v", raw["body"])
	}
	if input["tr_id"] != "H0STCNT0" {
		t.Errorf("tr_id = %v", input["tr_id"])
	}
	if input["tr_key"] != "AAPL" {
		t.Errorf("tr_key = %v", input["tr_key"])
	}
}

func TestUnsubscribeFrameTrType(t *testing.T) {
	frame := newSubscribeFrame("key", trTypeUnsubscribe, ChannelExecution, "TSLA")
	if frame.Header.TrType != "2" {
		t.Errorf("tr_type = %q, want 2", frame.Header.TrType)
	}
}

func TestParseFramePing(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"header":{"tr_id":"PINGPONG","datetime":"20260830120000"}}`))
	if err != nil {
		t.Fatalf("ParseFrame() error: %v", err)
	}
	if !frame.IsPing() {
		t.Error("keepalive frame not recognized")
	}
	if frame.IsError() {
		t.Error("keepalive frame classified as error")
	}
	if _, ok := frame.Tick(time.Now()); ok {
		t.Error("keepalive frame produced a tick")
	}
}

func TestParseFrameServerError(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"header":{"tr_id":"H0STCNT0","rsp_cd":"9999","rsp_msg":"invalid approval key"}}`))
	if err != nil {
		t.Fatalf("ParseFrame() error: %v", err)
	}
	if !frame.IsError() {
		t.Error("error frame not recognized")
	}
}

func TestQuoteTick(t *testing.T) {
	raw := `{"header":{"tr_id":"H0STCNT0","rsp_cd":"0000"},"body":{"output":{"symb":"AAPL","bidp":"189.50","bidv":"300","askp":"189.52","askv":"150"}}}`
	frame, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFrame() error: %v", err)
	}

	now := time.Now()
	tick, ok := frame.Tick(now)
	if !ok {
		t.Fatal("quote frame produced no tick")
	}
	if tick.Channel != ChannelQuote {
		t.Errorf("Channel = %s", tick.Channel)
	}
	if tick.Symbol != "AAPL" {
		t.Errorf("Symbol = %q", tick.Symbol)
	}
	if tick.BidPrice.String() != "189.5" {
		t.Errorf("BidPrice = %s", tick.BidPrice)
	}
	if tick.AskPrice.String() != "189.52" {
		t.Errorf("AskPrice = %s", tick.AskPrice)
	}
	if tick.BidSize != 300 || tick.AskSize != 150 {
		t.Errorf("sizes = %d/%d, want 300/150", tick.BidSize, tick.AskSize)
	}
	if !tick.ReceivedAt.Equal(now) {
		t.Errorf("ReceivedAt = %v, want %v", tick.ReceivedAt, now)
	}
}

func TestExecutionTick(t *testing.T) {
	raw := `{"header":{"tr_id":"H0STCNI0","rsp_cd":"0000"},"body":{"output":{"symb":"TSLA","last":"245.10","tvol":"25","cvol":"1834022","diff":"-3.20","rate":"-1.29"}}}`
	frame, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFrame() error: %v", err)
	}

	tick, ok := frame.Tick(time.Now())
	if !ok {
		t.Fatal("execution frame produced no tick")
	}
	if tick.Channel != ChannelExecution {
		t.Errorf("Channel = %s", tick.Channel)
	}
	if tick.LastPrice.String() != "245.1" {
		t.Errorf("LastPrice = %s", tick.LastPrice)
	}
	if tick.LastSize != 25 {
		t.Errorf("LastSize = %d", tick.LastSize)
	}
	if tick.Volume != 1834022 {
		t.Errorf("Volume = %d", tick.Volume)
	}
	if !tick.Change.IsNegative() {
		t.Errorf("Change = %s, want negative", tick.Change)
	}
}

func TestTickMalformedNumbers(t *testing.T) {
	raw := `{"header":{"tr_id":"H0STCNT0"},"body":{"output":{"symb":"AAPL","bidp":"","bidv":"garbage"}}}`
	frame, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFrame() error: %v", err)
	}
	tick, ok := frame.Tick(time.Now())
	if !ok {
		t.Fatal("frame produced no tick")
	}
	if !tick.BidPrice.IsZero() || tick.BidSize != 0 {
		t.Errorf("malformed fields not zeroed: %s / %d", tick.BidPrice, tick.BidSize)
	}
}
