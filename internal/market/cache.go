package market

import (
	"sync"
	"time"

	"github.com/yim1990/alpha-ai/internal/model"
	"github.com/yim1990/alpha-ai/pkg/rest"
	"github.com/yim1990/alpha-ai/pkg/ws"
)

// Cache is the in-memory quote state shared between the feed goroutine and
// the evaluation cycle. The feed writes partial updates as ticks arrive; the
// cycle reads whole-value snapshots and never blocks on feed I/O.
type Cache struct {
	mu    sync.RWMutex
	state map[string]model.MarketData
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{state: map[string]model.MarketData{}}
}

// ApplyTick merges one realtime update into the symbol's state. Quote ticks
// refresh the book, execution ticks refresh last price and volume; fields a
// tick does not carry keep their previous values.
func (c *Cache) ApplyTick(t ws.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	md := c.state[t.Symbol]
	md.Symbol = t.Symbol

	switch t.Channel {
	case ws.ChannelQuote:
		md.BidPrice = t.BidPrice
		md.BidSize = t.BidSize
		md.AskPrice = t.AskPrice
		md.AskSize = t.AskSize
	case ws.ChannelExecution:
		if !t.LastPrice.IsZero() {
			md.LastPrice = t.LastPrice
		}
		if t.Volume > 0 {
			md.Volume = t.Volume
		}
		md.Change = t.Change
		md.ChangeRate = t.ChangeRate
	}

	md.Timestamp = t.ReceivedAt
	c.state[t.Symbol] = md
}

// ApplyQuote replaces the symbol's state with a REST snapshot. Used by the
// polling fallback, which always delivers a complete quote.
func (c *Cache) ApplyQuote(q rest.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	md := c.state[q.Symbol]
	md.Symbol = q.Symbol
	md.LastPrice = q.Last
	md.PreviousClose = q.PreviousClose
	md.Change = q.Change
	md.ChangeRate = q.ChangeRate
	md.Volume = q.Volume
	md.Timestamp = q.AsOf
	c.state[q.Symbol] = md
}

// Snapshot returns a copy of the symbol's current state. The second return
// is false when no data has arrived yet.
func (c *Cache) Snapshot(symbol string) (model.MarketData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.state[symbol]
	return md, ok
}

// Age returns how stale the symbol's data is at now. Unknown symbols report
// a very large age.
func (c *Cache) Age(symbol string, now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.state[symbol]
	if !ok || md.Timestamp.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(md.Timestamp)
}

// Symbols lists every symbol with cached state.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.state))
	for s := range c.state {
		out = append(out, s)
	}
	return out
}
