package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yim1990/alpha-ai/internal/market"
	"github.com/yim1990/alpha-ai/pkg/rest"
	"github.com/yim1990/alpha-ai/pkg/ws"
)

// Feed keeps the market cache warm for one account. The realtime stream is
// the primary source; while the stream is down, or for fields ticks never
// carry (previous close), a slower REST quote poll fills the gap so rule
// evaluation is never starved of data.
type Feed struct {
	stream       *ws.Client
	cache        *market.Cache
	broker       Broker
	log          *logrus.Entry
	pollInterval time.Duration

	mu      sync.Mutex
	tracked map[string]string // symbol -> order exchange code
}

// NewFeed wires the stream and the polling fallback to a shared cache.
func NewFeed(stream *ws.Client, cache *market.Cache, broker Broker, log *logrus.Entry, pollInterval time.Duration) *Feed {
	f := &Feed{
		stream:       stream,
		cache:        cache,
		broker:       broker,
		log:          log,
		pollInterval: pollInterval,
		tracked:      map[string]string{},
	}
	stream.SetTickHandler(func(t ws.Tick) {
		cache.ApplyTick(t)
	})
	return f
}

// Track starts following a symbol: an immediate REST quote seeds the cache
// (ticks never carry the previous close), and the symbol is registered with
// the stream. The stream remembers registrations made while it is down and
// replays them once connected. Tracking the same symbol again is a no-op.
func (f *Feed) Track(ctx context.Context, symbol, exchange string) error {
	f.mu.Lock()
	_, known := f.tracked[symbol]
	f.tracked[symbol] = exchange
	f.mu.Unlock()
	if known {
		return nil
	}

	f.seedQuote(ctx, symbol, exchange)

	return f.stream.Subscribe(ctx, symbol, ws.DefaultChannels...)
}

// Untrack stops following a symbol.
func (f *Feed) Untrack(ctx context.Context, symbol string) {
	f.mu.Lock()
	_, known := f.tracked[symbol]
	delete(f.tracked, symbol)
	f.mu.Unlock()
	if !known {
		return
	}
	if err := f.stream.Unsubscribe(ctx, symbol, ws.DefaultChannels...); err != nil {
		f.log.WithError(err).WithField("symbol", symbol).Warn("unsubscribe failed")
	}
}

// Run connects the stream and drives the polling fallback until ctx ends.
// Stream drops are handled inside the ws client; Run only has to keep the
// fallback alive and re-establish the initial connection if it never came
// up.
func (f *Feed) Run(ctx context.Context) {
	f.connect(ctx)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := f.stream.Close(); err != nil {
				f.log.WithError(err).Debug("feed close")
			}
			return
		case <-ticker.C:
			if f.stream.State() == ws.StateDisconnected {
				f.connect(ctx)
			}
			f.poll(ctx)
		}
	}
}

// Connected reports whether the realtime stream is delivering ticks.
func (f *Feed) Connected() bool {
	return f.stream.IsConnected()
}

// connect brings the stream up. The stream replays every remembered
// registration itself, so nothing more is needed here.
func (f *Feed) connect(ctx context.Context) {
	if err := f.stream.Connect(ctx); err != nil {
		f.log.WithError(err).Warn("stream connect failed, polling only")
	}
}

// poll refreshes symbols the stream is not covering: everything while the
// stream is down, and any symbol still missing a previous close.
func (f *Feed) poll(ctx context.Context) {
	streaming := f.stream.IsConnected()

	f.mu.Lock()
	pending := make(map[string]string, len(f.tracked))
	for symbol, exchange := range f.tracked {
		if streaming {
			if md, ok := f.cache.Snapshot(symbol); ok && !md.PreviousClose.IsZero() {
				continue
			}
		}
		pending[symbol] = exchange
	}
	f.mu.Unlock()

	for symbol, exchange := range pending {
		f.seedQuote(ctx, symbol, exchange)
	}
}

func (f *Feed) seedQuote(ctx context.Context, symbol, exchange string) {
	q, err := f.broker.GetQuote(ctx, rest.PriceExchange(exchange), symbol)
	if err != nil {
		f.log.WithError(err).WithField("symbol", symbol).Warn("quote poll failed")
		return
	}
	f.cache.ApplyQuote(*q)
}
