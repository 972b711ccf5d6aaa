package market

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yim1990/alpha-ai/pkg/rest"
	"github.com/yim1990/alpha-ai/pkg/ws"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestTickMergePreservesOtherFields(t *testing.T) {
	c := NewCache()
	now := time.Now()

	c.ApplyTick(ws.Tick{
		Symbol: "AAPL", Channel: ws.ChannelExecution,
		LastPrice: d("150.25"), Volume: 1000,
		Change: d("1.25"), ChangeRate: d("0.84"),
		ReceivedAt: now,
	})
	c.ApplyTick(ws.Tick{
		Symbol: "AAPL", Channel: ws.ChannelQuote,
		BidPrice: d("150.20"), BidSize: 300,
		AskPrice: d("150.30"), AskSize: 200,
		ReceivedAt: now.Add(time.Second),
	})

	md, ok := c.Snapshot("AAPL")
	require.True(t, ok)
	assert.Equal(t, "150.25", md.LastPrice.String(), "quote tick must not wipe last price")
	assert.Equal(t, "150.2", md.BidPrice.String())
	assert.Equal(t, int64(200), md.AskSize)
	assert.Equal(t, int64(1000), md.Volume)
}

func TestExecutionTickIgnoresEmptyPrice(t *testing.T) {
	c := NewCache()
	c.ApplyTick(ws.Tick{Symbol: "TSLA", Channel: ws.ChannelExecution, LastPrice: d("250"), Volume: 10, ReceivedAt: time.Now()})
	c.ApplyTick(ws.Tick{Symbol: "TSLA", Channel: ws.ChannelExecution, ReceivedAt: time.Now()})

	md, _ := c.Snapshot("TSLA")
	assert.Equal(t, "250", md.LastPrice.String())
	assert.Equal(t, int64(10), md.Volume)
}

func TestQuoteSnapshotFillsPreviousClose(t *testing.T) {
	c := NewCache()
	asOf := time.Now()
	c.ApplyQuote(rest.Quote{
		Symbol: "AAPL", Last: d("97"), PreviousClose: d("100"),
		Change: d("-3"), ChangeRate: d("-3"), Volume: 2_000_000, AsOf: asOf,
	})

	md, ok := c.Snapshot("AAPL")
	require.True(t, ok)
	assert.Equal(t, "100", md.PreviousClose.String())
	assert.Equal(t, "97", md.LastPrice.String())
	assert.Equal(t, asOf, md.Timestamp)
}

func TestSnapshotUnknownSymbol(t *testing.T) {
	c := NewCache()
	_, ok := c.Snapshot("NVDA")
	assert.False(t, ok)
}

func TestAge(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.ApplyTick(ws.Tick{Symbol: "AAPL", Channel: ws.ChannelExecution, LastPrice: d("1"), ReceivedAt: now.Add(-45 * time.Second)})

	assert.InDelta(t, 45, c.Age("AAPL", now).Seconds(), 0.01)
	assert.Greater(t, c.Age("NVDA", now), 24*time.Hour, "unknown symbols read as very stale")
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.ApplyTick(ws.Tick{Symbol: "AAPL", Channel: ws.ChannelExecution, LastPrice: d("100"), ReceivedAt: time.Now()})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Snapshot("AAPL")
				c.Symbols()
			}
		}()
	}
	wg.Wait()

	md, ok := c.Snapshot("AAPL")
	require.True(t, ok)
	assert.Equal(t, "100", md.LastPrice.String())
}
