package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestReconnectRestoresSubscriptions drops the first connection after the
// client has registered two symbols and verifies that the client redials,
// obtains a fresh approval key, and replays every subscription.
func TestReconnectRestoresSubscriptions(t *testing.T) {
	var connCount atomic.Int32
	frames := make(chan subscribeFrame, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connCount.Add(1)

		seen := 0
		for {
			var f subscribeFrame
			if err := conn.ReadJSON(&f); err != nil {
				conn.Close()
				return
			}
			frames <- f
			seen++
			// Drop the first connection once both symbols are registered.
			if n == 1 && seen == 4 {
				conn.Close()
				return
			}
		}
	}))
	defer srv.Close()

	var keyCount atomic.Int32
	approval := func(ctx context.Context) (string, error) {
		return fmt.Sprintf("key-%d", keyCount.Add(1)), nil
	}

	disconnects := make(chan error, 1)
	c := New(approval,
		WithURL(wsURL(srv)),
		WithReconnectPolicy(time.Millisecond, 10*time.Millisecond, 20),
		WithCallbacks(nil, func(err error) { disconnects <- err }, nil),
	)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	for _, symbol := range []string{"AAPL", "TSLA"} {
		if err := c.Subscribe(context.Background(), symbol); err != nil {
			t.Fatalf("Subscribe(%s) error: %v", symbol, err)
		}
	}

	// Drain the four frames sent on the first connection.
	firstKeys := map[string]bool{}
	for i := 0; i < 4; i++ {
		f := waitFrame(t, frames)
		firstKeys[f.Header.ApprovalKey] = true
	}
	if !firstKeys["key-1"] || len(firstKeys) != 1 {
		t.Errorf("first connection keys = %v, want only key-1", firstKeys)
	}

	select {
	case err := <-disconnects:
		if err == nil {
			t.Error("disconnect callback got nil error for a dropped connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	// The replayed registrations arrive on the second connection with a
	// freshly issued approval key.
	replayed := map[string]map[Channel]bool{}
	for i := 0; i < 4; i++ {
		f := waitFrame(t, frames)
		if f.Header.ApprovalKey != "key-2" {
			t.Errorf("replayed frame key = %q, want key-2", f.Header.ApprovalKey)
		}
		if f.Header.TrType != trTypeSubscribe {
			t.Errorf("replayed frame tr_type = %q", f.Header.TrType)
		}
		symbol := f.Body.Input.TrKey
		if replayed[symbol] == nil {
			replayed[symbol] = map[Channel]bool{}
		}
		replayed[symbol][f.Body.Input.TrID] = true
	}

	for _, symbol := range []string{"AAPL", "TSLA"} {
		if !replayed[symbol][ChannelQuote] || !replayed[symbol][ChannelExecution] {
			t.Errorf("symbol %s not fully resubscribed: %v", symbol, replayed[symbol])
		}
	}

	waitState(t, c, StateConnected)
	if got := connCount.Load(); got != 2 {
		t.Errorf("server saw %d connections, want 2", got)
	}
}

// TestSubscribeWhileDownRegistersOnConnect verifies that a symbol
// registered before the connection is up is remembered and replayed as soon
// as the client connects, so nothing tracked during an outage is lost.
func TestSubscribeWhileDownRegistersOnConnect(t *testing.T) {
	frames := make(chan subscribeFrame, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			var f subscribeFrame
			if err := conn.ReadJSON(&f); err != nil {
				conn.Close()
				return
			}
			frames <- f
		}
	}))
	defer srv.Close()

	approval := func(ctx context.Context) (string, error) { return "key-1", nil }
	c := New(approval, WithURL(wsURL(srv)))
	defer c.Close()

	// No connection yet: the registration must be accepted and deferred.
	if err := c.Subscribe(context.Background(), "AAPL"); err != nil {
		t.Fatalf("Subscribe() while down error: %v", err)
	}
	if subs := c.Subscriptions(); len(subs["AAPL"]) != 2 {
		t.Fatalf("Subscriptions()[AAPL] = %v, want both default channels", subs["AAPL"])
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	got := map[Channel]bool{}
	for i := 0; i < 2; i++ {
		f := waitFrame(t, frames)
		if f.Body.Input.TrKey != "AAPL" {
			t.Errorf("frame symbol = %q, want AAPL", f.Body.Input.TrKey)
		}
		if f.Header.TrType != trTypeSubscribe {
			t.Errorf("frame tr_type = %q", f.Header.TrType)
		}
		got[f.Body.Input.TrID] = true
	}
	if !got[ChannelQuote] || !got[ChannelExecution] {
		t.Errorf("registered channels = %v, want quote and execution", got)
	}
}

// TestReconnectGivesUp verifies the attempt budget is honored when the
// server never comes back.
func TestReconnectGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))

	errs := make(chan error, 16)
	c := New(staticApproval("k"),
		WithURL(wsURL(srv)),
		WithReconnectPolicy(time.Millisecond, 5*time.Millisecond, 2),
		WithCallbacks(nil, nil, func(err error) { errs <- err }),
	)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	// Kill the server so every redial fails.
	srv.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-errs:
			if err == ErrReconnectFailed {
				waitState(t, c, StateDisconnected)
				return
			}
		case <-deadline:
			t.Fatal("reconnect never gave up")
		}
	}
}

func waitFrame(t *testing.T, frames chan subscribeFrame) subscribeFrame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return subscribeFrame{}
	}
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}
