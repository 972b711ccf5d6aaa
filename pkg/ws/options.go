package ws

import (
	"context"
	"time"
)

const (
	// ProdURL is the production realtime endpoint.
	ProdURL = "ws://ops.koreainvestment.com:21000"

	// SandboxURL is the paper-trading realtime endpoint.
	SandboxURL = "ws://ops.koreainvestment.com:31000"

	// DefaultPingInterval is the keepalive cadence the server expects.
	DefaultPingInterval = 30 * time.Second

	// DefaultReconnectMin is the initial reconnect backoff delay.
	DefaultReconnectMin = time.Second

	// DefaultReconnectMax is the reconnect backoff ceiling.
	DefaultReconnectMax = time.Minute

	// DefaultMaxReconnectAttempts bounds one reconnect episode. Set to -1
	// for unlimited attempts.
	DefaultMaxReconnectAttempts = 5

	// DefaultHandshakeTimeout bounds the websocket dial.
	DefaultHandshakeTimeout = 10 * time.Second
)

// ApprovalFunc supplies the approval key used in the handshake and in every
// subscribe frame. It is called again on each reconnect so a fresh key is
// issued when the old one has lapsed.
type ApprovalFunc func(ctx context.Context) (string, error)

// Options configures the realtime client.
type Options struct {
	// URL is the realtime server endpoint.
	URL string

	// PingInterval is the keepalive cadence.
	PingInterval time.Duration

	// ReconnectMin and ReconnectMax bound the reconnect backoff schedule.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// MaxReconnectAttempts bounds one reconnect episode. 0 disables
	// auto-reconnect, -1 retries without limit.
	MaxReconnectAttempts int

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// OnConnect is called after every successful connect, including
	// reconnects.
	OnConnect func()

	// OnDisconnect is called when the connection is lost. The error is nil
	// on a clean shutdown.
	OnDisconnect func(err error)

	// OnError is called for parse failures and server error frames.
	OnError func(err error)
}

// DefaultOptions returns Options with production defaults.
func DefaultOptions() Options {
	return Options{
		URL:                  ProdURL,
		PingInterval:         DefaultPingInterval,
		ReconnectMin:         DefaultReconnectMin,
		ReconnectMax:         DefaultReconnectMax,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		HandshakeTimeout:     DefaultHandshakeTimeout,
	}
}

// Option is a functional option for configuring the client.
type Option func(*Options)

// WithURL sets the realtime server endpoint.
func WithURL(url string) Option {
	return func(o *Options) { o.URL = url }
}

// WithSandbox points the client at the paper-trading realtime endpoint.
func WithSandbox() Option {
	return func(o *Options) { o.URL = SandboxURL }
}

// WithPingInterval sets the keepalive cadence.
func WithPingInterval(interval time.Duration) Option {
	return func(o *Options) { o.PingInterval = interval }
}

// WithReconnectPolicy sets the backoff bounds and attempt cap for one
// reconnect episode.
func WithReconnectPolicy(min, max time.Duration, maxAttempts int) Option {
	return func(o *Options) {
		o.ReconnectMin = min
		o.ReconnectMax = max
		o.MaxReconnectAttempts = maxAttempts
	}
}

// WithCallbacks sets the lifecycle callbacks.
func WithCallbacks(onConnect func(), onDisconnect func(error), onError func(error)) Option {
	return func(o *Options) {
		o.OnConnect = onConnect
		o.OnDisconnect = onDisconnect
		o.OnError = onError
	}
}
