// Package rest provides a REST API client for the KIS Open API
// (overseas-stock trading endpoints).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

const (
	// ProdBaseURL is the production API base URL.
	ProdBaseURL = "https://openapi.koreainvestment.com:9443"

	// SandboxBaseURL is the paper-trading API base URL.
	SandboxBaseURL = "https://openapivts.koreainvestment.com:29443"
)

// Default transport policy values.
const (
	DefaultMaxAttempts = 4
	DefaultBackoffMin  = 500 * time.Millisecond
	DefaultBackoffMax  = 8 * time.Second
	DefaultMaxElapsed  = 30 * time.Second
	DefaultRateLimit   = rate.Limit(15) // requests per second
	DefaultRateBurst   = 5
	DefaultTimeout     = 10 * time.Second
)

// TokenSource supplies a valid bearer token for authenticated calls.
// Implementations are expected to refresh expiring tokens before returning.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token. Useful
// for tests and one-shot tools.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(ctx context.Context) (string, error) { return string(t), nil }

// Attempt describes one transport attempt for observability. Every attempt,
// including retries, is reported to the configured AttemptFunc.
type Attempt struct {
	Method     string
	Path       string
	TrID       string
	Index      int // 1-based attempt number
	StatusCode int // 0 when the request never completed
	Latency    time.Duration
	Err        error
}

// AttemptFunc receives every transport attempt.
type AttemptFunc func(Attempt)

// Client is a REST client for the KIS Open API with bounded retry,
// rate limiting, and per-attempt reporting.
type Client struct {
	baseURL    string
	appKey     string
	appSecret  string
	cano       string // account number prefix
	acntPrdtCd string // account product code suffix
	sandbox    bool

	httpClient *http.Client
	signer     *Signer
	tokens     TokenSource
	limiter    *rate.Limiter
	onAttempt  AttemptFunc

	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	maxElapsed  time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithSandbox points the client at the paper-trading environment. Trading
// tr_id codes switch to their sandbox variants.
func WithSandbox() Option {
	return func(c *Client) {
		c.sandbox = true
		c.baseURL = SandboxBaseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithTokenSource sets the bearer token source for authenticated calls.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// SetTokenSource wires the token source after construction. Token managers
// issue tokens through the client they also supply tokens to, so one of the
// two has to be attached late.
func (c *Client) SetTokenSource(ts TokenSource) { c.tokens = ts }

// WithAttemptLogger registers a callback invoked for every transport attempt.
func WithAttemptLogger(fn AttemptFunc) Option {
	return func(c *Client) { c.onAttempt = fn }
}

// WithRetryPolicy overrides the retry schedule: attempt cap, backoff bounds,
// and the total elapsed budget.
func WithRetryPolicy(maxAttempts int, min, max, maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.backoffMin = min
		c.backoffMax = max
		c.maxElapsed = maxElapsed
	}
}

// WithRateLimit overrides the outbound request rate limiter.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// New creates a client for one brokerage account. accountNo is the combined
// "CANO-ACNT_PRDT_CD" form, e.g. "12345678-01".
func New(appKey, appSecret, accountNo string, opts ...Option) *Client {
	c := &Client{
		baseURL:     ProdBaseURL,
		appKey:      appKey,
		appSecret:   appSecret,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		signer:      NewSigner(appSecret),
		limiter:     rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		maxAttempts: DefaultMaxAttempts,
		backoffMin:  DefaultBackoffMin,
		backoffMax:  DefaultBackoffMax,
		maxElapsed:  DefaultMaxElapsed,
	}

	c.cano = accountNo
	c.acntPrdtCd = "01"
	if i := strings.IndexByte(accountNo, '-'); i >= 0 {
		c.cano = accountNo[:i]
		if i+1 < len(accountNo) {
			c.acntPrdtCd = accountNo[i+1:]
		}
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Sandbox reports whether the client targets the paper-trading environment.
func (c *Client) Sandbox() bool { return c.sandbox }

// Signer exposes the hashkey signer bound to this client's app secret.
func (c *Client) Signer() *Signer { return c.signer }

// trID returns the sandbox variant of a trading tr_id when the client is in
// sandbox mode. Trading codes swap their leading "T" for "V"; codes without
// a sandbox variant pass through unchanged.
func (c *Client) trID(prod string) string {
	if c.sandbox && strings.HasPrefix(prod, "T") {
		return "V" + prod[1:]
	}
	return prod
}

// callSpec describes one logical API call. The body, when present, is
// already serialized so that retries reuse the identical bytes and hashkey.
type callSpec struct {
	method  string
	path    string
	trID    string
	query   url.Values
	body    []byte
	hashkey string
	auth    bool // attach bearer token
	mutate  bool // hashkey mandatory
}

// call executes a spec with the retry policy: HTTP 429 and 5xx responses and
// transport errors (including timeouts) are retried with exponential backoff
// and jitter; other statuses are surfaced immediately. Every attempt is
// reported to the attempt logger.
func (c *Client) call(ctx context.Context, spec callSpec) ([]byte, error) {
	if spec.mutate && spec.hashkey == "" {
		return nil, ErrSigningRequired
	}

	var token string
	if spec.auth {
		if c.tokens == nil {
			return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "no token source configured"}
		}
		var err error
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("rest: obtain token: %w", err)
		}
	}

	boff := &backoff.Backoff{
		Min:    c.backoffMin,
		Max:    c.backoffMax,
		Factor: 2,
		Jitter: true,
	}
	deadline := time.Now().Add(c.maxElapsed)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, status, err := c.doOnce(ctx, spec, token, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(status, err) {
			return nil, err
		}

		if attempt == c.maxAttempts {
			break
		}
		delay := boff.Duration()
		if time.Now().Add(delay).After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

// doOnce performs a single HTTP attempt and reports it.
func (c *Client) doOnce(ctx context.Context, spec callSpec, token string, attempt int) ([]byte, int, error) {
	u := c.baseURL + spec.path
	if len(spec.query) > 0 {
		u += "?" + spec.query.Encode()
	}

	var reqBody io.Reader
	if spec.body != nil {
		reqBody = bytes.NewReader(spec.body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, u, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("rest: create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("custtype", "P")
	if spec.trID != "" {
		req.Header.Set("tr_id", spec.trID)
	}
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
	if spec.hashkey != "" {
		req.Header.Set("hashkey", spec.hashkey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)

	if err != nil {
		c.report(Attempt{Method: spec.method, Path: spec.path, TrID: spec.trID, Index: attempt, Latency: latency, Err: err})
		return nil, 0, fmt.Errorf("rest: execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.report(Attempt{Method: spec.method, Path: spec.path, TrID: spec.trID, Index: attempt, StatusCode: resp.StatusCode, Latency: latency, Err: err})
		return nil, resp.StatusCode, fmt.Errorf("rest: read response: %w", err)
	}

	var attErr error
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		attErr = newHTTPError(resp.StatusCode, respBody)
	}
	c.report(Attempt{Method: spec.method, Path: spec.path, TrID: spec.trID, Index: attempt, StatusCode: resp.StatusCode, Latency: latency, Err: attErr})

	if attErr != nil {
		return nil, resp.StatusCode, attErr
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) report(a Attempt) {
	if c.onAttempt != nil {
		c.onAttempt(a)
	}
}

// retryable reports whether an attempt outcome should be retried: transport
// errors (status 0, covers timeouts), throttling, and server errors.
func retryable(status int, err error) bool {
	if status == 0 {
		return err != nil
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// newHTTPError builds an APIError from a non-2xx response, pulling the
// broker's envelope code when the body carries one.
func newHTTPError(status int, body []byte) *APIError {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.MsgCd != "" {
		return &APIError{StatusCode: status, Code: env.MsgCd, Message: strings.TrimSpace(env.Msg1)}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// envelope is the common response wrapper on trading endpoints. rt_cd "0"
// means success; anything else is a broker-side rejection.
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// checkEnvelope surfaces envelope-level rejections that arrive with HTTP 200.
func checkEnvelope(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("rest: unmarshal envelope: %w", err)
	}
	if env.RtCd != "" && env.RtCd != "0" {
		return &APIError{StatusCode: http.StatusOK, Code: env.MsgCd, Message: strings.TrimSpace(env.Msg1)}
	}
	return nil
}
