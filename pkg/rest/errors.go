package rest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSigningRequired is returned when a mutating order call is attempted
	// without a hashkey computed for the exact payload being sent.
	ErrSigningRequired = errors.New("rest: signing required for mutating call")

	// ErrRetriesExhausted is returned when the retry budget is spent without
	// a successful response.
	ErrRetriesExhausted = errors.New("rest: retries exhausted")
)

// Broker gateway codes that need special classification. The KIS gateway
// reports throttling and auth problems inside an HTTP 200/500 envelope.
const (
	codeRateLimited  = "EGW00201"
	codeTokenExpired = "EGW00123"
	codeTokenInvalid = "EGW00121"
)

// APIError represents an error response from the brokerage API, either
// transport-level (HTTP status) or envelope-level (rt_cd != "0").
type APIError struct {
	StatusCode int
	Code       string // msg_cd from the envelope, empty for pure HTTP errors
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kis api error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("kis api error %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the error is a throttling response.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == codeRateLimited
}

// AuthFailure reports whether the error indicates bad or expired credentials.
func (e *APIError) AuthFailure() bool {
	switch e.Code {
	case codeTokenExpired, codeTokenInvalid:
		return true
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Transient reports whether the error is worth retrying: throttling or a
// server-side failure.
func (e *APIError) Transient() bool {
	return e.RateLimited() || e.StatusCode >= 500
}

// IsRateLimited reports whether err is a throttling error from the broker.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}

// IsAuthFailure reports whether err indicates invalid or revoked credentials.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AuthFailure()
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	if errors.Is(err, ErrRetriesExhausted) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}

// IsClientError reports whether err is a non-retryable broker rejection.
func IsClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return !apiErr.Transient() && !apiErr.AuthFailure()
}

// BrokerCode extracts the broker error code from err, if any.
func BrokerCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
