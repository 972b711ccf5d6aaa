package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TokenSafetyMargin is how long before expiry a token is considered
// expiring-soon and must be refreshed.
const TokenSafetyMargin = 5 * time.Minute

// AccessToken is an issued bearer token with its expiry instant. Tokens are
// immutable; renewal produces a new value.
type AccessToken struct {
	Value     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token can be used at the given instant, keeping
// the safety margin clear of expiry.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-TokenSafetyMargin))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`

	// Error shape used by the oauth endpoints.
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// IssueToken exchanges the app credentials for a fresh access token.
func (c *Client) IssueToken(ctx context.Context) (AccessToken, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	})
	if err != nil {
		return AccessToken{}, fmt.Errorf("rest: marshal token request: %w", err)
	}

	respBody, err := c.call(ctx, callSpec{
		method: http.MethodPost,
		path:   "/oauth2/tokenP",
		body:   body,
	})
	if err != nil {
		return AccessToken{}, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return AccessToken{}, fmt.Errorf("rest: unmarshal token response: %w", err)
	}
	if resp.AccessToken == "" {
		return AccessToken{}, &APIError{
			StatusCode: http.StatusOK,
			Code:       resp.ErrorCode,
			Message:    resp.ErrorDescription,
		}
	}

	expiresIn := resp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 86400 // broker default: 24h
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return AccessToken{
		Value:     resp.AccessToken,
		TokenType: tokenType,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// RevokeToken invalidates a previously issued token. Called when an account
// is disabled.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{
		"appkey":    c.appKey,
		"appsecret": c.appSecret,
		"token":     token,
	})
	if err != nil {
		return fmt.Errorf("rest: marshal revoke request: %w", err)
	}

	_, err = c.call(ctx, callSpec{
		method: http.MethodPost,
		path:   "/oauth2/revokeP",
		body:   body,
	})
	return err
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// IssueApprovalKey obtains the websocket handshake credential. It is distinct
// from the bearer token and is required in every realtime subscribe frame.
func (c *Client) IssueApprovalKey(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"secretkey":  c.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("rest: marshal approval request: %w", err)
	}

	respBody, err := c.call(ctx, callSpec{
		method: http.MethodPost,
		path:   "/oauth2/Approval",
		body:   body,
	})
	if err != nil {
		return "", err
	}

	var resp approvalResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("rest: unmarshal approval response: %w", err)
	}
	if resp.ApprovalKey == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "empty approval key"}
	}
	return resp.ApprovalKey, nil
}
