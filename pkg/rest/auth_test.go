package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/tokenP" {
			t.Errorf("path = %s, want /oauth2/tokenP", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode token request: %v", err)
		}
		if req["grant_type"] != "client_credentials" {
			t.Errorf("grant_type = %q", req["grant_type"])
		}
		if req["appkey"] != "app-key" || req["appsecret"] != "app-secret" {
			t.Errorf("credentials not forwarded: %v", req)
		}
		w.Write([]byte(`{"access_token":"tok-abc","token_type":"Bearer","expires_in":86400}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	before := time.Now()
	tok, err := c.IssueToken(context.Background())
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	if tok.Value != "tok-abc" {
		t.Errorf("Value = %q, want tok-abc", tok.Value)
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", tok.TokenType)
	}

	wantExpiry := before.Add(86400 * time.Second)
	if tok.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || tok.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want around %v", tok.ExpiresAt, wantExpiry)
	}
	if !tok.Valid(time.Now()) {
		t.Error("fresh token reported invalid")
	}
}

func TestAccessTokenSafetyMargin(t *testing.T) {
	now := time.Now()
	tok := AccessToken{Value: "x", ExpiresAt: now.Add(time.Hour)}

	if !tok.Valid(now) {
		t.Error("token with an hour left reported invalid")
	}
	if tok.Valid(now.Add(time.Hour - TokenSafetyMargin)) {
		t.Error("token inside the safety margin reported valid")
	}
	if tok.Valid(now.Add(2 * time.Hour)) {
		t.Error("expired token reported valid")
	}

	empty := AccessToken{ExpiresAt: now.Add(time.Hour)}
	if empty.Valid(now) {
		t.Error("empty token reported valid")
	}
}

func TestIssueTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error_code":"EGW00002","error_description":"invalid appkey"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.IssueToken(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuthFailure(err) && !IsClientError(err) {
		t.Errorf("token failure not classified: %v", err)
	}
}

func TestIssueApprovalKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/Approval" {
			t.Errorf("path = %s, want /oauth2/Approval", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode approval request: %v", err)
		}
		if req["secretkey"] != "app-secret" {
			t.Errorf("secretkey = %q, want app-secret", req["secretkey"])
		}
		w.Write([]byte(`{"approval_key":"approval-123"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	key, err := c.IssueApprovalKey(context.Background())
	if err != nil {
		t.Fatalf("IssueApprovalKey() error: %v", err)
	}
	if key != "approval-123" {
		t.Errorf("key = %q, want approval-123", key)
	}
}
