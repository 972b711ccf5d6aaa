package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestSignBytesMatchesHMAC(t *testing.T) {
	secret := "app-secret"
	payload := []byte(`{"CANO":"12345678","PDNO":"AAPL"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	got := NewSigner(secret).SignBytes(payload)
	if got != want {
		t.Errorf("SignBytes() = %q, want %q", got, want)
	}
}

func TestSignDeterministic(t *testing.T) {
	s := NewSigner("app-secret")
	body := map[string]string{"PDNO": "TSLA", "ORD_QTY": "10"}

	sig1, bytes1, err := s.Sign(body)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	sig2, bytes2, err := s.Sign(body)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if sig1 != sig2 {
		t.Errorf("signatures differ: %q vs %q", sig1, sig2)
	}
	if string(bytes1) != string(bytes2) {
		t.Errorf("serialized bodies differ: %s vs %s", bytes1, bytes2)
	}
}

func TestSignDifferentSecretsDiffer(t *testing.T) {
	payload := []byte(`{"a":"1"}`)
	a := NewSigner("secret-a").SignBytes(payload)
	b := NewSigner("secret-b").SignBytes(payload)
	if a == b {
		t.Error("different secrets produced the same signature")
	}
}
