package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Signer computes the hashkey signature the brokerage requires on mutating
// order calls. Signing is a pure function of the serialized request body and
// the app secret; identical payload bytes always produce identical
// signatures, which lets retried requests carry the signature of the
// original attempt.
type Signer struct {
	appSecret string
}

// NewSigner returns a Signer bound to the given app secret.
func NewSigner(appSecret string) *Signer {
	return &Signer{appSecret: appSecret}
}

// SignBytes signs an already-serialized request body.
func (s *Signer) SignBytes(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(s.appSecret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Sign serializes payload to compact JSON and signs it. It returns both the
// signature and the exact bytes that were signed; callers must send those
// bytes unchanged or the broker will reject the signature.
func (s *Signer) Sign(payload any) (signature string, body []byte, err error) {
	body, err = json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("rest: marshal payload for signing: %w", err)
	}
	return s.SignBytes(body), body, nil
}
