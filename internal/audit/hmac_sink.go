package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HMACSink wraps another Sink and signs each entry's JSON encoding with
// HMAC-SHA256 before forwarding, so a downstream receiver can verify the
// gateway (not an impersonator) produced it. Adapted from the teacher's
// inbound webhook-signature verification (internal/middleware/webhook.go),
// turned around for outbound signing: the gateway computes the signature
// here instead of checking one.
type HMACSink struct {
	secret []byte
	inner  Sink
}

// NewHMACSink wraps inner so every entry it receives is signed first.
func NewHMACSink(secret string, inner Sink) *HMACSink {
	return &HMACSink{secret: []byte(secret), inner: inner}
}

// Send signs entry and forwards the signed envelope to the inner sink.
func (s *HMACSink) Send(entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit hmac sink: marshal: %w", err)
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	signed := entry
	meta := map[string]interface{}{"x-gateway-signature": signature}
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	signed.Metadata = meta

	return s.inner.Send(signed)
}

// Verify reports whether signature is the correct HMAC-SHA256 (hex) over
// entry's JSON encoding under secret. Exposed for a receiving service to
// check authenticity; the gateway itself never calls this.
func Verify(secret string, entry Entry, signature string) (bool, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("audit hmac sink: marshal: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected)), nil
}
