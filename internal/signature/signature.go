// Package signature authenticates provider webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned for a missing, malformed or mismatched signature, and when no secret is configured.
var ErrInvalid = errors.New("invalid webhook signature")

const (
	RetellHeader     = "X-Retell-Signature"
	VapiHeader       = "X-Vapi-Signature"
	VapiSecretHeader = "X-Vapi-Secret"

	// DefaultMaxSkew bounds how old a timestamped Retell signature may be.
	DefaultMaxSkew = 5 * time.Minute
)

// Verifier checks one provider's signature scheme against a resolved secret.
type Verifier interface {
	Verify(body []byte, header http.Header, secret string) error
}

// Verify reports whether signature is the hex HMAC-SHA256 of body keyed with secret.
// An empty secret never verifies.
func Verify(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return equalHex(signature, sign(secret, body))
}

func sign(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		_, _ = mac.Write(p)
	}
	return mac.Sum(nil)
}

func equalHex(signature string, expected []byte) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(got, expected)
}

// Retell verifies X-Retell-Signature, keyed with the Retell API key.
// Two formats are accepted: "v=<unix_ms>,d=<hex>" where the MAC covers body
// followed by the timestamp, and a bare hex digest of the body.
type Retell struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

func (r Retell) Verify(body []byte, header http.Header, secret string) error {
	value := header.Get(RetellHeader)
	if secret == "" || value == "" {
		return ErrInvalid
	}

	if !strings.Contains(value, "=") {
		if Verify(body, value, secret) {
			return nil
		}
		return ErrInvalid
	}

	var ts, digest string
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrInvalid
		}
		switch k {
		case "v":
			ts = v
		case "d":
			digest = v
		}
	}
	if ts == "" || digest == "" {
		return ErrInvalid
	}

	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalid
	}
	if !r.fresh(time.UnixMilli(ms)) {
		return ErrInvalid
	}
	if !equalHex(digest, sign(secret, body, []byte(ts))) {
		return ErrInvalid
	}
	return nil
}

func (r Retell) fresh(signedAt time.Time) bool {
	skew := r.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	delta := now().Sub(signedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= skew
}

// Vapi verifies either an HMAC of the body in X-Vapi-Signature or the
// shared secret echoed verbatim in X-Vapi-Secret.
type Vapi struct{}

func (Vapi) Verify(body []byte, header http.Header, secret string) error {
	if secret == "" {
		return ErrInvalid
	}
	if sig := header.Get(VapiHeader); sig != "" {
		if Verify(body, sig, secret) {
			return nil
		}
		return ErrInvalid
	}
	if raw := header.Get(VapiSecretHeader); raw != "" {
		if hmac.Equal([]byte(raw), []byte(secret)) {
			return nil
		}
	}
	return ErrInvalid
}

// Sign returns the hex signature Verify accepts. Used by tests and by
// outbound forwarding so receivers can authenticate us the same way.
func Sign(body []byte, secret string) string {
	return hex.EncodeToString(sign(secret, body))
}

// SignRetell produces a timestamped Retell-style header value.
func SignRetell(body []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	return "v=" + ts + ",d=" + hex.EncodeToString(sign(secret, body, []byte(ts)))
}
