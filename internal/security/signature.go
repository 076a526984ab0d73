// Package security authenticates merchant API requests signed with a shared
// secret and bounded by a replay window.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureMissing = errors.New("missing signature or timestamp")
	ErrTimestampInvalid = errors.New("invalid timestamp")
	ErrTimestampExpired = errors.New("request timestamp expired")
	ErrSignatureInvalid = errors.New("invalid signature")
)

// Verifier checks HMAC-SHA256 signatures over the raw request body.
type Verifier struct {
	Secret string
	Window time.Duration
	Now    func() time.Time
}

func NewVerifier(secret string, window time.Duration) *Verifier {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &Verifier{Secret: secret, Window: window, Now: time.Now}
}

// Verify checks presence, freshness and then the signature, in that order.
// timestamp is unix seconds.
func (v *Verifier) Verify(body []byte, signature, timestamp string) error {
	if signature == "" || timestamp == "" {
		return ErrSignatureMissing
	}
	if err := v.CheckTimestamp(timestamp); err != nil {
		return err
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || v.Secret == "" {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(got, v.sum(body)) {
		return ErrSignatureInvalid
	}
	return nil
}

// CheckTimestamp enforces the replay window alone.
func (v *Verifier) CheckTimestamp(timestamp string) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrTimestampInvalid
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.Window {
		return ErrTimestampExpired
	}
	return nil
}

// Sign returns the hex signature Verify accepts.
func (v *Verifier) Sign(body []byte) string { return hex.EncodeToString(v.sum(body)) }

func (v *Verifier) sum(body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	return mac.Sum(nil)
}
