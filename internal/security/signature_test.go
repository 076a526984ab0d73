package security

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestVerify(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := NewVerifier("s3cret", 300*time.Second)
	v.Now = fixed(now)
	body := []byte(`{"meter_number":"123"}`)
	sig := v.Sign(body)
	ts := strconv.FormatInt(now.Unix(), 10)

	assert.NoError(t, v.Verify(body, sig, ts))
	assert.ErrorIs(t, v.Verify(body, "", ts), ErrSignatureMissing)
	assert.ErrorIs(t, v.Verify(body, sig, ""), ErrSignatureMissing)
	assert.ErrorIs(t, v.Verify(body, sig, "yesterday"), ErrTimestampInvalid)
	assert.ErrorIs(t, v.Verify([]byte(`{"meter_number":"124"}`), sig, ts), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify(body, "nothex", ts), ErrSignatureInvalid)
}

func TestVerify_ReplayWindow(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := NewVerifier("s3cret", 300*time.Second)
	v.Now = fixed(now)
	body := []byte(`{}`)
	sig := v.Sign(body)

	at := func(d time.Duration) string { return strconv.FormatInt(now.Add(d).Unix(), 10) }
	assert.NoError(t, v.Verify(body, sig, at(-300*time.Second)), "edge of window is accepted")
	assert.NoError(t, v.Verify(body, sig, at(300*time.Second)))
	assert.ErrorIs(t, v.Verify(body, sig, at(-301*time.Second)), ErrTimestampExpired)
	assert.ErrorIs(t, v.Verify(body, sig, at(301*time.Second)), ErrTimestampExpired)
}

func TestVerify_ExpiredBeforeSignatureCheck(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := NewVerifier("s3cret", time.Minute)
	v.Now = fixed(now)
	old := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	assert.ErrorIs(t, v.Verify([]byte(`{}`), "deadbeef", old), ErrTimestampExpired)
}
