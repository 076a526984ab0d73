package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGateway(t *testing.T, h http.HandlerFunc) *Paystack {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewPaystack(srv.URL, "sk_test", time.Second, zap.NewNop().Sugar())
}

func TestInitialize(t *testing.T) {
	var sent map[string]interface{}
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&sent)
		_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"authorization_url":"https://checkout/x","access_code":"ac","reference":"PAY_1"}}`)
	})

	co, err := gw.Initialize(context.Background(), InitRequest{
		Email: "ada@example.com", Amount: decimal.RequireFromString("1102.25"), Reference: "PAY_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout/x", co.AuthorizationURL)
	assert.Equal(t, "110225", sent["amount"])
}

func TestInitialize_Rejected(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"status":false,"message":"Invalid key"}`)
	})
	_, err := gw.Initialize(context.Background(), InitRequest{Reference: "PAY_1"})
	assert.ErrorIs(t, err, ErrInitializeFailed)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestVerify(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transaction/verify/PAY_OK":
			_, _ = io.WriteString(w, `{"status":true,"data":{"reference":"PAY_OK","status":"success","amount":110225,"currency":"NGN","customer":{"email":"ada@example.com","first_name":"Ada","last_name":"L"}}}`)
		case "/transaction/verify/PAY_ABANDONED":
			_, _ = io.WriteString(w, `{"status":true,"data":{"reference":"PAY_ABANDONED","status":"abandoned","gateway_response":"The transaction was not completed"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":false,"message":"Transaction reference not found"}`)
		}
	})
	ctx := context.Background()

	ch, err := gw.Verify(ctx, "PAY_OK")
	require.NoError(t, err)
	assert.True(t, ch.Succeeded())
	assert.Equal(t, "1102.25", ch.Amount.String())
	assert.Equal(t, "Ada L", ch.CustomerName)

	ch, err = gw.Verify(ctx, "PAY_ABANDONED")
	assert.ErrorIs(t, err, ErrChargeNotSuccessful)
	assert.Contains(t, err.Error(), "The transaction was not completed")
	require.NotNil(t, ch)
	assert.Equal(t, "abandoned", ch.Status)

	_, err = gw.Verify(ctx, "PAY_UNKNOWN")
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Contains(t, err.Error(), "Transaction reference not found")
}

func TestValidSignature(t *testing.T) {
	gw := NewPaystack("http://unused", "sk_test", 0, zap.NewNop().Sugar())
	body := []byte(`{"event":"charge.success","data":{"reference":"PAY_1"}}`)
	sig := Sign("sk_test", body)

	assert.True(t, gw.ValidSignature(body, sig))
	assert.False(t, gw.ValidSignature(body, ""))
	assert.False(t, gw.ValidSignature(body, "zz-not-hex"))
	assert.False(t, gw.ValidSignature(body, Sign("other", body)))
	assert.False(t, gw.ValidSignature(append(body, ' '), sig))
}

func TestParseWebhook(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{"event":"charge.success","data":{"reference":"PAY_1","status":"success","amount":50000}}`))
	require.NoError(t, err)
	assert.Equal(t, EventChargeSuccess, ev.Event)
	assert.Equal(t, "PAY_1", ev.Charge.Reference)
	assert.Equal(t, "500", ev.Charge.Amount.String())

	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}
