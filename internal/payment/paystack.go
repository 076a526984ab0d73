// Package payment talks to the upstream payment gateway: it initializes
// charges, verifies them by reference, and authenticates webhooks.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrVerificationFailed means the gateway would not vouch for the reference.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrChargeNotSuccessful means the gateway knows the charge but it did not settle.
	ErrChargeNotSuccessful = errors.New("payment was not successful")
	// ErrInitializeFailed means no checkout could be opened.
	ErrInitializeFailed = errors.New("failed to initialize payment")
)

// EventChargeSuccess is the only webhook event that triggers fulfilment.
const EventChargeSuccess = "charge.success"

// Gateway is the payment provider contract the reconciler depends on.
type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req InitRequest) (*Checkout, error)
	Verify(ctx context.Context, reference string) (*Charge, error)
	ValidSignature(body []byte, signature string) bool
}

type InitRequest struct {
	Email       string
	Amount      decimal.Decimal
	Reference   string
	CallbackURL string
	Metadata    map[string]interface{}
}

type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Charge is the gateway's view of a payment, amounts in major units.
type Charge struct {
	Reference       string
	Status          string
	Amount          decimal.Decimal
	Currency        string
	Channel         string
	PaidAt          string
	GatewayResponse string
	CustomerEmail   string
	CustomerName    string
}

// Succeeded reports whether the charge settled.
func (c *Charge) Succeeded() bool { return c != nil && c.Status == "success" }

// WebhookEvent is a decoded gateway notification.
type WebhookEvent struct {
	Event  string
	Charge *Charge
}

// Paystack implements Gateway over the Paystack REST API.
type Paystack struct {
	baseURL   string
	secretKey string
	http      *http.Client
	log       *zap.SugaredLogger
}

func NewPaystack(baseURL, secretKey string, timeout time.Duration, log *zap.SugaredLogger) *Paystack {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Paystack{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

func (p *Paystack) Name() string { return "paystack" }

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type chargeData struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Channel         string          `json:"channel"`
	PaidAt          string          `json:"paid_at"`
	GatewayResponse string          `json:"gateway_response"`
	Customer        struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"customer"`
}

func (d chargeData) toCharge() *Charge {
	return &Charge{
		Reference:       d.Reference,
		Status:          d.Status,
		Amount:          d.Amount.Div(decimal.NewFromInt(100)),
		Currency:        d.Currency,
		Channel:         d.Channel,
		PaidAt:          d.PaidAt,
		GatewayResponse: d.GatewayResponse,
		CustomerEmail:   d.Customer.Email,
		CustomerName:    strings.TrimSpace(d.Customer.FirstName + " " + d.Customer.LastName),
	}
}

func (p *Paystack) do(ctx context.Context, method, path string, body interface{}) (*envelope, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode gateway response (http %d): %w", resp.StatusCode, err)
	}
	return &env, nil
}

// Initialize opens a checkout for amount (major units).
func (p *Paystack) Initialize(ctx context.Context, req InitRequest) (*Checkout, error) {
	env, err := p.do(ctx, http.MethodPost, "/transaction/initialize", map[string]interface{}{
		"email":        req.Email,
		"amount":       req.Amount.Mul(decimal.NewFromInt(100)).Round(0).String(),
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
		"metadata":     req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: %s", ErrInitializeFailed, env.Message)
	}
	var co Checkout
	if err := json.Unmarshal(env.Data, &co); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}
	if co.Reference == "" {
		co.Reference = req.Reference
	}
	return &co, nil
}

// Verify asks the gateway for the authoritative state of reference. A charge
// that exists but did not settle is returned together with ErrChargeNotSuccessful.
func (p *Paystack) Verify(ctx context.Context, reference string) (*Charge, error) {
	env, err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		p.log.Warnw("paystack verify failed", "reference", reference, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !env.Status {
		msg := env.Message
		if msg == "" {
			msg = "Payment verification failed."
		}
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, msg)
	}
	var d chargeData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	ch := d.toCharge()
	if !ch.Succeeded() {
		reason := ch.GatewayResponse
		if reason == "" {
			reason = ch.Status
		}
		return ch, fmt.Errorf("%w: %s", ErrChargeNotSuccessful, reason)
	}
	return ch, nil
}

// ValidSignature checks the hex HMAC-SHA512 of the raw body in constant time.
func (p *Paystack) ValidSignature(body []byte, signature string) bool {
	if signature == "" || p.secretKey == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature ValidSignature accepts. Used by tests and tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook decodes an already-authenticated webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var raw struct {
		Event string     `json:"event"`
		Data  chargeData `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return &WebhookEvent{Event: raw.Event, Charge: raw.Data.toCharge()}, nil
}
