package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
)

// ErrSMSDisabled is returned when SMS delivery is switched off.
var ErrSMSDisabled = errors.New("sms delivery disabled")

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) error
}

// Termii sends SMS through the Termii API.
type Termii struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	SenderID string
	Client   *http.Client
}

func NewTermii(enabled bool, baseURL, apiKey, senderID string) *Termii {
	if baseURL == "" {
		baseURL = "https://api.ng.termii.com/api"
	}
	if senderID == "" {
		senderID = "BillPay"
	}
	return &Termii{
		Enabled:  enabled,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		SenderID: senderID,
		Client:   defaultClient(),
	}
}

func (t *Termii) SendSMS(ctx context.Context, to, text string) error {
	if !t.Enabled {
		return ErrSMSDisabled
	}
	if t.APIKey == "" {
		return ErrNotConfigured
	}
	buf, err := json.Marshal(map[string]string{
		"to":      NormalizePhone(to),
		"from":    t.SenderID,
		"sms":     text,
		"type":    "plain",
		"channel": "generic",
		"api_key": t.APIKey,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/sms/send", strings.NewReader(string(buf)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode >= 300 || body.Code != "ok" {
		return fmt.Errorf("termii: http %d: %s", resp.StatusCode, body.Message)
	}
	return nil
}

// NormalizePhone strips non-digits and rewrites a leading 0 to the 234 country code.
func NormalizePhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if strings.HasPrefix(digits, "0") {
		return "234" + digits[1:]
	}
	return digits
}
