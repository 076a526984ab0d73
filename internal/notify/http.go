package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, headers map[string]string) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func defaultClient() *http.Client { return &http.Client{Timeout: 15 * time.Second} }

// Mailtrap sends through the Mailtrap sending API.
type Mailtrap struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewMailtrap(baseURL, apiKey string) *Mailtrap {
	if baseURL == "" {
		baseURL = "https://send.api.mailtrap.io/api/send"
	}
	return &Mailtrap{BaseURL: baseURL, APIKey: apiKey, Client: defaultClient()}
}

func (m *Mailtrap) Name() string { return "mailtrap" }

func (m *Mailtrap) Configured() bool { return m.APIKey != "" && m.BaseURL != "" }

type mailtrapAttachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type"`
	Disposition string `json:"disposition"`
}

func (m *Mailtrap) Send(ctx context.Context, msg Message) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	atts := make([]mailtrapAttachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		atts = append(atts, mailtrapAttachment{
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			Filename:    a.Filename,
			Type:        a.ContentType,
			Disposition: "attachment",
		})
	}
	payload := map[string]interface{}{
		"from":        msg.From,
		"to":          msg.To,
		"subject":     msg.Subject,
		"text":        msg.Text,
		"category":    orDefault(msg.Category, "general"),
		"attachments": atts,
	}
	if msg.HTML != "" {
		payload["html"] = msg.HTML
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = Address{Email: msg.ReplyTo}
	}
	return postJSON(ctx, m.Client, m.BaseURL, payload, map[string]string{"Api-Token": m.APIKey})
}

// SendGrid sends through the SendGrid v3 mail API.
type SendGrid struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewSendGrid(baseURL, apiKey string) *SendGrid {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com/v3/mail/send"
	}
	return &SendGrid{BaseURL: baseURL, APIKey: apiKey, Client: defaultClient()}
}

func (s *SendGrid) Name() string { return "sendgrid" }

func (s *SendGrid) Configured() bool { return s.APIKey != "" }

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	content := []map[string]string{{"type": "text/plain", "value": orDefault(msg.Text, " ")}}
	if msg.HTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTML})
	}
	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{{"to": msg.To}},
		"from":             msg.From,
		"subject":          msg.Subject,
		"content":          content,
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = Address{Email: msg.ReplyTo}
	}
	if len(msg.Attachments) > 0 {
		atts := make([]map[string]string, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			atts = append(atts, map[string]string{
				"content":     base64.StdEncoding.EncodeToString(a.Content),
				"filename":    a.Filename,
				"type":        a.ContentType,
				"disposition": "attachment",
			})
		}
		payload["attachments"] = atts
	}
	return postJSON(ctx, s.Client, s.BaseURL, payload, map[string]string{"Authorization": "Bearer " + s.APIKey})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
