// Package notify delivers email and SMS through an ordered chain of
// providers. Delivery problems are logged and never fail the caller's
// business operation.
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by a provider that lacks credentials.
var ErrNotConfigured = errors.New("notification provider not configured")

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a provider-neutral email.
type Message struct {
	From        Address
	ReplyTo     string
	To          []Address
	Subject     string
	HTML        string
	Text        string
	Category    string
	Attachments []Attachment
}

// Provider is one email transport in the fallback chain.
type Provider interface {
	Name() string
	Configured() bool
	Send(ctx context.Context, msg Message) error
}

// Dispatcher tries providers in order; the first configured one that accepts
// the message wins. The baseline provider is used once the chain is exhausted.
type Dispatcher struct {
	providers []Provider
	baseline  Provider
	from      Address
	replyTo   string
	log       *zap.SugaredLogger
}

func NewDispatcher(from Address, replyTo string, baseline Provider, log *zap.SugaredLogger, providers ...Provider) *Dispatcher {
	if baseline == nil {
		baseline = NewLogMailer(log)
	}
	return &Dispatcher{providers: providers, baseline: baseline, from: from, replyTo: replyTo, log: log}
}

// Send returns the name of the provider that accepted msg.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (string, error) {
	if msg.From.Email == "" {
		msg.From = d.from
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = d.replyTo
	}
	if msg.Text == "" && msg.HTML != "" {
		msg.Text = stripTags(msg.HTML)
	}
	for _, p := range d.providers {
		if !p.Configured() {
			d.log.Debugw("mail provider skipped: not configured", "provider", p.Name())
			continue
		}
		if err := p.Send(ctx, msg); err != nil {
			d.log.Warnw("mail provider failed, trying next", "provider", p.Name(), "subject", msg.Subject, "error", err)
			continue
		}
		return p.Name(), nil
	}
	if err := d.baseline.Send(ctx, msg); err != nil {
		return d.baseline.Name(), err
	}
	return d.baseline.Name(), nil
}

// LogMailer is the always-available baseline: it records the message in the
// application log instead of delivering it.
type LogMailer struct {
	log *zap.SugaredLogger
}

func NewLogMailer(log *zap.SugaredLogger) *LogMailer { return &LogMailer{log: log} }

func (l *LogMailer) Name() string { return "log" }

func (l *LogMailer) Configured() bool { return true }

func (l *LogMailer) Send(_ context.Context, msg Message) error {
	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, a.Email)
	}
	l.log.Infow("mail logged (no transport delivered it)",
		"to", strings.Join(to, ","),
		"subject", msg.Subject,
		"category", msg.Category,
		"attachments", len(msg.Attachments),
	)
	return nil
}

func stripTags(html string) string {
	var b strings.Builder
	in := false
	for _, r := range html {
		switch {
		case r == '<':
			in = true
		case r == '>':
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
