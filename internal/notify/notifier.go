package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/richardliu001/vending-service/internal/model"
	"go.uber.org/zap"
)

// MetaAmender appends delivery records to a transaction.
type MetaAmender interface {
	AmendMeta(ctx context.Context, reference string, amend func(*model.Meta)) error
}

// Recipient is who the receipt goes to.
type Recipient struct {
	Email   string
	Name    string
	Phone   string
	Channel string
	PaidAt  string
}

// Notifier composes receipts and ops alerts on top of the Dispatcher.
type Notifier struct {
	mail     *Dispatcher
	sms      SMSSender
	store    MetaAmender
	alertTo  []string
	currency string
	log      *zap.SugaredLogger
}

func NewNotifier(mail *Dispatcher, sms SMSSender, store MetaAmender, alertTo []string, currency string, log *zap.SugaredLogger) *Notifier {
	return &Notifier{mail: mail, sms: sms, store: store, alertTo: alertTo, currency: currency, log: log}
}

var receiptTmpl = template.Must(template.New("receipt").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Payment receipt</h2>
<p>Hello {{.Name}},</p>
<p>We received your payment for <strong>{{.Type}}</strong>.</p>
<table cellpadding="4">
<tr><td>Reference</td><td>{{.Reference}}</td></tr>
<tr><td>Amount</td><td>{{.Currency}} {{.Amount}}</td></tr>
<tr><td>Status</td><td>{{.Status}}</td></tr>
{{if .Channel}}<tr><td>Channel</td><td>{{.Channel}}</td></tr>{{end}}
{{if .PaidAt}}<tr><td>Paid at</td><td>{{.PaidAt}}</td></tr>{{end}}
{{if .Token}}<tr><td>Token</td><td><strong>{{.Token}}</strong></td></tr>{{end}}
</table>
</body></html>`))

var lowBalanceTmpl = template.Must(template.New("low_balance").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Low wallet balance</h2>
<p>The {{.Provider}} wallet balance is <strong>{{.Currency}} {{.Balance}}</strong>,
below the alert threshold of {{.Currency}} {{.Threshold}}.</p>
<p>Checked at {{.LastUpdated}}.</p>
</body></html>`))

type receiptView struct {
	Name      string
	Type      string
	Reference string
	Currency  string
	Amount    string
	Status    string
	Channel   string
	PaidAt    string
	Token     string
}

// SendReceipt emails (and, when enabled, texts) a payment receipt. Failures
// are logged and recorded on the transaction; they are never returned.
func (n *Notifier) SendReceipt(ctx context.Context, tx *model.Transaction, to Recipient) {
	meta := tx.Metadata()
	view := receiptView{
		Name:      orDefault(to.Name, "Customer"),
		Type:      strings.ReplaceAll(string(tx.Type), "_", " "),
		Reference: tx.Reference,
		Currency:  n.currency,
		Amount:    tx.Amount.StringFixed(2),
		Status:    string(tx.Status),
		Channel:   to.Channel,
		PaidAt:    to.PaidAt,
		Token:     meta.ElectricityToken,
	}
	var html bytes.Buffer
	if err := receiptTmpl.Execute(&html, view); err != nil {
		n.log.Errorw("render receipt", "reference", tx.Reference, "error", err)
		return
	}

	var attempts []model.NotificationAttempt
	if to.Email != "" {
		provider, err := n.mail.Send(ctx, Message{
			To:       []Address{{Email: to.Email, Name: to.Name}},
			Subject:  "Payment receipt " + tx.Reference,
			HTML:     html.String(),
			Category: "receipt",
			Attachments: []Attachment{{
				Filename:    "receipt-" + tx.Reference + ".html",
				ContentType: "text/html",
				Content:     html.Bytes(),
			}},
		})
		attempts = append(attempts, attempt("email", provider, err))
		if err != nil {
			n.log.Errorw("receipt email failed", "reference", tx.Reference, "error", err)
		}
	}

	if to.Phone != "" && n.sms != nil {
		text := fmt.Sprintf("BillPay: Your %s payment of %s%s was successful. Ref: %s. Thank you!",
			view.Type, currencySymbol(n.currency), tx.Amount.StringFixed(2), tx.Reference)
		err := n.sms.SendSMS(ctx, to.Phone, text)
		switch {
		case errors.Is(err, ErrSMSDisabled):
			n.log.Debugw("receipt sms skipped", "reference", tx.Reference)
		case err != nil:
			n.log.Warnw("receipt sms failed (non-fatal)", "reference", tx.Reference, "error", err)
			attempts = append(attempts, attempt("sms", "termii", err))
		default:
			attempts = append(attempts, attempt("sms", "termii", nil))
		}
	}

	if len(attempts) == 0 || n.store == nil {
		return
	}
	if err := n.store.AmendMeta(ctx, tx.Reference, func(m *model.Meta) {
		m.Notifications = append(m.Notifications, attempts...)
	}); err != nil {
		n.log.Warnw("record notification attempts", "reference", tx.Reference, "error", err)
	}
}

// SendLowBalanceAlert mails the ops recipients about a low vendor float.
func (n *Notifier) SendLowBalanceAlert(ctx context.Context, bal model.WalletBalance) error {
	if len(n.alertTo) == 0 {
		n.log.Warnw("low wallet balance, no alert recipients configured", "provider", bal.Provider, "balance", bal.Balance.String())
		return nil
	}
	var html bytes.Buffer
	if err := lowBalanceTmpl.Execute(&html, map[string]string{
		"Provider":    bal.Provider,
		"Currency":    bal.Currency,
		"Balance":     bal.Balance.StringFixed(2),
		"Threshold":   bal.Threshold.StringFixed(2),
		"LastUpdated": bal.LastUpdated.Format(time.RFC1123),
	}); err != nil {
		return err
	}
	to := make([]Address, 0, len(n.alertTo))
	for _, e := range n.alertTo {
		to = append(to, Address{Email: e})
	}
	_, err := n.mail.Send(ctx, Message{
		To:       to,
		Subject:  "Low wallet balance: " + bal.Provider,
		HTML:     html.String(),
		Category: "ops_alert",
	})
	return err
}

func attempt(channel, provider string, err error) model.NotificationAttempt {
	a := model.NotificationAttempt{Channel: channel, Provider: provider, Sent: err == nil, At: time.Now().UTC()}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func currencySymbol(code string) string {
	if code == "NGN" || code == "" {
		return "₦"
	}
	return code + " "
}
