package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/richardliu001/vending-service/internal/config"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var nop = zap.NewNop().Sugar()

type stubProvider struct {
	name       string
	configured bool
	err        error
	mu         sync.Mutex
	sent       []Message
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Configured() bool { return s.configured }
func (s *stubProvider) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

func TestDispatcher_SkipsUnconfigured(t *testing.T) {
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}
	c := &stubProvider{name: "c", configured: true}
	base := &stubProvider{name: "base", configured: true}
	d := NewDispatcher(Address{Email: "noreply@example.com"}, "", base, nop, a, b, c)

	used, err := d.Send(context.Background(), Message{To: []Address{{Email: "x@example.com"}}, Subject: "hi", HTML: "<p>hi <b>there</b></p>"})
	require.NoError(t, err)
	assert.Equal(t, "c", used)
	assert.Empty(t, a.sent)
	assert.Empty(t, b.sent)
	assert.Empty(t, base.sent)
	require.Len(t, c.sent, 1)
	assert.Equal(t, "noreply@example.com", c.sent[0].From.Email)
	assert.Equal(t, "hi there", c.sent[0].Text)
}

func TestDispatcher_FallsThroughFailures(t *testing.T) {
	a := &stubProvider{name: "a", configured: true, err: errors.New("boom")}
	b := &stubProvider{name: "b", configured: true}
	d := NewDispatcher(Address{}, "", nil, nop, a, b)

	used, err := d.Send(context.Background(), Message{Subject: "s"})
	require.NoError(t, err)
	assert.Equal(t, "b", used)
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
}

func TestDispatcher_ExhaustedUsesBaseline(t *testing.T) {
	a := &stubProvider{name: "a", configured: true, err: errors.New("down")}
	d := NewDispatcher(Address{}, "", nil, nop, a, &stubProvider{name: "b"})

	used, err := d.Send(context.Background(), Message{Subject: "s"})
	require.NoError(t, err)
	assert.Equal(t, "log", used)
}

func TestMailtrap_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("Api-Token"))
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	t.Cleanup(srv.Close)

	m := NewMailtrap(srv.URL, "key")
	require.NoError(t, m.Send(context.Background(), Message{
		From: Address{Email: "f@example.com"}, To: []Address{{Email: "t@example.com"}},
		Subject: "s", HTML: "<p>x</p>", Text: "x",
		Attachments: []Attachment{{Filename: "r.html", ContentType: "text/html", Content: []byte("<p>x</p>")}},
	}))
	assert.Equal(t, "s", got["subject"])
	assert.Len(t, got["attachments"], 1)

	assert.False(t, NewMailtrap("", "").Configured())
	assert.ErrorIs(t, NewMailtrap("", "").Send(context.Background(), Message{}), ErrNotConfigured)
}

func TestSendGrid_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errors":[{"message":"forbidden"}]}`)
	}))
	t.Cleanup(srv.Close)

	err := NewSendGrid(srv.URL+"/v3/mail/send", "sg").Send(context.Background(), Message{Subject: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSendGrid_ShippedEndpoint(t *testing.T) {
	cfg, err := config.Load("../config/config.yaml")
	require.NoError(t, err)
	endpoint, err := url.Parse(cfg.Mail.SendGrid.BaseURL)
	require.NoError(t, err)

	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	sg := NewSendGrid(srv.URL+endpoint.Path, "sg")
	require.NoError(t, sg.Send(context.Background(), Message{Subject: "s", To: []Address{{Email: "t@example.com"}}}))
	assert.Equal(t, "/v3/mail/send", path)
	assert.Equal(t, "https://api.sendgrid.com/v3/mail/send", NewSendGrid("", "sg").BaseURL)
}

func TestSMTP_Send(t *testing.T) {
	s := NewSMTP("smtp.example.com", 2525, "u", "p")
	var (
		addr string
		to   []string
		raw  string
	)
	s.sendMail = func(a string, _ smtp.Auth, _ string, rcpt []string, msg []byte) error {
		addr, to, raw = a, rcpt, string(msg)
		return nil
	}
	require.NoError(t, s.Send(context.Background(), Message{
		From: Address{Email: "f@example.com", Name: "Bills"}, To: []Address{{Email: "t@example.com"}},
		Subject: "Receipt", Text: "plain", HTML: "<p>html</p>",
		Attachments: []Attachment{{Filename: "r.html", ContentType: "text/html", Content: []byte("x")}},
	}))
	assert.Equal(t, "smtp.example.com:2525", addr)
	assert.Equal(t, []string{"t@example.com"}, to)
	assert.Contains(t, raw, "Subject: Receipt")
	assert.Contains(t, raw, "multipart/mixed")
	assert.Contains(t, raw, `filename=r.html`)

	assert.False(t, NewSMTP("", 0, "", "").Configured())
}

func TestTermii(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sms/send", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"code":"ok","message_id":"1"}`)
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, NewTermii(true, srv.URL, "k", "").SendSMS(context.Background(), "0803 123 4567", "hi"))
	assert.Equal(t, "2348031234567", got["to"])
	assert.Equal(t, "BillPay", got["from"])

	assert.ErrorIs(t, NewTermii(false, srv.URL, "k", "").SendSMS(context.Background(), "0803", "hi"), ErrSMSDisabled)
	assert.ErrorIs(t, NewTermii(true, srv.URL, "", "").SendSMS(context.Background(), "0803", "hi"), ErrNotConfigured)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "2348012345678", NormalizePhone("08012345678"))
	assert.Equal(t, "2348012345678", NormalizePhone("+234 801-234-5678"))
	assert.Equal(t, "", NormalizePhone(""))
}

type recordingStore struct {
	meta model.Meta
	refs []string
}

func (r *recordingStore) AmendMeta(_ context.Context, ref string, fn func(*model.Meta)) error {
	r.refs = append(r.refs, ref)
	fn(&r.meta)
	return nil
}

type stubSMS struct{ err error }

func (s stubSMS) SendSMS(context.Context, string, string) error { return s.err }

func TestNotifier_SendReceipt(t *testing.T) {
	mail := &stubProvider{name: "mailtrap", configured: true}
	store := &recordingStore{}
	n := NewNotifier(NewDispatcher(Address{Email: "noreply@example.com"}, "", nil, nop, mail), stubSMS{}, store, nil, "NGN", nop)

	tx := &model.Transaction{Reference: "PAY_1", Type: model.TypeElectricity, Amount: decimal.NewFromInt(1601), Status: model.StatusPaid}
	tx.SetMetadata(model.Meta{ElectricityToken: "1234-5678"})
	n.SendReceipt(context.Background(), tx, Recipient{Email: "ada@example.com", Name: "Ada", Phone: "0803"})

	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Contains(t, msg.HTML, "PAY_1")
	assert.Contains(t, msg.HTML, "1601.00")
	assert.Contains(t, msg.HTML, "1234-5678")
	assert.Len(t, msg.Attachments, 1)

	require.Len(t, store.meta.Notifications, 2)
	assert.Equal(t, "email", store.meta.Notifications[0].Channel)
	assert.Equal(t, "mailtrap", store.meta.Notifications[0].Provider)
	assert.True(t, store.meta.Notifications[1].Sent)
}

func TestNotifier_SMSDisabledNotRecorded(t *testing.T) {
	store := &recordingStore{}
	n := NewNotifier(NewDispatcher(Address{}, "", nil, nop), stubSMS{err: ErrSMSDisabled}, store, nil, "NGN", nop)
	tx := &model.Transaction{Reference: "PAY_2", Type: model.TypeAirtime, Amount: decimal.NewFromInt(100), Status: model.StatusSuccess}

	n.SendReceipt(context.Background(), tx, Recipient{Email: "a@example.com", Phone: "0803"})
	require.Len(t, store.meta.Notifications, 1)
	assert.Equal(t, "log", store.meta.Notifications[0].Provider)
}

func TestNotifier_LowBalanceAlert(t *testing.T) {
	mail := &stubProvider{name: "smtp", configured: true}
	n := NewNotifier(NewDispatcher(Address{}, "", nil, nop, mail), nil, nil, []string{"ops@example.com", "cfo@example.com"}, "NGN", nop)

	require.NoError(t, n.SendLowBalanceAlert(context.Background(), model.WalletBalance{
		Provider: "buypower", Balance: decimal.NewFromInt(1500), Threshold: decimal.NewFromInt(20000), Currency: "NGN",
	}))
	require.Len(t, mail.sent, 1)
	assert.Len(t, mail.sent[0].To, 2)
	assert.True(t, strings.Contains(mail.sent[0].HTML, "1500.00"))
}
