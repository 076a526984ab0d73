package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/vending-service/internal/logger"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/notify"
	"github.com/richardliu001/vending-service/internal/payment"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := logger.NewLogger("debug", "test")
	require.NoError(t, err)
	return l
}

func newStore(t *testing.T, rdb *redis.Client) *repo.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "svc.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	r := repo.NewRepository(db, rdb, &kafka.Writer{}, testLogger(t))
	require.NoError(t, r.Migrate())
	return r
}

// fakeAdapter answers every vend with result/err and counts calls.
type fakeAdapter struct {
	name    string
	ops     map[vendor.Operation]bool
	result  *vendor.Result
	err     error
	balance decimal.Decimal
	calls   int32

	mu   sync.Mutex
	last vendor.Request
	// block, when set, is waited on before answering.
	block chan struct{}
}

func newFakeAdapter(name string, res *vendor.Result, ops ...vendor.Operation) *fakeAdapter {
	if len(ops) == 0 {
		ops = []vendor.Operation{
			vendor.OpVendElectricity, vendor.OpVendTelecoms, vendor.OpVendEntertainment,
			vendor.OpCheckMeter, vendor.OpTransactionStatus,
		}
	}
	m := make(map[vendor.Operation]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return &fakeAdapter{name: name, ops: m, result: res}
}

func (f *fakeAdapter) Name() string                      { return f.name }
func (f *fakeAdapter) Supports(op vendor.Operation) bool { return f.ops[op] }

func (f *fakeAdapter) vend(ctx context.Context, req vendor.Request) (*vendor.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &vendor.Result{Outcome: vendor.OutcomeIndeterminate}, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeAdapter) VendElectricity(ctx context.Context, req vendor.Request) (*vendor.Result, error) {
	return f.vend(ctx, req)
}

func (f *fakeAdapter) VendTelecoms(ctx context.Context, req vendor.Request) (*vendor.Result, error) {
	return f.vend(ctx, req)
}

func (f *fakeAdapter) VendEntertainment(ctx context.Context, req vendor.Request) (*vendor.Result, error) {
	return f.vend(ctx, req)
}

func (f *fakeAdapter) CheckMeter(_ context.Context, meter, disco, vendType string) (*vendor.MeterInfo, error) {
	return &vendor.MeterInfo{MeterNumber: meter, Disco: disco, VendType: vendType, CustomerName: "ADA LOVELACE", Valid: true}, nil
}

func (f *fakeAdapter) TransactionStatus(_ context.Context, orderID string) (*vendor.Result, error) {
	return &vendor.Result{Outcome: vendor.OutcomeSuccess, VendorOrderID: orderID}, nil
}

func (f *fakeAdapter) WalletBalance(context.Context) (decimal.Decimal, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.balance, f.err
}

func (f *fakeAdapter) lastRequest() vendor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func success(token string) *vendor.Result {
	return &vendor.Result{
		Outcome:       vendor.OutcomeSuccess,
		ResponseCode:  "00",
		Message:       "Successful",
		VendorOrderID: "order-1",
		Token:         token,
		Raw:           json.RawMessage(`{"status":true}`),
	}
}

// fakeGateway signs webhooks with secret and verifies from a fixed table.
type fakeGateway struct {
	secret  string
	charges map[string]*payment.Charge
	initErr error
	inits   []payment.InitRequest
}

func (g *fakeGateway) Name() string { return "paystack" }

func (g *fakeGateway) Initialize(_ context.Context, req payment.InitRequest) (*payment.Checkout, error) {
	g.inits = append(g.inits, req)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &payment.Checkout{AuthorizationURL: "https://checkout.test/" + req.Reference, AccessCode: "ac_1", Reference: req.Reference}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*payment.Charge, error) {
	c, ok := g.charges[reference]
	if !ok {
		return nil, payment.ErrVerificationFailed
	}
	if !c.Succeeded() {
		return c, payment.ErrChargeNotSuccessful
	}
	return c, nil
}

func (g *fakeGateway) ValidSignature(body []byte, signature string) bool {
	return signature != "" && signature == payment.Sign(g.secret, body)
}

type receiptLog struct {
	mu   sync.Mutex
	sent []notify.Recipient
	txs  []model.Transaction
}

func (r *receiptLog) SendReceipt(_ context.Context, tx *model.Transaction, to notify.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to)
	r.txs = append(r.txs, *tx)
}

func (r *receiptLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func outboxTypes(t *testing.T, store *repo.Repository) []string {
	t.Helper()
	var evts []model.OutboxEvent
	require.NoError(t, store.DB(context.Background()).Order("id").Find(&evts).Error)
	out := make([]string, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.EventType)
	}
	return out
}
