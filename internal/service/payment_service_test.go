package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/payment"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentService(t *testing.T, gw *fakeGateway, adapters ...vendor.Adapter) (*PaymentService, *repo.Repository) {
	t.Helper()
	store := newStore(t, nil)
	reg := vendor.NewRegistry(adapters[0].Name(), store, testLogger(t), adapters...)
	cfg := PaymentConfig{
		MinAmount:    decimal.NewFromInt(100),
		Fee:          decimal.NewFromInt(100),
		TaxRate:      decimal.RequireFromString("0.0015"),
		FeeVerticals: []model.Vertical{model.VerticalElectricity, model.VerticalEntertainment},
		CallbackURL:  "https://api.test/payment/callback",
	}
	return NewPaymentService(store, gw, reg, cfg, testLogger(t)), store
}

func electricityBill() model.BillData {
	return model.BillData{MeterNumber: "12345678901", Disco: "AEDC", Phone: "08030000000", CustomerName: "Ada Lovelace"}
}

func TestPaymentService_Quote(t *testing.T) {
	s, _ := newPaymentService(t, &fakeGateway{}, newFakeAdapter("buypower", nil))

	q := s.Quote(model.VerticalElectricity, decimal.NewFromInt(1000))
	assert.True(t, q.Fee.Equal(decimal.NewFromInt(100)))
	assert.True(t, q.Tax.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, q.Total.Equal(decimal.RequireFromString("1101.5")))

	q = s.Quote(model.VerticalTelecoms, decimal.NewFromInt(1000))
	assert.True(t, q.Fee.IsZero())
	assert.True(t, q.Total.Equal(decimal.NewFromInt(1000)))
}

func TestPaymentService_Initialize(t *testing.T) {
	gw := &fakeGateway{}
	s, store := newPaymentService(t, gw, newFakeAdapter("buypower", nil))
	ctx := context.Background()

	res, err := s.Initialize(ctx, InitializeInput{
		Email:    "ada@example.com",
		Amount:   decimal.NewFromInt(1000),
		Vertical: "electricity",
		BillData: electricityBill(),
	})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^PAY_[0-9a-f]{13}_\d+$`), res.Reference)
	assert.Equal(t, "https://checkout.test/"+res.Reference, res.AuthorizationURL)
	require.Len(t, gw.inits, 1)
	assert.True(t, gw.inits[0].Amount.Equal(decimal.RequireFromString("1101.5")))

	tx, err := store.FindByReference(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingPayment, tx.Status)
	assert.Equal(t, model.TypeElectricity, tx.Type)
	meta := tx.Metadata()
	assert.True(t, meta.OriginalAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "paystack", meta.Gateway)
	assert.Equal(t, "ada@example.com", meta.BillData.Email)
}

func TestPaymentService_InitializeTelecomsType(t *testing.T) {
	s, store := newPaymentService(t, &fakeGateway{}, newFakeAdapter("vtpass", nil))
	ctx := context.Background()

	res, err := s.Initialize(ctx, InitializeInput{
		Email:    "ada@example.com",
		Amount:   decimal.NewFromInt(500),
		Vertical: "telecoms",
		BillData: model.BillData{Type: "data", PhoneNumber: "08030000000", Network: "MTN", TariffClass: "mtn-1gb"},
	})
	require.NoError(t, err)
	tx, _ := store.FindByReference(ctx, res.Reference)
	assert.Equal(t, model.TypeData, tx.Type)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(500)))
}

func TestPaymentService_GatewayRefusalFailsRow(t *testing.T) {
	gw := &fakeGateway{initErr: errors.New("Invalid key")}
	s, store := newPaymentService(t, gw, newFakeAdapter("buypower", nil))
	ctx := context.Background()

	_, err := s.Initialize(ctx, InitializeInput{Email: "ada@example.com", Amount: decimal.NewFromInt(1000), Vertical: "electricity", BillData: electricityBill()})
	require.Error(t, err)

	items, total, err := store.ListTransactions(ctx, repo.TransactionFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, model.StatusFailed, items[0].Status)
	assert.Equal(t, "Invalid key", items[0].Metadata().InitError)
}

func TestPaymentService_RejectsBeforePersisting(t *testing.T) {
	gw := &fakeGateway{}
	s, store := newPaymentService(t, gw, newFakeAdapter("paystack", nil, vendor.OpVendElectricity))
	ctx := context.Background()

	_, err := s.Initialize(ctx, InitializeInput{Email: "not-an-email", Amount: decimal.NewFromInt(1000), Vertical: "electricity", BillData: electricityBill()})
	require.ErrorIs(t, err, ErrValidation)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email", ve.Field)

	_, err = s.Initialize(ctx, InitializeInput{Email: "ada@example.com", Amount: decimal.NewFromInt(1000), Vertical: "insurance", BillData: electricityBill()})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "type", ve.Field)

	_, err = s.Initialize(ctx, InitializeInput{Email: "ada@example.com", Amount: decimal.NewFromInt(50), Vertical: "electricity", BillData: electricityBill()})
	require.ErrorIs(t, err, ErrValidation)

	_, err = s.Initialize(ctx, InitializeInput{Email: "ada@example.com", Amount: decimal.NewFromInt(1000), Vertical: "electricity", BillData: model.BillData{Disco: "AEDC"}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = s.Initialize(ctx, InitializeInput{Email: "ada@example.com", Amount: decimal.NewFromInt(1000), Vertical: "telecoms",
		BillData: model.BillData{Type: "airtime", PhoneNumber: "08030000000", Network: "MTN"}})
	require.ErrorIs(t, err, vendor.ErrUnsupportedOperation)

	_, total, _ := store.ListTransactions(ctx, repo.TransactionFilter{})
	assert.Zero(t, total)
	assert.Empty(t, gw.inits)
}

var _ payment.Gateway = (*fakeGateway)(nil)
