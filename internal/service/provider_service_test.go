package service

import (
	"context"
	"testing"

	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderService_SwitchesDefault(t *testing.T) {
	store := newStore(t, nil)
	reg := vendor.NewRegistry("buypower", store, testLogger(t),
		newFakeAdapter("buypower", nil), newFakeAdapter("vtpass", nil))
	svc := NewProviderService(store, reg)
	ctx := context.Background()

	assert.Equal(t, ProviderSettings{Active: "buypower", Available: []string{"buypower", "vtpass"}}, svc.Get(ctx))

	floor := decimal.NewFromInt(5000)
	got, err := svc.SetActive(ctx, "VTPASS", &floor)
	require.NoError(t, err)
	assert.Equal(t, "vtpass", got.Active)

	v, ok, err := store.GetSetting(ctx, model.SettingWalletMinBalance)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "5000", v)

	_, err = svc.SetActive(ctx, "acme", nil)
	require.ErrorIs(t, err, vendor.ErrUnsupportedProvider)
	assert.Equal(t, "vtpass", svc.Get(ctx).Active)

	neg := decimal.NewFromInt(-1)
	_, err = svc.SetActive(ctx, "buypower", &neg)
	require.ErrorIs(t, err, ErrValidation)
}

func TestTransactionService(t *testing.T) {
	store := newStore(t, nil)
	bp := newFakeAdapter("buypower", success(""))
	ps := newFakeAdapter("paystack", nil, vendor.OpVendElectricity)
	reg := vendor.NewRegistry("buypower", store, testLogger(t), bp, ps)
	o := NewOrchestrator(store, reg, testLogger(t))
	svc := NewTransactionService(store, reg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := o.VendElectricity(ctx, electricityInput())
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, repo.TransactionFilter{PerPage: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.LastPage)

	got, err := svc.GetByReference(ctx, page.Items[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)

	_, err = svc.GetByReference(ctx, "missing")
	require.ErrorIs(t, err, repo.ErrTransactionNotFound)

	calls := bp.calls
	res, err := svc.RemoteStatus(ctx, Routing{}, "order-9")
	require.NoError(t, err)
	assert.Equal(t, "order-9", res.VendorOrderID)
	assert.Equal(t, calls, bp.calls)

	_, err = svc.RemoteStatus(ctx, Routing{Provider: "paystack"}, "order-9")
	require.ErrorIs(t, err, vendor.ErrUnsupportedOperation)
}

func TestCatalogService_RequiresCatalog(t *testing.T) {
	store := newStore(t, nil)
	reg := vendor.NewRegistry("buypower", store, testLogger(t), newFakeAdapter("buypower", nil, vendor.OpCatalog))
	_, err := NewCatalogService(reg).Tariffs(context.Background(), Routing{}, nil)
	require.ErrorIs(t, err, vendor.ErrUnsupportedOperation)
}
