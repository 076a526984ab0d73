package service

import (
	"context"

	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
	"github.com/shopspring/decimal"
)

// ProviderSettings is the admin view of vendor routing.
type ProviderSettings struct {
	Active    string   `json:"active"`
	Available []string `json:"available"`
}

// ProviderService lets operators switch the default vendor at runtime.
type ProviderService struct {
	store    repo.TransactionStore
	registry *vendor.Registry
}

func NewProviderService(store repo.TransactionStore, registry *vendor.Registry) *ProviderService {
	return &ProviderService{store: store, registry: registry}
}

func (s *ProviderService) Get(ctx context.Context) ProviderSettings {
	return ProviderSettings{Active: s.registry.Default(ctx), Available: s.registry.Names()}
}

// SetActive persists name as the default provider. An optional wallet
// threshold is stored alongside it.
func (s *ProviderService) SetActive(ctx context.Context, name string, minBalance *decimal.Decimal) (ProviderSettings, error) {
	a, err := s.registry.Get(name)
	if err != nil {
		return ProviderSettings{}, err
	}
	if minBalance != nil {
		if minBalance.IsNegative() {
			return ProviderSettings{}, invalid("wallet_min_balance", "must not be negative")
		}
		if err := s.store.SetSetting(ctx, model.SettingWalletMinBalance, minBalance.String()); err != nil {
			return ProviderSettings{}, err
		}
	}
	if err := s.store.SetSetting(ctx, model.SettingBillPaymentProvider, a.Name()); err != nil {
		return ProviderSettings{}, err
	}
	return s.Get(ctx), nil
}
