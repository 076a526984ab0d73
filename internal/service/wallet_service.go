package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LowBalanceAlerter is told when the float drops below the threshold.
type LowBalanceAlerter interface {
	SendLowBalanceAlert(ctx context.Context, bal model.WalletBalance) error
}

type WalletConfig struct {
	Provider   string
	MinBalance decimal.Decimal
	Currency   string
	CacheTTL   time.Duration
}

// WalletService reports the merchant float held at the wallet vendor.
type WalletService struct {
	store    repo.TransactionStore
	registry *vendor.Registry
	alerts   LowBalanceAlerter
	cfg      WalletConfig
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewWalletService(store repo.TransactionStore, registry *vendor.Registry, alerts LowBalanceAlerter, cfg WalletConfig, log *zap.SugaredLogger) *WalletService {
	return &WalletService{store: store, registry: registry, alerts: alerts, cfg: cfg, log: log, now: time.Now}
}

// Balance returns the current float. Redis is consulted first; a fresh
// vendor read is cached and is the only path that may raise an alert, so
// one alert goes out per cache period at most.
func (s *WalletService) Balance(ctx context.Context) (*model.WalletBalance, error) {
	threshold := s.threshold(ctx)
	bal, err := s.store.GetCachedBalance(ctx, s.cfg.Provider)
	if err == nil {
		return s.snapshot(bal, threshold), nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warnw("wallet cache read failed", "provider", s.cfg.Provider, "error", err)
	}

	adapter, err := s.registry.Get(s.cfg.Provider)
	if err != nil {
		return nil, err
	}
	reader, ok := adapter.(vendor.BalanceReader)
	if !ok || !adapter.Supports(vendor.OpWalletBalance) {
		return nil, &vendor.AdapterError{Provider: adapter.Name(), Op: vendor.OpWalletBalance, Err: vendor.ErrUnsupportedOperation}
	}
	bal, err = reader.WalletBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet balance: %w", err)
	}
	if err := s.store.CacheBalance(ctx, s.cfg.Provider, bal, s.cfg.CacheTTL); err != nil {
		s.log.Warnw("wallet cache write failed", "provider", s.cfg.Provider, "error", err)
	}

	out := s.snapshot(bal, threshold)
	if out.LowBalanceAlert && s.alerts != nil {
		if err := s.alerts.SendLowBalanceAlert(ctx, *out); err != nil {
			s.log.Errorw("low balance alert failed", "provider", s.cfg.Provider, "error", err)
		}
	}
	return out, nil
}

func (s *WalletService) snapshot(bal, threshold decimal.Decimal) *model.WalletBalance {
	return &model.WalletBalance{
		Provider:        s.cfg.Provider,
		Balance:         bal,
		Currency:        s.cfg.Currency,
		Threshold:       threshold,
		LowBalanceAlert: bal.LessThan(threshold),
		LastUpdated:     s.now().UTC(),
	}
}

// threshold prefers the runtime setting over config.
func (s *WalletService) threshold(ctx context.Context) decimal.Decimal {
	v, ok, err := s.store.GetSetting(ctx, model.SettingWalletMinBalance)
	if err != nil {
		s.log.Warnw("wallet threshold setting unreadable", "error", err)
		return s.cfg.MinBalance
	}
	if !ok {
		return s.cfg.MinBalance
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		s.log.Warnw("wallet threshold setting malformed", "value", v)
		return s.cfg.MinBalance
	}
	return d
}
