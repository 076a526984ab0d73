package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/vending-service/internal/config"
	"github.com/richardliu001/vending-service/internal/logger"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/notify"
	"github.com/richardliu001/vending-service/internal/payment"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/security"
	"github.com/richardliu001/vending-service/internal/service"
	httptransport "github.com/richardliu001/vending-service/internal/transport/http"
	"github.com/richardliu001/vending-service/internal/vendor"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	// 1. load .env (optional) and config
	_ = godotenv.Load()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level, "vending-server")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	// 6. repo
	repository := repo.NewRepository(gdb, rdb, kw, log)
	if err := repository.Migrate(); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 7. vendors, gateway, notifications, services
	registry := newRegistry(cfg, repository, log)
	gateway := payment.NewPaystack(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout, log)
	notifier := newNotifier(cfg, repository, log)
	orch := service.NewOrchestrator(repository, registry, log)

	svc := httptransport.Services{
		Orchestrator: orch,
		Payments: service.NewPaymentService(repository, gateway, registry, service.PaymentConfig{
			MinAmount:    cfg.Payment.MinAmount,
			Fee:          cfg.Payment.Fee,
			TaxRate:      cfg.Payment.TaxRate,
			FeeVerticals: verticals(cfg.Payment.FeeVerticals),
			CallbackURL:  cfg.Payment.CallbackURL,
		}, log),
		Reconciler: service.NewReconciler(repository, gateway, orch, notifier,
			security.NewVerifier(cfg.Payment.SecretKey, cfg.Security.ReplayWindow),
			cfg.Payment.RequireWebhookTimestamp, log),
		Transactions: service.NewTransactionService(repository, registry),
		Wallet: service.NewWalletService(repository, registry, notifier, service.WalletConfig{
			Provider:   cfg.Wallet.Provider,
			MinBalance: cfg.Wallet.MinBalance,
			Currency:   cfg.Wallet.Currency,
			CacheTTL:   cfg.Wallet.CacheTTL,
		}, log),
		Providers: service.NewProviderService(repository, registry),
		Catalog:   service.NewCatalogService(registry),
	}

	// 8. gin router
	router := httptransport.NewRouter(svc, httptransport.RouterConfig{
		RateLimit:   cfg.RateLimit,
		Security:    cfg.Security,
		FrontendURL: cfg.Payment.FrontendURL,
	}, log)

	// 9. serve until signalled
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		log.Infof("vending-server listening on %s (providers %v)", srv.Addr, registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func newRegistry(cfg *config.Config, repository *repo.Repository, log *zap.SugaredLogger) *vendor.Registry {
	bp := cfg.BillPayment
	opts := vendor.Options{
		Timeout:     bp.VendorTimeout,
		MaxFailures: bp.Breaker.MaxFailures,
		OpenFor:     bp.Breaker.OpenFor,
	}
	return vendor.NewRegistry(bp.Provider, repository, log,
		vendor.NewBuyPower(bp.BuyPower.BaseURL, bp.BuyPower.Token, opts, log),
		vendor.NewVTPass(bp.VTPass.BaseURL, bp.VTPass.APIKey, bp.VTPass.Secret, opts, log),
		vendor.NewInterswitch(bp.Interswitch.BaseURL, bp.Interswitch.ClientID, bp.Interswitch.Secret, bp.Interswitch.TerminalID, repository, opts, log),
		vendor.NewPaystack(bp.Paystack.BaseURL, bp.Paystack.SecretKey, opts, log),
	)
}

func newNotifier(cfg *config.Config, repository *repo.Repository, log *zap.SugaredLogger) *notify.Notifier {
	m := cfg.Mail
	known := map[string]notify.Provider{
		"mailtrap": notify.NewMailtrap(m.Mailtrap.BaseURL, m.Mailtrap.APIKey),
		"sendgrid": notify.NewSendGrid(m.SendGrid.BaseURL, m.SendGrid.APIKey),
		"smtp":     notify.NewSMTP(m.SMTP.Host, m.SMTP.Port, m.SMTP.Username, m.SMTP.Password),
	}
	var chain []notify.Provider
	for _, name := range m.Providers {
		p, ok := known[name]
		if !ok {
			log.Warnw("unknown mail provider ignored", "provider", name)
			continue
		}
		chain = append(chain, p)
	}
	dispatcher := notify.NewDispatcher(notify.Address{Email: m.FromEmail, Name: m.FromName}, m.ReplyTo, notify.NewLogMailer(log), log, chain...)
	t := cfg.SMS.Termii
	sms := notify.NewTermii(t.Enabled, t.BaseURL, t.APIKey, t.SenderID)
	return notify.NewNotifier(dispatcher, sms, repository, cfg.Wallet.AlertRecipients, cfg.Wallet.Currency, log)
}

func verticals(names []string) []model.Vertical {
	out := make([]model.Vertical, 0, len(names))
	for _, n := range names {
		out = append(out, model.Vertical(n))
	}
	return out
}
