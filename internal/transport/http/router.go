package http

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/richardliu001/vending-service/internal/config"
	"github.com/richardliu001/vending-service/internal/security"
	"github.com/richardliu001/vending-service/internal/service"
	"go.uber.org/zap"
)

// RouterConfig carries what the transport needs from config.
type RouterConfig struct {
	RateLimit   config.RateLimitConfig
	Security    config.SecurityConfig
	FrontendURL string
}

var bindingNames sync.Once

// useJSONFieldNames makes binding failures name fields as clients send them.
func useJSONFieldNames() {
	bindingNames.Do(func() {
		if v, found := binding.Validator.Engine().(*validator.Validate); found {
			service.RegisterFieldNames(v)
		}
	})
}

func NewRouter(svc Services, cfg RouterConfig, log *zap.SugaredLogger) *gin.Engine {
	useJSONFieldNames()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	if cfg.RateLimit.RPS > 0 {
		r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	if cfg.Security.ServerToken == "" || cfg.Security.APIKey == "" || cfg.Security.SigningSecret == "" {
		log.Warn("merchant API authentication is partially disabled; set server token, api key and signing secret")
	}
	RegisterHandlers(r, svc, cfg, log)
	return r
}

func RegisterHandlers(r *gin.Engine, svc Services, cfg RouterConfig, log *zap.SugaredLogger) {
	r.GET("/healthz", func(c *gin.Context) { ok(c, "ok", nil) })

	// gateway-facing; authenticated by the gateway signature or by verify
	r.POST("/payment/webhook", webhookHandler(svc.Reconciler, log))
	r.GET("/payment/callback", callbackHandler(svc.Reconciler, cfg.FrontendURL))

	guard := []gin.HandlerFunc{
		HeaderSecretMiddleware("X-SERVER-TOKEN", cfg.Security.ServerToken, "Invalid server token."),
		HeaderSecretMiddleware("X-API-KEY", cfg.Security.APIKey, "Invalid API key."),
		SignatureMiddleware(security.NewVerifier(cfg.Security.SigningSecret, cfg.Security.ReplayWindow)),
	}

	v1 := r.Group("/v1", guard...)
	{
		v1.POST("/vend/electricity", vendElectricityHandler(svc.Orchestrator))
		v1.POST("/vend/telecoms", vendTelecomsHandler(svc.Orchestrator))
		v1.POST("/vend/entertainment", vendEntertainmentHandler(svc.Orchestrator))
		v1.GET("/check/meter", checkMeterHandler(svc.Orchestrator))
		v1.GET("/transaction/:orderId", remoteStatusHandler(svc.Transactions))
		v1.GET("/transactions/:reference", getTransactionHandler(svc.Transactions))
		v1.POST("/payment/initialize", initializePaymentHandler(svc.Payments))

		admin := v1.Group("/admin")
		admin.GET("/transactions", listTransactionsHandler(svc.Transactions))
		admin.GET("/wallet/balance", walletBalanceHandler(svc.Wallet))
		admin.GET("/provider", getProviderHandler(svc.Providers))
		admin.PUT("/provider", updateProviderHandler(svc.Providers))
	}

	v2 := r.Group("/v2", guard...)
	{
		v2.GET("/tariff", tariffHandler(svc.Catalog))
		v2.GET("/tv/bouquets", bouquetsHandler(svc.Catalog))
		v2.GET("/data/plans", dataPlansHandler(svc.Catalog))
		v2.GET("/providers/reliability-index", reliabilityHandler(svc.Catalog))
	}
}
