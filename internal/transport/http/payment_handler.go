package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type initializeReq struct {
	Email    string          `json:"email" binding:"required,email"`
	Amount   decimal.Decimal `json:"amount"`
	Type     string          `json:"type" binding:"required"`
	BillData model.BillData  `json:"bill_data"`
	Provider string          `json:"provider"`
}

func initializePaymentHandler(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initializeReq
		if !bindJSON(c, &req) {
			return
		}
		res, err := svc.Initialize(c.Request.Context(), service.InitializeInput{
			Email:    req.Email,
			Amount:   req.Amount,
			Vertical: req.Type,
			BillData: req.BillData,
			Provider: firstNonEmpty(req.Provider, c.GetHeader(ProviderHeader)),
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, "Payment initialized successfully.", res)
	}
}

// webhookHandler always acknowledges an authenticated webhook with 200 so
// the gateway stops retrying. Only authentication failures are rejected.
func webhookHandler(svc *service.Reconciler, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abort(c, http.StatusBadRequest, "Unable to read request body.")
			return
		}
		res, err := svc.HandleWebhook(c.Request.Context(), service.WebhookRequest{
			Body:      body,
			Signature: c.GetHeader("x-paystack-signature"),
			Timestamp: c.GetHeader("X-Timestamp"),
		})
		if err != nil {
			if errors.Is(err, repo.ErrTransactionNotFound) {
				log.Warnw("webhook for unknown reference", "error", err)
				c.JSON(http.StatusOK, gin.H{"status": "success"})
				return
			}
			fail(c, err)
			return
		}
		if res.VendErr != nil {
			log.Errorw("webhook fulfilment failed", "reference", res.Reference, "error", res.VendErr)
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// callbackHandler verifies the redirect and sends the browser to the
// receipt page.
func callbackHandler(svc *service.Reconciler, frontendURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := firstNonEmpty(c.Query("reference"), c.Query("trxref"))
		if ref == "" {
			abort(c, http.StatusBadRequest, "No payment reference provided.")
			return
		}
		res, err := svc.HandleCallback(c.Request.Context(), ref)
		if err != nil {
			fail(c, err)
			return
		}
		if res.AlreadyProcessed {
			status := ""
			if res.Transaction != nil {
				status = string(res.Transaction.Status)
			}
			ok(c, "Payment already processed.", gin.H{"reference": ref, "transaction_status": status})
			return
		}
		c.Redirect(http.StatusFound, strings.TrimRight(frontendURL, "/")+"/bills/receipt?reference="+url.QueryEscape(ref))
	}
}

func tariffHandler(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.Tariffs(c.Request.Context(), routing(c, c.Query("provider")), c.Request.URL.Query())
		catalogResponse(c, data, err, "Tariffs retrieved.")
	}
}

func bouquetsHandler(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.Bouquets(c.Request.Context(), routing(c, c.Query("provider")), c.Request.URL.Query())
		catalogResponse(c, data, err, "Bouquets retrieved.")
	}
}

func dataPlansHandler(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.DataPlans(c.Request.Context(), routing(c, c.Query("provider")), c.Request.URL.Query())
		catalogResponse(c, data, err, "Data plans retrieved.")
	}
}

func reliabilityHandler(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.ReliabilityIndex(c.Request.Context(), routing(c, c.Query("provider")))
		catalogResponse(c, data, err, "Reliability index retrieved.")
	}
}

func catalogResponse(c *gin.Context, data json.RawMessage, err error, message string) {
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, message, data)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
