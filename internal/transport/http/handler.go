package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/service"
	"github.com/shopspring/decimal"
)

// ProviderHeader lets a client pick the vendor when the body does not.
const ProviderHeader = "X-BILL-PROVIDER"

// Services are the application services the handlers delegate to.
type Services struct {
	Orchestrator *service.Orchestrator
	Payments     *service.PaymentService
	Reconciler   *service.Reconciler
	Transactions *service.TransactionService
	Wallet       *service.WalletService
	Providers    *service.ProviderService
	Catalog      *service.CatalogService
}

func routing(c *gin.Context, explicit string) service.Routing {
	return service.Routing{Provider: explicit, Hint: c.GetHeader(ProviderHeader)}
}

// bindJSON decodes and checks the body, answering 422 on bad input.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fail(c, service.ValidationFailure(err))
			return false
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, envelope{Status: false, Message: "Invalid request body.", Errors: err.Error()})
		return false
	}
	return true
}

type electricityReq struct {
	MeterNumber  string          `json:"meter_number" binding:"required,max=20"`
	Disco        string          `json:"disco" binding:"required"`
	VendType     string          `json:"vend_type"`
	Amount       decimal.Decimal `json:"amount"`
	CustomerName string          `json:"customer_name" binding:"required,max=255"`
	Phone        string          `json:"phone" binding:"required,max=15"`
	Email        string          `json:"email" binding:"omitempty,email"`
	Provider     string          `json:"provider"`
}

func vendElectricityHandler(svc *service.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req electricityReq
		if !bindJSON(c, &req) {
			return
		}
		tx, err := svc.VendElectricity(c.Request.Context(), service.ElectricityInput{
			Routing:      routing(c, req.Provider),
			MeterNumber:  req.MeterNumber,
			Disco:        req.Disco,
			VendType:     req.VendType,
			Amount:       req.Amount,
			CustomerName: req.CustomerName,
			Phone:        req.Phone,
			Email:        req.Email,
		})
		vendResponse(c, tx, err, "Electricity vend initiated successfully.")
	}
}

type telecomsReq struct {
	Type         string          `json:"type" binding:"required"`
	PhoneNumber  string          `json:"phone_number" binding:"required,max=20"`
	Network      string          `json:"network" binding:"required"`
	DataPlan     string          `json:"data_plan" binding:"max=100"`
	Amount       decimal.Decimal `json:"amount"`
	CustomerName string          `json:"customer_name"`
	Email        string          `json:"email" binding:"omitempty,email"`
	Provider     string          `json:"provider"`
}

func vendTelecomsHandler(svc *service.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req telecomsReq
		if !bindJSON(c, &req) {
			return
		}
		tx, err := svc.VendTelecoms(c.Request.Context(), service.TelecomsInput{
			Routing:      routing(c, req.Provider),
			Type:         req.Type,
			PhoneNumber:  req.PhoneNumber,
			Network:      req.Network,
			DataPlan:     req.DataPlan,
			Amount:       req.Amount,
			CustomerName: req.CustomerName,
			Email:        req.Email,
		})
		vendResponse(c, tx, err, "Telecoms purchase initiated successfully.")
	}
}

type entertainmentReq struct {
	Type            string          `json:"type" binding:"required"`
	Service         string          `json:"service"`
	SmartcardNumber string          `json:"smartcard_number" binding:"max=50"`
	PackageCode     string          `json:"package_code" binding:"max=50"`
	Amount          decimal.Decimal `json:"amount"`
	CustomerName    string          `json:"customer_name"`
	Phone           string          `json:"phone" binding:"max=20"`
	Email           string          `json:"email" binding:"omitempty,email"`
	Provider        string          `json:"provider"`
}

func vendEntertainmentHandler(svc *service.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entertainmentReq
		if !bindJSON(c, &req) {
			return
		}
		tx, err := svc.VendEntertainment(c.Request.Context(), service.EntertainmentInput{
			Routing:         routing(c, req.Provider),
			Type:            req.Type,
			Service:         req.Service,
			SmartcardNumber: req.SmartcardNumber,
			PackageCode:     req.PackageCode,
			Amount:          req.Amount,
			CustomerName:    req.CustomerName,
			Phone:           req.Phone,
			Email:           req.Email,
		})
		vendResponse(c, tx, err, "Entertainment purchase initiated successfully.")
	}
}

// vendResponse reports a vend. Once a row exists it is always returned,
// including when the vendor declined or could not be reached.
func vendResponse(c *gin.Context, tx *model.Transaction, err error, message string) {
	if err == nil {
		ok(c, message, tx)
		return
	}
	if tx == nil {
		fail(c, err)
		return
	}
	status, msg := statusFor(err)
	if errors.Is(err, service.ErrVendFailed) {
		status, msg = http.StatusBadRequest, "Vending failed"
		if r := tx.Metadata().VendResponse; r != nil && r.Message != "" {
			msg = r.Message
		}
	}
	c.AbortWithStatusJSON(status, envelope{Status: false, Message: msg, Data: tx})
}

func checkMeterHandler(svc *service.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := svc.CheckMeter(c.Request.Context(), routing(c, c.Query("provider")),
			c.Query("meter"), c.Query("disco"), c.DefaultQuery("vend_type", "prepaid"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, "Meter details retrieved.", info)
	}
}

func remoteStatusHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.RemoteStatus(c.Request.Context(), routing(c, c.Query("provider")), c.Param("orderId"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, "Transaction status retrieved.", res)
	}
}

func getTransactionHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := svc.GetByReference(c.Request.Context(), c.Param("reference"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, "Transaction retrieved.", tx)
	}
}

func listTransactionsHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := parseFilter(c)
		if err != nil {
			fail(c, err)
			return
		}
		page, err := svc.List(c.Request.Context(), f)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, "Transactions retrieved.", page)
	}
}

func parseFilter(c *gin.Context) (repo.TransactionFilter, error) {
	f := repo.TransactionFilter{
		Type:      model.TransactionType(c.Query("type")),
		Category:  c.Query("category"),
		Status:    model.TransactionStatus(c.Query("status")),
		Provider:  c.Query("provider"),
		Reference: c.Query("reference"),
		Search:    c.Query("search"),
	}
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, &service.ValidationError{Field: "user_id", Reason: "must be a positive integer"}
		}
		f.UserID = &id
	}
	for _, p := range []struct {
		key string
		dst **time.Time
		end bool
	}{{"start_date", &f.StartDate, false}, {"end_date", &f.EndDate, true}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, &service.ValidationError{Field: p.key, Reason: "must be a date in YYYY-MM-DD format"}
		}
		if p.end {
			d = d.Add(24*time.Hour - time.Nanosecond)
		}
		*p.dst = &d
	}
	var err error
	if f.Page, err = atoiQuery(c, "page"); err != nil {
		return f, err
	}
	if f.PerPage, err = atoiQuery(c, "per_page"); err != nil {
		return f, err
	}
	return f, nil
}

func atoiQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &service.ValidationError{Field: key, Reason: "must be a positive integer"}
	}
	return n, nil
}

func walletBalanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.Balance(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, "Wallet balance retrieved.", bal)
	}
}

func getProviderHandler(svc *service.ProviderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, "Provider settings retrieved.", svc.Get(c.Request.Context()))
	}
}

type providerReq struct {
	Provider         string           `json:"provider" binding:"required"`
	WalletMinBalance *decimal.Decimal `json:"wallet_min_balance"`
}

func updateProviderHandler(svc *service.ProviderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req providerReq
		if !bindJSON(c, &req) {
			return
		}
		out, err := svc.SetActive(c.Request.Context(), strings.TrimSpace(req.Provider), req.WalletMinBalance)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, "Provider updated.", out)
	}
}
