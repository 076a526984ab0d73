package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrVendFailed is returned when the vendor declined the purchase.
var ErrVendFailed = errors.New("vending failed")

var minElectricityAmount = decimal.NewFromInt(100)

// Orchestrator runs one vend end to end: adapter resolution, row creation,
// the vendor call, and the terminal status write.
type Orchestrator struct {
	store    repo.TransactionStore
	registry *vendor.Registry
	log      *zap.SugaredLogger
	// newReference is swapped in tests.
	newReference func() string
}

func NewOrchestrator(store repo.TransactionStore, registry *vendor.Registry, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		store:        store,
		registry:     registry,
		log:          log,
		newReference: func() string { return "ref_" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Routing names the adapter. Provider beats Hint; both empty means default.
type Routing struct {
	Provider string
	Hint     string
}

type ElectricityInput struct {
	Routing
	MeterNumber  string          `json:"meter_number" validate:"required,max=20"`
	Disco        string          `json:"disco" validate:"required,oneof=AEDC EKEDC IKEDC IBEDC JEDC KEDCO KAEDCO PHED EEDC BEDC"`
	VendType     string          `json:"vend_type" validate:"omitempty,oneof=prepaid postpaid"`
	Amount       decimal.Decimal `json:"amount"`
	CustomerName string          `json:"customer_name" validate:"required,max=255"`
	Phone        string          `json:"phone" validate:"required,max=15"`
	Email        string          `json:"email" validate:"omitempty,email,max=255"`
	UserID       *uint64         `json:"user_id"`
}

func (in ElectricityInput) validate() error {
	in.Disco = strings.ToUpper(strings.TrimSpace(in.Disco))
	in.VendType = strings.ToLower(in.VendType)
	return check(in, minAmount("amount", in.Amount, minElectricityAmount, true))
}

type TelecomsInput struct {
	Routing
	Type         string          `json:"type" validate:"required,oneof=airtime data"`
	PhoneNumber  string          `json:"phone_number" validate:"required,max=20,phone"`
	Network      string          `json:"network" validate:"required,oneof=MTN GLO AIRTEL 9MOBILE"`
	DataPlan     string          `json:"data_plan" validate:"required_if=Type data,max=100"`
	Amount       decimal.Decimal `json:"amount"`
	CustomerName string          `json:"customer_name" validate:"max=255"`
	Email        string          `json:"email" validate:"omitempty,email,max=255"`
	UserID       *uint64         `json:"user_id"`
}

func (in TelecomsInput) validate() error {
	in.Type = strings.ToLower(in.Type)
	in.Network = strings.ToUpper(strings.TrimSpace(in.Network))
	return check(in, minAmount("amount", in.Amount, decimal.Zero, false))
}

type EntertainmentInput struct {
	Routing
	Type string `json:"type" validate:"required,oneof=cable_tv internet"`
	// Service is the TV or internet operator, e.g. DSTV.
	Service         string          `json:"service" validate:"max=50"`
	SmartcardNumber string          `json:"smartcard_number" validate:"required_if=Type cable_tv,max=50"`
	PackageCode     string          `json:"package_code" validate:"max=50"`
	Amount          decimal.Decimal `json:"amount"`
	CustomerName    string          `json:"customer_name" validate:"max=255"`
	Phone           string          `json:"phone" validate:"required_without=SmartcardNumber,max=20"`
	Email           string          `json:"email" validate:"omitempty,email,max=255"`
	UserID          *uint64         `json:"user_id"`
}

func (in EntertainmentInput) validate() error {
	in.Type = strings.ToLower(in.Type)
	return check(in, minAmount("amount", in.Amount, decimal.Zero, false))
}

// plan is the vertical-neutral work order built from any input.
type plan struct {
	txType  model.TransactionType
	op      vendor.Operation
	routing Routing
	req     vendor.Request
	bill    model.BillData
	userID  *uint64
}

func electricityPlan(in ElectricityInput) plan {
	vt := strings.ToLower(in.VendType)
	if vt == "" {
		vt = "prepaid"
	}
	return plan{
		txType:  model.TypeElectricity,
		op:      vendor.OpVendElectricity,
		routing: in.Routing,
		req: vendor.Request{
			Product:     vt,
			Account:     in.MeterNumber,
			ServiceCode: strings.ToUpper(in.Disco),
			Amount:      in.Amount,
			Customer:    vendor.Customer{Name: in.CustomerName, Email: in.Email, Phone: in.Phone},
		},
		bill: model.BillData{
			MeterNumber:  in.MeterNumber,
			Disco:        strings.ToUpper(in.Disco),
			VendType:     vt,
			Phone:        in.Phone,
			CustomerName: in.CustomerName,
			Email:        in.Email,
		},
		userID: in.UserID,
	}
}

func telecomsPlan(in TelecomsInput) plan {
	t := strings.ToLower(in.Type)
	return plan{
		txType:  model.TransactionType(t),
		op:      vendor.OpVendTelecoms,
		routing: in.Routing,
		req: vendor.Request{
			Product:     t,
			Account:     in.PhoneNumber,
			ServiceCode: strings.ToUpper(in.Network),
			TariffClass: in.DataPlan,
			Amount:      in.Amount,
			Customer:    vendor.Customer{Name: in.CustomerName, Email: in.Email, Phone: in.PhoneNumber},
		},
		bill: model.BillData{
			PhoneNumber:  in.PhoneNumber,
			Network:      strings.ToUpper(in.Network),
			Type:         t,
			TariffClass:  in.DataPlan,
			CustomerName: in.CustomerName,
			Email:        in.Email,
		},
		userID: in.UserID,
	}
}

func entertainmentPlan(in EntertainmentInput) plan {
	t := strings.ToLower(in.Type)
	svc := strings.ToUpper(in.Service)
	if svc == "" {
		svc = "DSTV"
	}
	account := in.SmartcardNumber
	if account == "" {
		account = in.Phone
	}
	return plan{
		txType:  model.TransactionType(t),
		op:      vendor.OpVendEntertainment,
		routing: in.Routing,
		req: vendor.Request{
			Product:     t,
			Account:     account,
			ServiceCode: svc,
			TariffClass: in.PackageCode,
			Amount:      in.Amount,
			Customer:    vendor.Customer{Name: in.CustomerName, Email: in.Email, Phone: in.Phone},
		},
		bill: model.BillData{
			SmartcardNumber: in.SmartcardNumber,
			Provider:        svc,
			Type:            t,
			TariffClass:     in.PackageCode,
			CustomerName:    in.CustomerName,
			Phone:           in.Phone,
			Email:           in.Email,
		},
		userID: in.UserID,
	}
}

func (o *Orchestrator) VendElectricity(ctx context.Context, in ElectricityInput) (*model.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return o.fresh(ctx, electricityPlan(in))
}

func (o *Orchestrator) VendTelecoms(ctx context.Context, in TelecomsInput) (*model.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return o.fresh(ctx, telecomsPlan(in))
}

func (o *Orchestrator) VendEntertainment(ctx context.Context, in EntertainmentInput) (*model.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return o.fresh(ctx, entertainmentPlan(in))
}

// fresh resolves and checks the adapter before any row exists, so routing
// and capability errors leave nothing behind.
func (o *Orchestrator) fresh(ctx context.Context, p plan) (*model.Transaction, error) {
	adapter, err := o.registry.Resolve(ctx, p.routing.Provider, p.routing.Hint)
	if err != nil {
		return nil, err
	}
	if !adapter.Supports(p.op) {
		return nil, &vendor.AdapterError{Provider: adapter.Name(), Op: p.op, Err: vendor.ErrUnsupportedOperation}
	}
	tx := &model.Transaction{
		Reference:    o.newReference(),
		Type:         p.txType,
		Amount:       p.req.Amount,
		Status:       model.StatusPending,
		ProviderName: adapter.Name(),
		UserID:       p.userID,
	}
	bill := p.bill
	tx.SetMetadata(model.Meta{BillData: &bill})
	if err := o.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	o.log.Infow("vend started", "reference", tx.Reference, "type", tx.Type, "provider", adapter.Name(), "amount", tx.Amount.String())
	return o.vend(ctx, adapter, tx, p)
}

// VendPaid fulfils a transaction whose payment is confirmed, using the
// stored bill data and the pre-fee amount. Whatever happens, the row leaves
// paid.
func (o *Orchestrator) VendPaid(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	if tx.Status != model.StatusPaid {
		return tx, fmt.Errorf("%w: vend requires status paid, got %s", repo.ErrStatusConflict, tx.Status)
	}
	p, err := planFromTransaction(tx)
	if err == nil {
		err = p.validate()
	}
	var adapter vendor.Adapter
	if err == nil {
		adapter, err = o.registry.Resolve(ctx, tx.ProviderName, "")
	}
	if err == nil && !adapter.Supports(p.op) {
		err = &vendor.AdapterError{Provider: adapter.Name(), Op: p.op, Err: vendor.ErrUnsupportedOperation}
	}
	if err != nil {
		o.log.Errorw("paid transaction cannot be vended", "reference", tx.Reference, "error", err)
		return o.finish(ctx, tx, model.StatusFailed, func(m *model.Meta) {
			m.VendStatus = string(model.StatusFailed)
			m.VendError = err.Error()
		}, err)
	}
	return o.vend(ctx, adapter, tx, p.plan)
}

// planFromTransaction rebuilds the work order a payment-first row describes.
func planFromTransaction(tx *model.Transaction) (*checkedPlan, error) {
	meta := tx.Metadata()
	if meta.BillData == nil {
		return nil, invalid("bill_data", "is missing")
	}
	b := *meta.BillData
	amount := tx.Amount
	if meta.OriginalAmount != nil {
		amount = *meta.OriginalAmount
	}
	switch tx.Type.Vertical() {
	case model.VerticalElectricity:
		in := ElectricityInput{
			MeterNumber: b.MeterNumber, Disco: b.Disco, VendType: b.VendType, Amount: amount,
			CustomerName: orDefault(b.CustomerName, "Customer"), Phone: firstNonEmpty(b.Phone, b.PhoneNumber), Email: b.Email,
		}
		return &checkedPlan{plan: electricityPlan(in), validate: in.validate}, nil
	case model.VerticalTelecoms:
		in := TelecomsInput{
			Type: string(tx.Type), PhoneNumber: firstNonEmpty(b.PhoneNumber, b.Phone), Network: b.Network,
			DataPlan: firstNonEmpty(b.DataPlan, b.TariffClass), Amount: amount, CustomerName: b.CustomerName, Email: b.Email,
		}
		return &checkedPlan{plan: telecomsPlan(in), validate: in.validate}, nil
	case model.VerticalEntertainment:
		in := EntertainmentInput{
			Type: string(tx.Type), Service: b.Provider, SmartcardNumber: b.SmartcardNumber, PackageCode: firstNonEmpty(b.PackageCode, b.TariffClass),
			Amount: amount, CustomerName: b.CustomerName, Phone: firstNonEmpty(b.Phone, b.PhoneNumber), Email: b.Email,
		}
		return &checkedPlan{plan: entertainmentPlan(in), validate: in.validate}, nil
	}
	return nil, invalid("type", "is not a vendable transaction type")
}

type checkedPlan struct {
	plan
	validate func() error
}

func (o *Orchestrator) vend(ctx context.Context, adapter vendor.Adapter, tx *model.Transaction, p plan) (*model.Transaction, error) {
	p.req.Reference = tx.Reference
	res, callErr := o.call(ctx, adapter, p)

	status := model.StatusFailed
	if callErr == nil && res != nil && res.Outcome == vendor.OutcomeSuccess {
		status = model.StatusSuccess
	}
	attempt := model.VendAttempt{Provider: adapter.Name(), At: time.Now().UTC()}
	var resp *model.VendResponse
	if res != nil {
		resp = &model.VendResponse{
			NormalizedStatus: string(res.Outcome),
			ResponseCode:     res.ResponseCode,
			Message:          res.Message,
			VendorOrderID:    res.VendorOrderID,
			Raw:              res.Raw,
		}
		attempt.Outcome = string(res.Outcome)
		attempt.Response = resp
	}
	if callErr != nil {
		attempt.Error = callErr.Error()
		if attempt.Outcome == "" {
			attempt.Outcome = string(vendor.OutcomeFailed)
		}
	}

	amend := func(m *model.Meta) {
		m.VendStatus = string(status)
		m.VendOutcome = attempt.Outcome
		if resp != nil {
			m.VendResponse = resp
		}
		if callErr != nil {
			m.VendError = callErr.Error()
		}
		if p.txType == model.TypeElectricity && res != nil && res.Token != "" {
			m.ElectricityToken = res.Token
		}
		m.VendAttempts = append(m.VendAttempts, attempt)
	}

	var retErr error
	switch {
	case callErr != nil:
		retErr = callErr
	case status == model.StatusFailed:
		msg := "Vending failed"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		retErr = fmt.Errorf("%w: %s", ErrVendFailed, msg)
	}
	o.log.Infow("vend completed",
		"reference", tx.Reference,
		"provider", adapter.Name(),
		"status", status,
		"outcome", attempt.Outcome,
		"error", attempt.Error,
	)
	return o.finish(ctx, tx, status, amend, retErr)
}

func (o *Orchestrator) call(ctx context.Context, adapter vendor.Adapter, p plan) (*vendor.Result, error) {
	switch p.op {
	case vendor.OpVendElectricity:
		return adapter.VendElectricity(ctx, p.req)
	case vendor.OpVendTelecoms:
		return adapter.VendTelecoms(ctx, p.req)
	case vendor.OpVendEntertainment:
		return adapter.VendEntertainment(ctx, p.req)
	}
	return nil, &vendor.AdapterError{Provider: adapter.Name(), Op: p.op, Err: vendor.ErrUnsupportedOperation}
}

// finish writes the terminal state on a context the caller cannot cancel.
// A failed write is retried once and then joined onto cause.
func (o *Orchestrator) finish(ctx context.Context, tx *model.Transaction, to model.TransactionStatus, amend func(*model.Meta), cause error) (*model.Transaction, error) {
	wctx := context.WithoutCancel(ctx)
	updated, err := o.store.TransitionStatus(wctx, tx.Reference, tx.Status, to, amend)
	if err != nil && !errors.Is(err, repo.ErrStatusConflict) {
		o.log.Warnw("terminal status write failed, retrying", "reference", tx.Reference, "to", to, "error", err)
		updated, err = o.store.TransitionStatus(wctx, tx.Reference, tx.Status, to, amend)
	}
	if err != nil {
		o.log.Errorw("terminal status write failed", "reference", tx.Reference, "from", tx.Status, "to", to, "error", err)
		return tx, errors.Join(cause, fmt.Errorf("record vend result: %w", err))
	}
	return updated, cause
}

type meterQuery struct {
	Meter    string `json:"meter" validate:"required,max=20"`
	Disco    string `json:"disco" validate:"required"`
	VendType string `json:"vend_type" validate:"oneof=prepaid postpaid"`
}

// CheckMeter validates a meter with the resolved adapter.
func (o *Orchestrator) CheckMeter(ctx context.Context, r Routing, meter, disco, vendType string) (*vendor.MeterInfo, error) {
	q := meterQuery{Meter: meter, Disco: disco, VendType: strings.ToLower(vendType)}
	if err := check(q); err != nil {
		return nil, err
	}
	adapter, err := o.registry.Resolve(ctx, r.Provider, r.Hint)
	if err != nil {
		return nil, err
	}
	if !adapter.Supports(vendor.OpCheckMeter) {
		return nil, &vendor.AdapterError{Provider: adapter.Name(), Op: vendor.OpCheckMeter, Err: vendor.ErrUnsupportedOperation}
	}
	return adapter.CheckMeter(ctx, meter, strings.ToUpper(disco), strings.ToLower(vendType))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
