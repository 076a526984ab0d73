package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/payment"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentConfig holds the pricing knobs for payment-first purchases.
type PaymentConfig struct {
	MinAmount    decimal.Decimal
	Fee          decimal.Decimal
	TaxRate      decimal.Decimal
	FeeVerticals []model.Vertical
	CallbackURL  string
}

// InitializeInput opens a checkout for a bill that will be vended once paid.
type InitializeInput struct {
	Email    string          `json:"email" validate:"required,email,max=255"`
	Amount   decimal.Decimal `json:"amount"`
	Vertical string          `json:"type" validate:"required,oneof=electricity telecoms entertainment"`
	BillData model.BillData  `json:"bill_data" validate:"-"`
	Provider string          `json:"provider"`
	UserID   *uint64         `json:"user_id"`
}

// Quote is the breakdown of what the customer is charged.
type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Tax    decimal.Decimal `json:"tax"`
	Total  decimal.Decimal `json:"total"`
}

// InitializeResult is returned to the client so it can redirect to checkout.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
	Quote            Quote  `json:"quote"`
}

type PaymentService struct {
	store    repo.TransactionStore
	gateway  payment.Gateway
	registry *vendor.Registry
	cfg      PaymentConfig
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewPaymentService(store repo.TransactionStore, gateway payment.Gateway, registry *vendor.Registry, cfg PaymentConfig, log *zap.SugaredLogger) *PaymentService {
	if cfg.MinAmount.IsZero() {
		cfg.MinAmount = decimal.NewFromInt(100)
	}
	return &PaymentService{store: store, gateway: gateway, registry: registry, cfg: cfg, log: log, now: time.Now}
}

// Quote prices amount for a vertical. Fee and tax only apply to the
// configured verticals.
func (s *PaymentService) Quote(v model.Vertical, amount decimal.Decimal) Quote {
	q := Quote{Amount: amount, Fee: decimal.Zero, Tax: decimal.Zero}
	for _, fv := range s.cfg.FeeVerticals {
		if fv == v {
			q.Fee = s.cfg.Fee
			q.Tax = amount.Mul(s.cfg.TaxRate).Round(2)
			break
		}
	}
	q.Total = q.Amount.Add(q.Fee).Add(q.Tax)
	return q
}

// txType narrows a vertical to the concrete product type recorded on the row.
func txType(v model.Vertical, b model.BillData) model.TransactionType {
	switch v {
	case model.VerticalElectricity:
		return model.TypeElectricity
	case model.VerticalTelecoms:
		if strings.EqualFold(b.Type, string(model.TypeData)) {
			return model.TypeData
		}
		return model.TypeAirtime
	case model.VerticalEntertainment:
		if strings.EqualFold(b.Type, string(model.TypeInternet)) {
			return model.TypeInternet
		}
		return model.TypeCableTV
	}
	return ""
}

// Initialize records a pending_payment transaction and opens a gateway
// checkout for it. A gateway refusal moves the row to failed.
func (s *PaymentService) Initialize(ctx context.Context, in InitializeInput) (*InitializeResult, error) {
	in.Vertical = strings.ToLower(in.Vertical)
	if err := check(in, minAmount("amount", in.Amount, s.cfg.MinAmount, true)); err != nil {
		return nil, err
	}
	v := model.Vertical(in.Vertical)

	tx := &model.Transaction{
		Reference: s.newReference(),
		Type:      txType(v, in.BillData),
		UserID:    in.UserID,
	}
	bill := in.BillData
	if bill.Email == "" {
		bill.Email = in.Email
	}
	tx.SetMetadata(model.Meta{BillData: &bill, OriginalAmount: &in.Amount})

	// The bill must be vendable before the customer pays for it.
	p, err := planFromTransaction(tx)
	if err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	adapter, err := s.registry.Resolve(ctx, in.Provider, "")
	if err != nil {
		return nil, err
	}
	if !adapter.Supports(p.op) {
		return nil, &vendor.AdapterError{Provider: adapter.Name(), Op: p.op, Err: vendor.ErrUnsupportedOperation}
	}

	q := s.Quote(v, in.Amount)
	tx.Status = model.StatusPendingPayment
	tx.Amount = q.Total
	tx.ProviderName = adapter.Name()
	tx.SetMetadata(model.Meta{
		BillData:       &bill,
		Gateway:        s.gateway.Name(),
		OriginalAmount: &q.Amount,
		Fee:            &q.Fee,
		Tax:            &q.Tax,
	})
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	co, err := s.gateway.Initialize(ctx, payment.InitRequest{
		Email:       in.Email,
		Amount:      q.Total,
		Reference:   tx.Reference,
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]interface{}{
			"transaction_id":  tx.ID,
			"type":            string(v),
			"original_amount": q.Amount.String(),
		},
	})
	if err != nil {
		s.log.Errorw("payment initialize failed", "reference", tx.Reference, "error", err)
		if _, terr := s.store.TransitionStatus(context.WithoutCancel(ctx), tx.Reference, model.StatusPendingPayment, model.StatusFailed, func(m *model.Meta) {
			m.InitError = err.Error()
		}); terr != nil {
			s.log.Errorw("failed to record initialize error", "reference", tx.Reference, "error", terr)
		}
		return nil, err
	}
	s.log.Infow("payment initialized", "reference", tx.Reference, "type", tx.Type, "total", q.Total.String())
	return &InitializeResult{
		AuthorizationURL: co.AuthorizationURL,
		AccessCode:       co.AccessCode,
		Reference:        tx.Reference,
		Quote:            q,
	}, nil
}

func (s *PaymentService) newReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	return fmt.Sprintf("PAY_%s_%d", id, s.now().Unix())
}
