package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/notify"
	"github.com/richardliu001/vending-service/internal/payment"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/security"
	"go.uber.org/zap"
)

// ErrWebhookMalformed means an authenticated webhook body could not be decoded.
var ErrWebhookMalformed = errors.New("malformed webhook payload")

// ReceiptSender delivers the post-payment receipt.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, tx *model.Transaction, to notify.Recipient)
}

// Vender fulfils a transaction that has just been marked paid.
type Vender interface {
	VendPaid(ctx context.Context, tx *model.Transaction) (*model.Transaction, error)
}

// WebhookRequest is the raw webhook as received, before any parsing.
type WebhookRequest struct {
	Body      []byte
	Signature string
	Timestamp string
}

// Reconciliation reports what a notification did.
type Reconciliation struct {
	Reference string
	// AlreadyProcessed is set when another notification got there first.
	AlreadyProcessed bool
	// Ignored is set for webhook events that never trigger fulfilment.
	Ignored     bool
	Event       string
	Transaction *model.Transaction
	// VendErr is the fulfilment failure, if any. The payment itself stands.
	VendErr error
}

// Reconciler merges the redirect callback and the signed webhook into a
// single fulfilment per reference.
type Reconciler struct {
	store    repo.TransactionStore
	gateway  payment.Gateway
	vender   Vender
	receipts ReceiptSender
	replay   *security.Verifier
	// requireTimestamp rejects webhooks that carry no timestamp header.
	requireTimestamp bool
	log              *zap.SugaredLogger
}

func NewReconciler(store repo.TransactionStore, gateway payment.Gateway, vender Vender, receipts ReceiptSender, replay *security.Verifier, requireTimestamp bool, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		store:            store,
		gateway:          gateway,
		vender:           vender,
		receipts:         receipts,
		replay:           replay,
		requireTimestamp: requireTimestamp,
		log:              log,
	}
}

// HandleWebhook authenticates the raw body before reading it or touching any
// state, then reconciles charge.success events.
func (r *Reconciler) HandleWebhook(ctx context.Context, req WebhookRequest) (*Reconciliation, error) {
	if !r.gateway.ValidSignature(req.Body, req.Signature) {
		r.log.Warnw("webhook signature rejected", "gateway", r.gateway.Name())
		return nil, security.ErrSignatureInvalid
	}
	if req.Timestamp != "" || r.requireTimestamp {
		if req.Timestamp == "" {
			return nil, security.ErrSignatureMissing
		}
		if r.replay == nil {
			return nil, security.ErrTimestampInvalid
		}
		if err := r.replay.CheckTimestamp(req.Timestamp); err != nil {
			r.log.Warnw("webhook timestamp rejected", "error", err)
			return nil, err
		}
	}
	evt, err := payment.ParseWebhook(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookMalformed, err)
	}
	r.log.Infow("webhook received", "event", evt.Event, "reference", evt.Charge.Reference)
	if evt.Event != payment.EventChargeSuccess {
		return &Reconciliation{Reference: evt.Charge.Reference, Event: evt.Event, Ignored: true}, nil
	}
	if evt.Charge.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrWebhookMalformed)
	}
	res, err := r.settle(ctx, evt.Charge, "webhook")
	if res != nil {
		res.Event = evt.Event
	}
	return res, err
}

// HandleCallback verifies reference with the gateway and reconciles it.
// A gateway refusal leaves the transaction untouched.
func (r *Reconciler) HandleCallback(ctx context.Context, reference string) (*Reconciliation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, invalid("reference", "is required")
	}
	charge, err := r.gateway.Verify(ctx, reference)
	if err != nil {
		r.log.Warnw("callback verification failed", "reference", reference, "error", err)
		return nil, err
	}
	return r.settle(ctx, charge, "callback")
}

func (r *Reconciler) settle(ctx context.Context, charge *payment.Charge, source string) (*Reconciliation, error) {
	ref := charge.Reference
	tx, err := r.store.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if tx.Status != model.StatusPendingPayment {
		return &Reconciliation{Reference: ref, AlreadyProcessed: true, Transaction: tx}, nil
	}

	details := &model.PaymentDetails{
		Reference:       charge.Reference,
		Status:          charge.Status,
		Amount:          charge.Amount,
		Currency:        charge.Currency,
		Channel:         charge.Channel,
		PaidAt:          charge.PaidAt,
		GatewayResponse: charge.GatewayResponse,
		CustomerEmail:   charge.CustomerEmail,
		CustomerName:    charge.CustomerName,
		Source:          source,
	}
	// From here on the customer has paid; nothing may stop the write.
	wctx := context.WithoutCancel(ctx)
	paid, err := r.store.TransitionStatus(wctx, ref, model.StatusPendingPayment, model.StatusPaid, func(m *model.Meta) {
		m.PaymentDetails = details
	})
	if errors.Is(err, repo.ErrStatusConflict) {
		r.log.Infow("payment already processed", "reference", ref, "source", source)
		cur, ferr := r.store.FindByReference(wctx, ref)
		if ferr != nil {
			cur = tx
		}
		return &Reconciliation{Reference: ref, AlreadyProcessed: true, Transaction: cur}, nil
	}
	if err != nil {
		return nil, err
	}
	r.log.Infow("payment confirmed", "reference", ref, "source", source, "amount", charge.Amount.String())

	done, vendErr := r.vender.VendPaid(wctx, paid)
	if vendErr != nil {
		r.log.Errorw("vending failed after successful payment", "reference", ref, "error", vendErr)
	}
	if done == nil {
		done = paid
	}
	if r.receipts != nil {
		r.receipts.SendReceipt(wctx, done, recipient(done, charge))
	}
	return &Reconciliation{Reference: ref, Transaction: done, VendErr: vendErr}, nil
}

func recipient(tx *model.Transaction, charge *payment.Charge) notify.Recipient {
	var bill model.BillData
	if b := tx.Metadata().BillData; b != nil {
		bill = *b
	}
	return notify.Recipient{
		Email:   firstNonEmpty(charge.CustomerEmail, bill.Email),
		Name:    firstNonEmpty(charge.CustomerName, bill.CustomerName, "Customer"),
		Phone:   firstNonEmpty(bill.Phone, bill.PhoneNumber),
		Channel: charge.Channel,
		PaidAt:  charge.PaidAt,
	}
}
