package service

import (
	"context"
	"strings"

	"github.com/richardliu001/vending-service/internal/model"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/vendor"
)

// Page is one slice of a filtered transaction listing.
type Page struct {
	Items    []model.Transaction `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PerPage  int                 `json:"per_page"`
	LastPage int                 `json:"last_page"`
}

// TransactionService answers read-side questions. Local lookups never call
// a vendor and remote lookups never read the store.
type TransactionService struct {
	store    repo.TransactionStore
	registry *vendor.Registry
}

func NewTransactionService(store repo.TransactionStore, registry *vendor.Registry) *TransactionService {
	return &TransactionService{store: store, registry: registry}
}

func (s *TransactionService) GetByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, invalid("reference", "is required")
	}
	return s.store.FindByReference(ctx, reference)
}

func (s *TransactionService) List(ctx context.Context, f repo.TransactionFilter) (*Page, error) {
	f.Normalize()
	items, total, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, err
	}
	last := int((total + int64(f.PerPage) - 1) / int64(f.PerPage))
	if last < 1 {
		last = 1
	}
	return &Page{Items: items, Total: total, Page: f.Page, PerPage: f.PerPage, LastPage: last}, nil
}

// RemoteStatus asks the vendor for the state of one of its orders.
func (s *TransactionService) RemoteStatus(ctx context.Context, r Routing, orderID string) (*vendor.Result, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, invalid("order_id", "is required")
	}
	adapter, err := s.registry.Resolve(ctx, r.Provider, r.Hint)
	if err != nil {
		return nil, err
	}
	if !adapter.Supports(vendor.OpTransactionStatus) {
		return nil, &vendor.AdapterError{Provider: adapter.Name(), Op: vendor.OpTransactionStatus, Err: vendor.ErrUnsupportedOperation}
	}
	return adapter.TransactionStatus(ctx, orderID)
}
