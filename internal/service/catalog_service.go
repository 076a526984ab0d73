package service

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/richardliu001/vending-service/internal/vendor"
)

// CatalogService proxies vendor product listings.
type CatalogService struct {
	registry *vendor.Registry
}

func NewCatalogService(registry *vendor.Registry) *CatalogService {
	return &CatalogService{registry: registry}
}

func (s *CatalogService) catalog(ctx context.Context, r Routing) (vendor.Catalog, error) {
	a, err := s.registry.Resolve(ctx, r.Provider, r.Hint)
	if err != nil {
		return nil, err
	}
	c, ok := a.(vendor.Catalog)
	if !ok || !a.Supports(vendor.OpCatalog) {
		return nil, &vendor.AdapterError{Provider: a.Name(), Op: vendor.OpCatalog, Err: vendor.ErrUnsupportedOperation}
	}
	return c, nil
}

func (s *CatalogService) Tariffs(ctx context.Context, r Routing, params url.Values) (json.RawMessage, error) {
	c, err := s.catalog(ctx, r)
	if err != nil {
		return nil, err
	}
	return c.Tariffs(ctx, params)
}

func (s *CatalogService) Bouquets(ctx context.Context, r Routing, params url.Values) (json.RawMessage, error) {
	c, err := s.catalog(ctx, r)
	if err != nil {
		return nil, err
	}
	return c.Bouquets(ctx, params)
}

func (s *CatalogService) DataPlans(ctx context.Context, r Routing, params url.Values) (json.RawMessage, error) {
	c, err := s.catalog(ctx, r)
	if err != nil {
		return nil, err
	}
	return c.DataPlans(ctx, params)
}

func (s *CatalogService) ReliabilityIndex(ctx context.Context, r Routing) (json.RawMessage, error) {
	c, err := s.catalog(ctx, r)
	if err != nil {
		return nil, err
	}
	return c.ReliabilityIndex(ctx)
}
