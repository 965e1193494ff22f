package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/port"
)

const maxAdjustReasonLen = 500

// ProductService serves the product listing read-aside from the cache and keeps
// the cached copy honest by deleting it after every product mutation.
type ProductService struct {
	repo   port.ProductRepository
	cache  port.ProductCache
	logger *zap.Logger
}

func NewProductService(repo port.ProductRepository, cache port.ProductCache, logger *zap.Logger) *ProductService {
	return &ProductService{repo: repo, cache: cache, logger: logger}
}

func (s *ProductService) ListProducts(ctx context.Context) (*domain.ProductListing, error) {
	products, ok, err := s.cache.GetProducts(ctx)
	if err != nil {
		s.logger.Warn("product cache read failed, falling back to store", zap.Error(err))
	}
	if err == nil && ok {
		return &domain.ProductListing{Products: products, Count: len(products), Cached: true}, nil
	}

	products, err = s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetProducts(ctx, products); err != nil {
		s.logger.Warn("product cache write failed", zap.Error(err))
	}
	return &domain.ProductListing{Products: products, Count: len(products), Cached: false}, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	return p, nil
}

func (s *ProductService) CreateProduct(ctx context.Context, p *domain.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	p.SKU = strings.TrimSpace(p.SKU)
	switch {
	case p.Name == "":
		return &domain.ValidationError{Field: "name", Reason: "is required"}
	case p.SKU == "":
		return &domain.ValidationError{Field: "sku", Reason: "is required"}
	case p.Price.IsNegative():
		return &domain.ValidationError{Field: "price", Reason: "must not be negative"}
	case p.Stock < 0:
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}

	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, "create", p.ID)
	return nil
}

func (s *ProductService) UpdateProduct(ctx context.Context, id string, u domain.ProductUpdate) (*domain.Product, error) {
	if u.Empty() {
		return nil, &domain.ValidationError{Field: "body", Reason: "no fields to update"}
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if u.SKU != nil && strings.TrimSpace(*u.SKU) == "" {
		return nil, &domain.ValidationError{Field: "sku", Reason: "must not be empty"}
	}
	if u.Price != nil && u.Price.IsNegative() {
		return nil, &domain.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if u.Stock != nil && *u.Stock < 0 {
		return nil, &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}

	p, err := s.repo.UpdateProduct(ctx, id, u)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, "update", id)
	return p, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, "delete", id)
	return nil
}

func (s *ProductService) Restock(ctx context.Context, productID string, quantity int) (*domain.StockChange, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, &domain.ValidationError{Field: "productId", Reason: "is required"}
	}
	if quantity < 1 {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}

	change, err := s.repo.RestockProduct(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, "restock", productID)
	return change, nil
}

// AdjustStock sets stock to an absolute count, e.g. after a physical count.
func (s *ProductService) AdjustStock(ctx context.Context, productID string, quantity int, reason string) (*domain.StockChange, error) {
	reason = strings.TrimSpace(reason)
	switch {
	case strings.TrimSpace(productID) == "":
		return nil, &domain.ValidationError{Field: "productId", Reason: "is required"}
	case quantity < 0:
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must not be negative"}
	case reason == "":
		return nil, &domain.ValidationError{Field: "reason", Reason: "is required"}
	case utf8.RuneCountInString(reason) > maxAdjustReasonLen:
		return nil, &domain.ValidationError{Field: "reason", Reason: fmt.Sprintf("must be at most %d characters", maxAdjustReasonLen)}
	}

	change, err := s.repo.AdjustStock(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	change.Operation = "adjustment: " + reason
	s.invalidate(ctx, "adjust", productID)
	return change, nil
}

func (s *ProductService) invalidate(ctx context.Context, op, productID string) {
	if err := s.cache.InvalidateProducts(ctx); err != nil {
		s.logger.Warn("product cache invalidation failed",
			zap.String("op", op), zap.String("product_id", productID), zap.Error(err))
	}
}
