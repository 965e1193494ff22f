package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/port"
)

const (
	defaultPaymentMethod = "cash"
	maxPaymentMethodLen  = 32
	defaultListLimit     = 50
	maxListLimit         = 200
)

type SaleService struct {
	products port.ProductRepository
	sales    port.SaleRepository
	queue    port.JobQueue
	logger   *zap.Logger
}

func NewSaleService(products port.ProductRepository, sales port.SaleRepository, queue port.JobQueue, logger *zap.Logger) *SaleService {
	return &SaleService{
		products: products,
		sales:    sales,
		queue:    queue,
		logger:   logger,
	}
}

// CreateSale persists a PENDING sale and hands stock deduction to the queue.
// The stock check here is advisory; the worker's conditional decrement is authoritative.
func (s *SaleService) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	if err := validateSaleRequest(&req); err != nil {
		return nil, err
	}

	ids, requested := aggregateLines(req.Items)

	found, err := s.products.FindProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve products: %w", err)
	}
	byID := make(map[string]domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: missing}
	}

	for _, id := range ids {
		p := byID[id]
		if p.Stock < requested[id] {
			return nil, &domain.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   requested[id],
			}
		}
	}

	sale := &domain.Sale{
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.SaleStatusPending,
		Items:         make([]domain.SaleItem, 0, len(req.Items)),
	}
	for _, line := range req.Items {
		sale.Items = append(sale.Items, domain.SaleItem{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			PriceAtSale: line.PriceAtSale,
		})
	}
	sale.Total = domain.SaleTotal(sale.Items)

	if err := s.sales.CreateSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, domain.NewStockDeductionJob(sale)); err != nil {
		s.logger.Error("enqueue stock deduction failed, rolling back sale",
			zap.String("sale_id", sale.ID), zap.Error(err))

		// The caller's context may be the reason enqueue failed.
		s.discardSale(context.WithoutCancel(ctx), sale.ID)
		return nil, fmt.Errorf("%w: %v", domain.ErrServiceBusy, err)
	}

	s.logger.Info("sale accepted",
		zap.String("sale_id", sale.ID),
		zap.String("user_id", sale.UserID),
		zap.Int("items", len(sale.Items)),
		zap.String("total", sale.Total.StringFixed(2)),
	)
	return sale, nil
}

// discardSale removes a sale that has no job. If the delete fails the sale is
// failed instead, so the reconciler never settles a sale the caller saw rejected.
func (s *SaleService) discardSale(ctx context.Context, id string) {
	log := s.logger.With(zap.String("sale_id", id))

	err := s.sales.DeleteSale(ctx, id)
	if err == nil {
		return
	}
	log.Error("compensating sale delete failed, failing sale instead", zap.Error(err))

	if _, err := s.sales.MarkSaleFailed(ctx, id); err != nil {
		log.Error("could not fail rejected sale", zap.Error(err))
	}
}

func (s *SaleService) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &domain.ValidationError{Field: "id", Reason: "is required"}
	}
	sale, err := s.sales.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, &domain.NotFoundError{Resource: domain.ResourceSale, IDs: []string{id}}
	}
	return sale, nil
}

func (s *SaleService) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	if filter.Offset < 0 {
		return nil, &domain.ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return s.sales.ListSales(ctx, filter)
}

func validateSaleRequest(req *domain.SaleRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return &domain.ValidationError{Field: "userId", Reason: "is required"}
	}

	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		req.PaymentMethod = defaultPaymentMethod
	}
	if len(req.PaymentMethod) > maxPaymentMethodLen {
		return &domain.ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("must be at most %d characters", maxPaymentMethodLen)}
	}

	if len(req.Items) == 0 {
		return &domain.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for i, line := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(line.ProductID) == "" {
			return &domain.ValidationError{Field: field + ".productId", Reason: "is required"}
		}
		if line.Quantity <= 0 {
			return &domain.ValidationError{Field: field + ".quantity", Reason: "must be greater than zero"}
		}
		if !line.PriceAtSale.IsPositive() {
			return &domain.ValidationError{Field: field + ".priceAtSale", Reason: "must be greater than zero"}
		}
		if !line.PriceAtSale.Equal(line.PriceAtSale.Round(2)) {
			return &domain.ValidationError{Field: field + ".priceAtSale", Reason: "must have at most 2 decimal places"}
		}
	}
	return nil
}

// aggregateLines returns distinct product ids in first-seen order and the summed quantity per id.
func aggregateLines(lines []domain.SaleLine) ([]string, map[string]int) {
	ids := make([]string, 0, len(lines))
	qty := make(map[string]int, len(lines))
	for _, line := range lines {
		if _, seen := qty[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		qty[line.ProductID] += line.Quantity
	}
	return ids, qty
}
