package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/port"
)

// Settler applies one stock deduction job. It never panics on domain failures;
// every outcome is reported as a JobResult for the pool to act on.
type Settler struct {
	sales  port.SaleRepository
	cache  port.ProductCache
	logger *zap.Logger
}

func NewSettler(sales port.SaleRepository, cache port.ProductCache, logger *zap.Logger) *Settler {
	return &Settler{sales: sales, cache: cache, logger: logger}
}

func (s *Settler) Process(ctx context.Context, job domain.StockDeductionJob) domain.JobResult {
	log := s.logger.With(zap.String("sale_id", job.SaleID))

	sale, err := s.sales.GetSale(ctx, job.SaleID)
	if err != nil {
		return domain.Retryable(err)
	}
	if sale == nil {
		log.Warn("sale no longer exists, skipping job")
		return domain.Skipped(&domain.NotFoundError{Resource: domain.ResourceSale, IDs: []string{job.SaleID}})
	}
	if sale.Status != domain.SaleStatusPending {
		log.Debug("sale already settled, skipping job", zap.String("status", string(sale.Status)))
		// An earlier attempt may have committed without reaching the invalidation.
		if sale.Status == domain.SaleStatusCompleted {
			s.invalidate(ctx, log)
		}
		return domain.Skipped(domain.ErrSaleNotPending)
	}

	err = s.sales.SettleSale(ctx, job.SaleID, job.Items)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSaleNotPending), domain.IsNotFound(err, domain.ResourceSale):
		return domain.Skipped(err)
	case errors.Is(err, domain.ErrInsufficientStock), domain.IsNotFound(err, domain.ResourceProduct):
		s.markFailed(ctx, job.SaleID, err)
		return domain.Terminal(err)
	default:
		return domain.Retryable(err)
	}

	s.invalidate(ctx, log)
	log.Info("sale completed", zap.Int("items", len(job.Items)))
	return domain.Succeeded()
}

func (s *Settler) invalidate(ctx context.Context, log *zap.Logger) {
	if err := s.cache.InvalidateProducts(ctx); err != nil {
		log.Warn("product cache invalidation failed", zap.Error(err))
	}
}

// Exhausted is called once a retryable job has used all its attempts.
func (s *Settler) Exhausted(ctx context.Context, job domain.StockDeductionJob, cause error) {
	s.markFailed(ctx, job.SaleID, cause)
}

// markFailed runs outside the aborted transaction and is best effort.
func (s *Settler) markFailed(ctx context.Context, saleID string, cause error) {
	log := s.logger.With(zap.String("sale_id", saleID), zap.NamedError("cause", cause))

	changed, err := s.sales.MarkSaleFailed(context.WithoutCancel(ctx), saleID)
	if err != nil {
		log.Error("could not mark sale failed", zap.Error(err))
		return
	}
	if changed {
		log.Warn("sale failed")
	}
}
