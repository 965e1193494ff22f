package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/port"
)

type ReconcilerConfig struct {
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int
}

// SweepResult counts what one sweep did with the stale PENDING sales it found.
type SweepResult struct {
	Scanned  int
	Live     int
	Failed   int
	Requeued int
	Errors   int
}

// Reconciler repairs sales that stayed PENDING for too long: a sale whose job
// was dead-lettered is failed, and a sale whose job vanished is enqueued again.
type Reconciler struct {
	sales     port.SaleRepository
	queue     port.JobQueue
	cfg       ReconcilerConfig
	logger    *zap.Logger
	scheduler *cron.Cron
	now       func() time.Time
}

func NewReconciler(sales port.SaleRepository, queue port.JobQueue, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		sales:     sales,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
		scheduler: cron.New(),
		now:       time.Now,
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	_, err := r.scheduler.AddFunc(r.cfg.Schedule, func() {
		res, err := r.Sweep(ctx)
		if err != nil {
			r.logger.Error("reconciliation sweep failed", zap.Error(err))
			return
		}
		if res.Scanned > 0 {
			r.logger.Info("reconciliation sweep finished",
				zap.Int("scanned", res.Scanned),
				zap.Int("live", res.Live),
				zap.Int("failed", res.Failed),
				zap.Int("requeued", res.Requeued),
				zap.Int("errors", res.Errors),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", r.cfg.Schedule, err)
	}
	r.scheduler.Start()
	r.logger.Info("reconciler scheduled",
		zap.String("schedule", r.cfg.Schedule), zap.Duration("stale_after", r.cfg.StaleAfter))
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	<-r.scheduler.Stop().Done()
}

func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	cutoff := r.now().Add(-r.cfg.StaleAfter)
	sales, err := r.sales.ListStalePendingSales(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale sales: %w", err)
	}

	for i := range sales {
		sale := &sales[i]
		res.Scanned++
		log := r.logger.With(zap.String("sale_id", sale.ID))

		state, err := r.queue.State(ctx, domain.JobKey(sale.ID))
		if err != nil {
			res.Errors++
			log.Error("job state lookup failed", zap.Error(err))
			continue
		}

		switch state {
		case domain.JobStateLive:
			res.Live++
		case domain.JobStateFailed:
			if _, err := r.sales.MarkSaleFailed(ctx, sale.ID); err != nil {
				res.Errors++
				log.Error("could not fail sale with dead-lettered job", zap.Error(err))
				continue
			}
			res.Failed++
			log.Warn("failed sale whose job was dead-lettered")
		default:
			if _, err := r.queue.Enqueue(ctx, domain.NewStockDeductionJob(sale)); err != nil {
				res.Errors++
				log.Error("could not requeue orphaned sale", zap.Error(err))
				continue
			}
			res.Requeued++
			log.Warn("requeued orphaned sale")
		}
	}
	return res, nil
}
