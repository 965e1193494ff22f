package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/port"
)

type JobHandler interface {
	Process(ctx context.Context, job domain.StockDeductionJob) domain.JobResult
	Exhausted(ctx context.Context, job domain.StockDeductionJob, cause error)
}

type PoolConfig struct {
	Concurrency  int
	MaxAttempts  int
	BackoffBase  time.Duration
	JobTimeout   time.Duration
	PollInterval time.Duration
	// StalledAfter is how long a claimed job may stay without an outcome
	// before it is handed to another worker. Must exceed JobTimeout.
	StalledAfter time.Duration
}

// Pool runs a fixed number of workers against the job queue.
type Pool struct {
	queue    port.JobQueue
	handler  JobHandler
	cfg      PoolConfig
	logger   *zap.Logger
	outcomes chan<- domain.JobOutcome
	wg       sync.WaitGroup
}

func NewPool(queue port.JobQueue, handler JobHandler, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.StalledAfter <= cfg.JobTimeout {
		cfg.StalledAfter = 2 * cfg.JobTimeout
	}
	return &Pool{queue: queue, handler: handler, cfg: cfg, logger: logger}
}

// NotifyOutcomes makes the pool publish every attempt's outcome on ch.
// Sends block until received or the pool's context is cancelled.
func (p *Pool) NotifyOutcomes(ch chan<- domain.JobOutcome) {
	p.outcomes = ch
}

// Start recovers stalled jobs and launches the workers along with a
// periodic stalled-job check. Workers stop picking up jobs when ctx is
// cancelled; use Wait to drain them.
func (p *Pool) Start(ctx context.Context) error {
	if _, err := p.requeueStalled(ctx); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watchStalled(ctx)
	}()

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.work(ctx, id)
		}(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Concurrency))
	return nil
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

// requeueStalled hands back jobs whose claim outlived StalledAfter, whether
// their worker crashed or their outcome could not be recorded.
func (p *Pool) requeueStalled(ctx context.Context) (int, error) {
	moved, err := p.queue.RequeueStalled(ctx, p.cfg.StalledAfter)
	if err != nil {
		return 0, fmt.Errorf("requeue stalled jobs: %w", err)
	}
	if moved > 0 {
		p.logger.Warn("requeued stalled jobs", zap.Int("count", moved))
	}
	return moved, nil
}

func (p *Pool) watchStalled(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StalledAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.requeueStalled(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("stalled job check failed", zap.Error(err))
			}
		}
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if p.RunOnce(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and handles at most one job. It reports whether a job was claimed.
func (p *Pool) RunOnce(ctx context.Context) bool {
	delivery, err := p.queue.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("dequeue failed", zap.Error(err))
		}
		return false
	}
	if delivery == nil {
		return false
	}

	outcome := p.handle(ctx, delivery)
	p.emit(ctx, outcome)
	return true
}

func (p *Pool) handle(ctx context.Context, d *domain.Delivery) domain.JobOutcome {
	// A claimed job is finished even during shutdown.
	base := context.WithoutCancel(ctx)
	log := p.logger.With(zap.String("job_id", d.ID), zap.Int("attempt", d.Attempt))

	jobCtx, cancel := context.WithTimeout(base, p.cfg.JobTimeout)
	result := p.process(jobCtx, d.Job)
	if result.Kind == domain.JobRetryable && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		result.Err = fmt.Errorf("job timed out after %s: %w", p.cfg.JobTimeout, result.Err)
	}
	cancel()

	outcome := domain.JobOutcome{
		JobID:   d.ID,
		SaleID:  d.Job.SaleID,
		Attempt: d.Attempt,
		Result:  result,
	}

	var err error
	switch result.Kind {
	case domain.JobSucceeded, domain.JobSkipped:
		err = p.queue.Ack(base, d.ID)
	case domain.JobTerminal:
		outcome.DeadLettered = true
		err = p.queue.Fail(base, d.ID, errString(result.Err))
	default:
		if d.Attempt < p.cfg.MaxAttempts {
			outcome.RetryIn = Backoff(p.cfg.BackoffBase, d.Attempt)
			err = p.queue.Retry(base, d.ID, outcome.RetryIn, errString(result.Err))
			break
		}
		outcome.DeadLettered = true
		if err = p.queue.Fail(base, d.ID, errString(result.Err)); err == nil {
			p.handler.Exhausted(base, d.Job, result.Err)
		}
	}
	if err != nil {
		// The job stays in the active list until the stalled-job check hands it back.
		log.Error("could not record job outcome", zap.Stringer("result", result.Kind), zap.Error(err))
	}
	return outcome
}

func (p *Pool) process(ctx context.Context, job domain.StockDeductionJob) (result domain.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Retryable(fmt.Errorf("job handler panicked: %v", r))
		}
	}()
	return p.handler.Process(ctx, job)
}

func (p *Pool) emit(ctx context.Context, outcome domain.JobOutcome) {
	if p.outcomes == nil {
		return
	}
	select {
	case p.outcomes <- outcome:
	case <-ctx.Done():
	}
}

// Backoff returns base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return base << (attempt - 1)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
