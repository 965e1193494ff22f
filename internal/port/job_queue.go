package port

import (
	"context"
	"time"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

type JobQueue interface {
	// Enqueue adds a job under job.Key(); false when a job with that key already exists
	Enqueue(ctx context.Context, job domain.StockDeductionJob) (bool, error)

	// Dequeue claims the next ready job; nil, nil when there is none
	Dequeue(ctx context.Context) (*domain.Delivery, error)

	// Ack removes a finished job
	Ack(ctx context.Context, id string) error

	// Retry schedules the job again after delay
	Retry(ctx context.Context, id string, delay time.Duration, reason string) error

	// Fail moves the job to the failed set for manual inspection
	Fail(ctx context.Context, id string, reason string) error

	State(ctx context.Context, id string) (domain.JobState, error)

	FailedJobs(ctx context.Context, limit int) ([]domain.FailedJob, error)

	// RequeueStalled returns jobs claimed at least olderThan ago and still active
	// (crashed worker, lost outcome) to the ready list
	RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error)
}
