package domain

import (
	"strings"
	"time"
)

const (
	StockDeductionJobType = "stock-deduction"
	saleJobKeyPrefix      = "sale-"
)

// StockDeductionJob is the queue payload for settling one sale.
type StockDeductionJob struct {
	SaleID string    `json:"saleId"`
	Items  []JobItem `json:"items"`
}

type JobItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Key is the deterministic queue identity, so duplicate enqueues coalesce.
func (j StockDeductionJob) Key() string {
	return JobKey(j.SaleID)
}

func JobKey(saleID string) string {
	return saleJobKeyPrefix + saleID
}

// SaleIDFromKey reverses JobKey.
func SaleIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, saleJobKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, saleJobKeyPrefix), true
}

// NewStockDeductionJob drops prices; they play no part in stock math.
func NewStockDeductionJob(sale *Sale) StockDeductionJob {
	job := StockDeductionJob{SaleID: sale.ID, Items: make([]JobItem, 0, len(sale.Items))}
	for _, item := range sale.Items {
		job.Items = append(job.Items, JobItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return job
}

// Delivery is one dequeued attempt of a job.
type Delivery struct {
	ID      string
	Job     StockDeductionJob
	Attempt int
}

type JobState int

const (
	JobStateMissing JobState = iota
	JobStateLive
	JobStateFailed
)

func (s JobState) String() string {
	switch s {
	case JobStateLive:
		return "live"
	case JobStateFailed:
		return "failed"
	default:
		return "missing"
	}
}

// FailedJob is a dead-lettered job kept for operator inspection.
type FailedJob struct {
	ID       string            `json:"id"`
	Job      StockDeductionJob `json:"job"`
	Attempts int               `json:"attempts"`
	Error    string            `json:"error"`
	FailedAt time.Time         `json:"failed_at"`
}

type JobOutcomeKind int

const (
	// JobSucceeded: stock decremented and sale COMPLETED.
	JobSucceeded JobOutcomeKind = iota
	// JobSkipped: nothing to do (sale missing or no longer PENDING).
	JobSkipped
	// JobRetryable: transient failure, the queue should try again.
	JobRetryable
	// JobTerminal: the sale was failed; retrying cannot help.
	JobTerminal
)

func (k JobOutcomeKind) String() string {
	switch k {
	case JobSucceeded:
		return "succeeded"
	case JobSkipped:
		return "skipped"
	case JobRetryable:
		return "retryable"
	case JobTerminal:
		return "terminal"
	}
	return "unknown"
}

// JobResult is what a job handler returns instead of panicking or throwing.
type JobResult struct {
	Kind JobOutcomeKind
	Err  error
}

func Succeeded() JobResult           { return JobResult{Kind: JobSucceeded} }
func Skipped(reason error) JobResult { return JobResult{Kind: JobSkipped, Err: reason} }
func Retryable(err error) JobResult  { return JobResult{Kind: JobRetryable, Err: err} }
func Terminal(err error) JobResult   { return JobResult{Kind: JobTerminal, Err: err} }

// JobOutcome is emitted by the worker pool after each attempt.
type JobOutcome struct {
	JobID        string
	SaleID       string
	Attempt      int
	Result       JobResult
	DeadLettered bool
	RetryIn      time.Duration
}
