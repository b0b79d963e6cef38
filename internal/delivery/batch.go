package delivery

import (
	"context"
	"errors"
	"log/slog"
)

// DefaultChunkSize is the number of descriptors processed per chunk.
const DefaultChunkSize = 50

// BatchResult counts what happened to each descriptor.
type BatchResult struct {
	Enqueued    int `json:"enqueued"`
	Skipped     int `json:"skipped"`
	RateLimited int `json:"rate_limited"`
	Failed      int `json:"failed"`
}

// BatchProcessor fans a list of job descriptors out into single jobs.
type BatchProcessor struct {
	store     LogStore
	limiter   Limiter
	enqueuer  Enqueuer
	chunkSize int
	logger    *slog.Logger
}

func NewBatchProcessor(store LogStore, limiter Limiter, enqueuer Enqueuer, chunkSize int, logger *slog.Logger) *BatchProcessor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BatchProcessor{
		store:     store,
		limiter:   limiter,
		enqueuer:  enqueuer,
		chunkSize: chunkSize,
		logger:    logger.With("component", "delivery_batch"),
	}
}

// Process handles descriptors in chunks. Per-item errors are counted, never
// returned; only cancellation stops the batch early.
func (b *BatchProcessor) Process(ctx context.Context, jobs []Job) (BatchResult, error) {
	var res BatchResult
	for start := 0; start < len(jobs); start += b.chunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + b.chunkSize
		if end > len(jobs) {
			end = len(jobs)
		}
		for _, job := range jobs[start:end] {
			result := b.processOne(ctx, job)
			batchItemsCounter.WithLabelValues(result).Inc()
			switch result {
			case "enqueued":
				res.Enqueued++
			case "skipped":
				res.Skipped++
			case "rate_limited":
				res.RateLimited++
			default:
				res.Failed++
			}
		}
		b.logger.Debug("Batch chunk processed", "from", start, "to", end, "total", len(jobs))
	}

	b.logger.Info("Batch processed", "total", len(jobs), "enqueued", res.Enqueued, "skipped", res.Skipped,
		"rate_limited", res.RateLimited, "failed", res.Failed)
	return res, nil
}

func (b *BatchProcessor) processOne(ctx context.Context, job Job) string {
	logger := b.logger.With("user_id", job.UserID, "occasion_id", job.OccasionID, "channel", job.Channel)

	if err := job.Validate(); err != nil {
		logger.Warn("Invalid batch descriptor", "error", err)
		return "failed"
	}

	exists, err := b.store.UserExists(ctx, job.UserID)
	if err != nil {
		logger.Error("Failed to look up user", "error", err)
		return "failed"
	}
	if !exists {
		logger.Info("User no longer exists, skipping")
		return "skipped"
	}

	sent, err := b.store.WasDelivered(ctx, job.Key())
	if err != nil {
		logger.Error("Failed to check delivery log", "error", err)
		return "failed"
	}
	if sent {
		return "skipped"
	}

	allowed, err := b.limiter.TryAcquire(ctx, job.UserID, job.Channel)
	if err != nil {
		logger.Error("Rate limit check failed", "error", err)
		return "failed"
	}
	if !allowed {
		return "rate_limited"
	}

	if err := b.enqueuer.Enqueue(ctx, job); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			if err := b.limiter.Refund(ctx, job.UserID, job.Channel); err != nil {
				logger.Warn("Failed to refund rate limit attempt", "error", err)
			}
			return "skipped"
		}
		logger.Error("Failed to enqueue delivery", "error", err)
		return "failed"
	}
	return "enqueued"
}
