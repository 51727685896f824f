package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

// EntryHandler inspects one dead-letter entry.
type EntryHandler func(ctx context.Context, entry core.DeadLetterEntry) error

// Processor consumes the dead-letter queue one entry at a time.
type Processor struct {
	dlq     queue.Queue
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithRateLimit paces entry handling, e.g. to stay under an alerting quota.
func WithRateLimit(limiter *rate.Limiter) ProcessorOption {
	return func(p *Processor) { p.limiter = limiter }
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor creates a processor reading from dlq.
func NewProcessor(dlq queue.Queue, opts ...ProcessorOption) *Processor {
	p := &Processor{dlq: dlq, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Consume registers handler on the dead-letter queue with concurrency 1 and
// blocks until ctx is cancelled. A handler error fails the entry; entries
// carry a single attempt so they are never retried.
func (p *Processor) Consume(ctx context.Context, handler EntryHandler) error {
	return p.dlq.ProcessJob(ctx, core.DeadLetterJobType, 1, func(ctx context.Context, job *core.Job) error {
		entry, err := core.DecodeDeadLetterEntry(job)
		if err != nil {
			p.logger.Error("undecodable dead-letter entry", "dead_letter_id", job.ID, "error", err)
			return err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("wait for rate limiter: %w", err)
			}
		}
		if err := handler(ctx, entry); err != nil {
			p.logger.Error("dead-letter handler failed",
				"dead_letter_id", job.ID, "original_job_id", entry.OriginalJobID, "error", err)
			return err
		}
		return nil
	})
}

// LogHandler returns an EntryHandler that logs every entry at warn level.
func LogHandler(logger *slog.Logger) EntryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, entry core.DeadLetterEntry) error {
		logger.WarnContext(ctx, "dead-letter entry",
			"original_job_id", entry.OriginalJobID,
			"type", entry.OriginalJobType,
			"queue", entry.OriginalQueue,
			"reason", entry.FailureReason.String(),
			"attempts_made", entry.AttemptsMade,
			"error", entry.ErrorMessage,
			"failed_at", entry.Timestamp,
		)
		return nil
	}
}
