package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

// Replayer re-enqueues dead-letter entries as fresh jobs.
type Replayer struct {
	dlq    queue.Queue
	logger *slog.Logger
}

// NewReplayer creates a replayer over the dead-letter queue.
func NewReplayer(dlq queue.Queue, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{dlq: dlq, logger: logger}
}

// Replay submits the entry stored under deadLetterID to target as a new job
// with the original type and payload, then removes the entry.
//
// It returns false without side effects when the entry does not exist, is
// not a dead-letter job, or cannot be decoded. When override is nil the new
// job gets a single attempt. A true result with a non-nil error means the new
// job was created but the entry could not be removed.
func (r *Replayer) Replay(ctx context.Context, deadLetterID string, target queue.Queue, override *queue.Options) (bool, error) {
	job, err := r.dlq.GetJob(ctx, deadLetterID)
	if err != nil {
		return false, fmt.Errorf("get dead-letter entry %s: %w", deadLetterID, err)
	}
	if job == nil || job.Type != core.DeadLetterJobType {
		return false, nil
	}
	entry, err := core.DecodeDeadLetterEntry(job)
	if err != nil {
		r.logger.Warn("skipping undecodable dead-letter entry", "dead_letter_id", deadLetterID, "error", err)
		return false, nil
	}

	opts := queue.Options{Attempts: 1}
	if override != nil {
		opts = *override
	}

	replayed, err := target.AddJob(ctx, entry.OriginalJobType, entry.OriginalJobPayload, opts)
	if err != nil {
		return false, fmt.Errorf("replay %s to %s: %w", deadLetterID, target.Name(), err)
	}
	metrics.DeadLetterReplayed.WithLabelValues(target.Name()).Inc()

	if err := r.dlq.RemoveJob(ctx, deadLetterID); err != nil && !errors.Is(err, core.ErrJobNotFound) {
		r.logger.Error("replayed job but failed to remove dead-letter entry",
			"dead_letter_id", deadLetterID, "job_id", replayed.ID, "error", err)
		return true, fmt.Errorf("remove dead-letter entry %s: %w", deadLetterID, err)
	}

	r.logger.Info("dead-letter entry replayed",
		"dead_letter_id", deadLetterID, "job_id", replayed.ID,
		"type", entry.OriginalJobType, "queue", target.Name())
	return true, nil
}

// ReplayAll replays up to limit entries to target, oldest first. It requires
// a dead-letter queue that can enumerate its jobs.
func (r *Replayer) ReplayAll(ctx context.Context, target queue.Queue, limit int) (int, error) {
	inspector, ok := r.dlq.(queue.Inspector)
	if !ok {
		return 0, core.NewInvalidRequestError("dead-letter queue does not support listing.", nil)
	}

	jobs, _, err := inspector.ListJobs(ctx, core.DeadLetterJobType, "", limit, 0)
	if err != nil {
		return 0, fmt.Errorf("list dead-letter entries: %w", err)
	}

	replayed := 0
	for _, job := range jobs {
		ok, err := r.Replay(ctx, job.ID, target, nil)
		if err != nil {
			return replayed, err
		}
		if ok {
			replayed++
		}
	}
	return replayed, nil
}
