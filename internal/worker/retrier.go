// Package worker wraps job handlers with failure classification, backoff
// and dead-letter routing.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

// DeadLetterRouter records a job that has no retries left.
type DeadLetterRouter interface {
	Route(ctx context.Context, job *core.Job, err error) error
}

// Retrier decides, after every failed attempt, whether a job is retried or
// dead-lettered.
//
// The backoff is computed from the attempt count including the failure being
// handled, since engines increment AttemptsMade only after the handler
// returns. The first retry therefore waits InitialDelay*Factor, and the
// final permitted attempt is the one that exhausts the policy.
type Retrier struct {
	policy core.RetryPolicy
	router DeadLetterRouter
	logger *slog.Logger
}

// NewRetrier creates a retrier. policy applies to jobs enqueued without one.
func NewRetrier(policy core.RetryPolicy, router DeadLetterRouter, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{policy: policy, router: router, logger: logger}
}

// Wrap returns a handler that runs h and translates its failure into the
// engine's retry contract: a *queue.RetryLater while attempts remain, and a
// dead-letter write followed by the original error once they are exhausted.
func (r *Retrier) Wrap(h queue.Handler) queue.Handler {
	return func(ctx context.Context, job *core.Job) error {
		start := time.Now()
		err := h(ctx, job)
		metrics.JobDuration.WithLabelValues(job.Queue, job.Type).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.JobsCompleted.WithLabelValues(job.Queue, job.Type).Inc()
			return nil
		}
		return r.onFailure(ctx, job, err)
	}
}

func (r *Retrier) onFailure(ctx context.Context, job *core.Job, err error) error {
	policy := r.policyFor(job)
	// The engine counts this attempt only after the handler returns.
	attemptsMade := job.AttemptsMade + 1
	reason := core.Classify(err)

	delay := core.NextDelay(attemptsMade, policy)
	if !core.IsExhausted(delay) {
		metrics.JobsRetried.WithLabelValues(job.Type, reason.String()).Inc()
		metrics.RetryDelay.Observe(delay.Seconds())
		r.logger.Info("job attempt failed, retrying",
			"job_id", job.ID, "type", job.Type, "attempts_made", attemptsMade,
			"max_attempts", policy.MaxAttempts, "reason", reason.String(),
			"delay", delay, "error", err)
		return &queue.RetryLater{Delay: delay, Err: err}
	}

	metrics.JobsFailed.WithLabelValues(job.Queue, job.Type).Inc()
	snapshot := *job
	snapshot.AttemptsMade = attemptsMade
	if rerr := r.router.Route(ctx, &snapshot, err); rerr != nil {
		r.logger.Error("failed to dead-letter job",
			"job_id", job.ID, "type", job.Type, "error", rerr)
	}
	return err
}

// policyFor resolves the job's effective policy, never allowing more
// attempts than the engine will run.
func (r *Retrier) policyFor(job *core.Job) core.RetryPolicy {
	policy := job.RetryPolicy(r.policy)
	if limit := job.MaxAttempts(); policy.MaxAttempts > limit {
		policy.MaxAttempts = limit
	}
	return policy
}
