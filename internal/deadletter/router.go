package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

// ErrDeadLetterBuffered is returned by Route when the dead-letter queue could
// not be written. The entry is held in memory until Flush succeeds.
var ErrDeadLetterBuffered = errors.New("dead-letter write failed, entry buffered")

const (
	defaultWriteTries   = 3
	defaultMaxPending   = 1000
	defaultWriteBackoff = 100 * time.Millisecond
	defaultMaxRouted    = 10000
)

// Router writes one dead-letter entry per exhausted job.
type Router struct {
	dlq    queue.Queue
	now    func() time.Time
	logger *slog.Logger

	writeTries   uint
	writeBackoff time.Duration
	maxPending   int

	mu      sync.Mutex
	pending []core.DeadLetterEntry

	// routed remembers recently dead-lettered job IDs so a redelivered
	// final attempt does not write a second entry.
	routed      map[string]struct{}
	routedOrder []string
	maxRouted   int
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterClock overrides the time source used for entry timestamps.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithWriteRetry sets how many times a dead-letter write is tried before the
// entry is buffered, and the initial backoff between tries.
func WithWriteRetry(tries uint, initial time.Duration) RouterOption {
	return func(r *Router) {
		if tries > 0 {
			r.writeTries = tries
		}
		if initial > 0 {
			r.writeBackoff = initial
		}
	}
}

// WithMaxPending bounds the in-memory buffer. The oldest entry is dropped
// when it overflows.
func WithMaxPending(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxPending = n
		}
	}
}

// NewRouter creates a router writing to dlq.
func NewRouter(dlq queue.Queue, opts ...RouterOption) *Router {
	r := &Router{
		dlq:          dlq,
		now:          time.Now,
		logger:       slog.Default(),
		writeTries:   defaultWriteTries,
		writeBackoff: defaultWriteBackoff,
		maxPending:   defaultMaxPending,
		routed:       make(map[string]struct{}),
		maxRouted:    defaultMaxRouted,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route classifies jobErr and records job on the dead-letter queue. It is
// called once per job, after the final failed attempt. A job already routed
// by this router is skipped.
func (r *Router) Route(ctx context.Context, job *core.Job, jobErr error) error {
	if !r.markRouted(job.ID) {
		r.logger.Warn("job already dead-lettered, skipping duplicate",
			"job_id", job.ID, "type", job.Type)
		return nil
	}
	entry := core.NewDeadLetterEntry(job, jobErr, r.now())

	dead, err := r.write(ctx, entry)
	if err != nil {
		metrics.DeadLetterWriteFailures.Inc()
		r.park(entry)
		r.logger.Error("dead-letter write failed, entry buffered",
			"job_id", job.ID, "type", job.Type, "reason", entry.FailureReason.String(),
			"pending", r.Pending(), "error", err)
		return fmt.Errorf("route job %s: %w: %w", job.ID, ErrDeadLetterBuffered, err)
	}

	metrics.JobsDeadLettered.WithLabelValues(entry.FailureReason.String()).Inc()
	r.logger.Warn("job moved to dead-letter queue",
		"job_id", job.ID, "type", job.Type, "dead_letter_id", dead.ID,
		"reason", entry.FailureReason.String(), "attempts_made", entry.AttemptsMade)
	return nil
}

func (r *Router) write(ctx context.Context, entry core.DeadLetterEntry) (*core.Job, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.writeBackoff

	return backoff.Retry(ctx, func() (*core.Job, error) {
		job, err := r.dlq.AddJob(ctx, core.DeadLetterJobType, entry, queue.Options{Attempts: 1})
		if err != nil {
			var coreErr *core.Error
			if errors.As(err, &coreErr) && !coreErr.Retryable {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return job, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.writeTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug("retrying dead-letter write",
				"original_job_id", entry.OriginalJobID, "next", next, "error", err)
		}),
	)
}

// markRouted records id and reports whether it was new. The oldest IDs are
// forgotten once maxRouted is reached.
func (r *Router) markRouted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routed[id]; ok {
		return false
	}
	if len(r.routedOrder) >= r.maxRouted {
		delete(r.routed, r.routedOrder[0])
		r.routedOrder = r.routedOrder[1:]
	}
	r.routed[id] = struct{}{}
	r.routedOrder = append(r.routedOrder, id)
	return true
}

func (r *Router) park(entry core.DeadLetterEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) >= r.maxPending {
		dropped := r.pending[0]
		r.pending = r.pending[1:]
		r.logger.Error("dead-letter buffer full, dropping oldest entry",
			"original_job_id", dropped.OriginalJobID, "type", dropped.OriginalJobType)
	}
	r.pending = append(r.pending, entry)
	metrics.DeadLetterPending.Set(float64(len(r.pending)))
}

// Pending returns the number of buffered entries.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush retries every buffered entry once. Entries that still cannot be
// written stay buffered in their original order. It returns how many were
// written and the first error seen.
func (r *Router) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	var (
		failed   []core.DeadLetterEntry
		firstErr error
		written  int
	)
	for _, entry := range batch {
		if ctx.Err() != nil {
			failed = append(failed, entry)
			continue
		}
		if _, err := r.dlq.AddJob(ctx, core.DeadLetterJobType, entry, queue.Options{Attempts: 1}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, entry)
			continue
		}
		written++
		metrics.JobsDeadLettered.WithLabelValues(entry.FailureReason.String()).Inc()
	}

	r.mu.Lock()
	// Entries parked while flushing go after the ones that were already waiting.
	r.pending = append(failed, r.pending...)
	if over := len(r.pending) - r.maxPending; over > 0 {
		r.pending = r.pending[over:]
	}
	metrics.DeadLetterPending.Set(float64(len(r.pending)))
	r.mu.Unlock()

	if written > 0 {
		r.logger.Info("flushed buffered dead-letter entries", "written", written, "pending", len(failed))
	}
	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	return written, firstErr
}
