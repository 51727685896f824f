package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
)

// Memory is an in-process Queue. Jobs live only as long as the process; it
// backs tests and single-node development runs.
type Memory struct {
	name   string
	mu     sync.Mutex
	jobs   map[string]*core.Job
	order  []string
	wake   chan struct{}
	now    func() time.Time
	poll   time.Duration
	logger *slog.Logger

	defaultAttempts int
}

var (
	_ Queue     = (*Memory)(nil)
	_ Inspector = (*Memory)(nil)
)

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithPollInterval sets how often idle workers look for delayed jobs.
func WithPollInterval(d time.Duration) MemoryOption {
	return func(m *Memory) { m.poll = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

// WithDefaultAttempts sets the attempt cap stamped on jobs added without one.
// It should match the MaxAttempts of the worker's default retry policy.
func WithDefaultAttempts(n int) MemoryOption {
	return func(m *Memory) { m.defaultAttempts = n }
}

// NewMemory creates an empty in-process queue.
func NewMemory(name string, opts ...MemoryOption) *Memory {
	m := &Memory{
		name:   name,
		jobs:   make(map[string]*core.Job),
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		poll:   50 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the queue name.
func (m *Memory) Name() string {
	return m.name
}

// AddJob enqueues a new job.
func (m *Memory) AddJob(ctx context.Context, jobType string, payload any, opts Options) (*core.Job, error) {
	if jobType == "" {
		return nil, core.NewInvalidRequestError("job type is required.", map[string]any{"field": "type"})
	}
	data, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	opts = opts.OrAttempts(m.defaultAttempts)

	now := m.now()
	job := &core.Job{
		ID:        core.NewJobID(),
		Type:      jobType,
		Queue:     m.name,
		Payload:   data,
		Status:    core.StatusWaiting,
		Options:   opts.JobOptions(),
		CreatedAt: core.FormatTime(now),
	}
	if opts.Delay > 0 {
		job.Status = core.StatusDelayed
		job.RunAt = core.FormatTime(now.Add(opts.Delay))
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	out := job.Clone()
	m.mu.Unlock()

	m.signal()
	metrics.JobsEnqueued.WithLabelValues(m.name, jobType).Inc()
	return out, nil
}

// GetJob returns a copy of the job, or nil if it does not exist.
func (m *Memory) GetJob(ctx context.Context, id string) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

// ProcessJob runs concurrency workers for jobType until ctx is done.
func (m *Memory) ProcessJob(ctx context.Context, jobType string, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	h = Recover(h)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			m.work(ctx, jobType, h)
			return nil
		})
	}
	return g.Wait()
}

func (m *Memory) work(ctx context.Context, jobType string, h Handler) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for ctx.Err() == nil {
		job := m.claim(jobType)
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
			case <-ticker.C:
			}
			continue
		}

		err := h(ctx, job)
		m.finish(job.ID, err)
	}
}

// claim moves the oldest runnable job of jobType to active.
func (m *Memory) claim(jobType string) *core.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Type != jobType || !m.runnable(job, now) {
			continue
		}
		job.Status = core.StatusActive
		job.ProcessedAt = core.FormatTime(now)
		job.RunAt = ""
		return job.Clone()
	}
	return nil
}

func (m *Memory) runnable(job *core.Job, now time.Time) bool {
	switch job.Status {
	case core.StatusWaiting:
		return true
	case core.StatusDelayed:
		runAt, err := core.ParseTime(job.RunAt)
		return err != nil || !runAt.After(now)
	}
	return false
}

func (m *Memory) finish(id string, herr error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("job removed while active", "queue", m.name, "job_id", id)
		return
	}
	retry := Settle(job, herr, m.now())
	attempts := job.AttemptsMade
	m.mu.Unlock()

	if herr != nil {
		m.logger.Debug("job attempt failed",
			"queue", m.name, "job_id", id, "attempts_made", attempts,
			"retry", retry, "error", herr)
	}
	if retry {
		m.signal()
	}
}

// CleanQueue removes finished jobs older than grace.
func (m *Memory) CleanQueue(ctx context.Context, grace time.Duration, status core.Status, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-grace)
	removed := 0
	kept := m.order[:0]
	for _, id := range m.order {
		job := m.jobs[id]
		if (limit <= 0 || removed < limit) && job.Status == status && finishedBefore(job, cutoff) {
			delete(m.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

func finishedBefore(job *core.Job, cutoff time.Time) bool {
	ts := job.FinishedAt
	if ts == "" {
		ts = job.CreatedAt
	}
	t, err := core.ParseTime(ts)
	if err != nil {
		return false
	}
	return !t.After(cutoff)
}

// RemoveJob deletes a job by ID.
func (m *Memory) RemoveJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, core.ErrJobNotFound)
	}
	delete(m.jobs, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListJobs returns jobs in enqueue order, filtered by type and status when
// those are non-empty.
func (m *Memory) ListJobs(ctx context.Context, jobType string, status core.Status, limit, offset int) ([]*core.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*core.Job
	for _, id := range m.order {
		job := m.jobs[id]
		if jobType != "" && job.Type != jobType {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		matched = append(matched, job)
	}

	total := len(matched)
	if offset >= total {
		return []*core.Job{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	out := make([]*core.Job, 0, end-offset)
	for _, job := range matched[offset:end] {
		out = append(out, job.Clone())
	}
	return out, total, nil
}

func (m *Memory) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
