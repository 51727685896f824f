package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

type registration struct {
	jobType     string
	concurrency int
	handler     queue.Handler
}

// Pool runs a set of job handlers against one queue, each wrapped by the
// Retrier.
type Pool struct {
	queue    queue.Queue
	retrier  *Retrier
	logger   *slog.Logger
	handlers []registration
}

// NewPool creates a pool consuming q.
func NewPool(q queue.Queue, retrier *Retrier, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{queue: q, retrier: retrier, logger: logger}
}

// Register adds a handler for jobType. It must be called before Run.
func (p *Pool) Register(jobType string, concurrency int, h queue.Handler) {
	if concurrency < 1 {
		concurrency = 1
	}
	p.handlers = append(p.handlers, registration{
		jobType:     jobType,
		concurrency: concurrency,
		handler:     p.retrier.Wrap(h),
	})
}

// Run processes every registered job type until ctx is cancelled or one of
// the consumers fails.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.handlers) == 0 {
		return fmt.Errorf("worker pool for queue %s has no handlers", p.queue.Name())
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, reg := range p.handlers {
		p.logger.Info("worker started",
			"queue", p.queue.Name(), "type", reg.jobType, "concurrency", reg.concurrency)
		g.Go(func() error {
			if err := p.queue.ProcessJob(ctx, reg.jobType, reg.concurrency, reg.handler); err != nil {
				return fmt.Errorf("process %s on %s: %w", reg.jobType, p.queue.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
