// Package scheduler runs the background upkeep of the dead-letter pipeline.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

// Flusher re-attempts dead-letter writes that were buffered after a failure.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
	Pending() int
}

// Promoter moves delayed jobs whose time has come onto the transport.
type Promoter interface {
	PromoteDue(ctx context.Context) (int, error)
}

// Config holds the scheduler intervals.
type Config struct {
	FlushInterval   time.Duration
	PromoteInterval time.Duration
	// Retention is how long finished dead-letter entries are kept. Zero
	// disables the clean job.
	Retention time.Duration
	// CleanSchedule is a five-field cron expression or descriptor.
	CleanSchedule string
	CleanLimit    int
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:   5 * time.Second,
		PromoteInterval: time.Second,
		Retention:       30 * 24 * time.Hour,
		CleanSchedule:   "@hourly",
		CleanLimit:      1000,
	}
}

// Scheduler runs background tasks for the worker.
type Scheduler struct {
	cfg       Config
	flusher   Flusher
	dlq       queue.Queue
	promoters []Promoter
	cron      *cron.Cron
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(cfg Config, flusher Flusher, dlq queue.Queue, logger *slog.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cfg:     cfg,
		flusher: flusher,
		dlq:     dlq,
		cron:    cron.New(cron.WithParser(parser)),
		stop:    make(chan struct{}),
		logger:  logger,
	}
}

// AddPromoter registers an engine whose due index needs promoting. It must
// be called before Start.
func (s *Scheduler) AddPromoter(p Promoter) {
	s.promoters = append(s.promoters, p)
}

// Start begins all background scheduling goroutines.
func (s *Scheduler) Start() error {
	if s.cfg.Retention > 0 && s.cfg.CleanSchedule != "" {
		_, err := s.cron.AddFunc(s.cfg.CleanSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := s.CleanDeadLetters(ctx); err != nil {
				s.logger.Error("dead-letter clean failed", "error", err)
			}
		})
		if err != nil {
			return core.NewInvalidRequestError(
				fmt.Sprintf("Invalid cron expression: %s", s.cfg.CleanSchedule),
				map[string]any{"expression": s.cfg.CleanSchedule, "error": err.Error()},
			)
		}
	}

	if s.flusher != nil && s.cfg.FlushInterval > 0 {
		s.goLoop("dead-letter-flush", s.cfg.FlushInterval, s.flush)
	}
	for _, p := range s.promoters {
		if s.cfg.PromoteInterval <= 0 {
			break
		}
		s.goLoop("due-promoter", s.cfg.PromoteInterval, promote(p, s.logger))
	}
	s.cron.Start()
	return nil
}

// Stop signals all background goroutines to stop and waits for them and
// any running clean job to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.cron.Stop().Done()
		s.wg.Wait()
	})
}

// CleanDeadLetters removes completed and failed dead-letter entries older
// than the retention period.
func (s *Scheduler) CleanDeadLetters(ctx context.Context) (int, error) {
	total := 0
	for _, status := range []core.Status{core.StatusCompleted, core.StatusFailed} {
		n, err := s.dlq.CleanQueue(ctx, s.cfg.Retention, status, s.cfg.CleanLimit)
		total += n
		if err != nil {
			return total, fmt.Errorf("clean %s dead-letter entries: %w", status, err)
		}
	}
	if total > 0 {
		metrics.DeadLetterCleaned.Add(float64(total))
		s.logger.Info("cleaned dead-letter entries", "removed", total, "retention", s.cfg.Retention.String())
	}
	return total, nil
}

func (s *Scheduler) flush(ctx context.Context) error {
	if s.flusher.Pending() == 0 {
		return nil
	}
	_, err := s.flusher.Flush(ctx)
	return err
}

func promote(p Promoter, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := p.PromoteDue(ctx)
		if n > 0 {
			logger.Debug("promoted due jobs", "count", n)
		}
		return err
	}
}

func (s *Scheduler) goLoop(name string, interval time.Duration, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(name, interval, fn)
	}()
}

func (s *Scheduler) runLoop(name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := fn(ctx); err != nil {
				s.logger.Error("scheduler loop error", "loop", name, "error", err)
			}
			cancel()
		}
	}
}
