package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/scrapepanel/scrape-jobs/internal/api"
	"github.com/scrapepanel/scrape-jobs/internal/deadletter"
	scrapegrpc "github.com/scrapepanel/scrape-jobs/internal/grpc"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
	"github.com/scrapepanel/scrape-jobs/internal/scheduler"
	"github.com/scrapepanel/scrape-jobs/internal/scrape"
	"github.com/scrapepanel/scrape-jobs/internal/server"
	"github.com/scrapepanel/scrape-jobs/internal/worker"
)

var version = "dev"

const (
	shutdownTimeout     = 30 * time.Second
	healthWatchInterval = 15 * time.Second
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("scrape worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("scrape worker stopped")
}

func run(logger *slog.Logger) error {
	cfg := server.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	policy, err := cfg.RetryPolicy()
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		logger.Warn("SCRAPE_API_KEY is not set, the dead-letter API is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close(logger)

	stateBackend := cfg.StateBackend
	if cfg.QueueBackend == "memory" {
		stateBackend = "memory"
	}
	metrics.Init(version, cfg.QueueBackend, stateBackend)

	router := deadletter.NewRouter(b.dead,
		deadletter.WithRouterLogger(logger),
		deadletter.WithWriteRetry(uint(max(cfg.DeadLetterWriteTries, 1)), 100*time.Millisecond),
	)
	retrier := worker.NewRetrier(policy, router, logger)

	pool := worker.NewPool(b.work, retrier, logger)
	pool.Register(scrape.PageJobType, cfg.Concurrency, scrape.NewPageHandler(nil, logger).Handle)

	var procOpts []deadletter.ProcessorOption
	procOpts = append(procOpts, deadletter.WithProcessorLogger(logger))
	if cfg.DeadLetterAlertRate > 0 {
		procOpts = append(procOpts, deadletter.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.DeadLetterAlertRate), 1)))
	}
	processor := deadletter.NewProcessor(b.dead, procOpts...)
	replayer := deadletter.NewReplayer(b.dead, logger)

	sched := scheduler.New(scheduler.Config{
		FlushInterval:   cfg.DeadLetterFlushInterval,
		PromoteInterval: time.Second,
		Retention:       cfg.DeadLetterRetention,
		CleanSchedule:   cfg.DeadLetterCleanSchedule,
		CleanLimit:      scheduler.DefaultConfig().CleanLimit,
	}, router, b.dead, logger)
	for _, p := range b.promoters {
		sched.AddPromoter(p)
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	httpChecks := make(map[string]api.HealthCheck, len(b.checks))
	grpcChecks := make(map[string]scrapegrpc.Check, len(b.checks))
	for name, check := range b.checks {
		httpChecks[name] = check
		grpcChecks[name] = check
	}

	targets := map[string]queue.Queue{b.work.Name(): b.work}
	handler := server.NewRouter(server.Deps{
		Version:    version,
		DeadLetter: b.dead,
		Replayer:   replayer,
		Targets: func(name string) (queue.Queue, bool) {
			q, ok := targets[name]
			return q, ok
		},
		Health: httpChecks,
	}, logger, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	grpcServer := scrapegrpc.New(grpcChecks, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return processor.Consume(gctx, deadletter.LogHandler(logger)) })

	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		logger.Info("gRPC server listening", "port", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		grpcServer.Watch(gctx, healthWatchInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
