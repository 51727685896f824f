package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	goredis "github.com/redis/go-redis/v9"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
	"github.com/scrapepanel/scrape-jobs/internal/scheduler"
	"github.com/scrapepanel/scrape-jobs/internal/server"
	sqsbackend "github.com/scrapepanel/scrape-jobs/internal/sqs"
	"github.com/scrapepanel/scrape-jobs/internal/state"
)

// backend is the pair of queues the worker runs against, plus the health
// checks and cleanup they need.
type backend struct {
	work      queue.Queue
	dead      queue.Queue
	promoters []scheduler.Promoter
	checks    map[string]func(context.Context) error
	closers   []func() error
}

func (b *backend) close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Error("close backend", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg server.Config, logger *slog.Logger) (*backend, error) {
	if cfg.QueueBackend == "memory" {
		return &backend{
			work:   queue.NewMemory(cfg.QueueName, queue.WithLogger(logger), queue.WithDefaultAttempts(cfg.RetryMaxAttempts)),
			dead:   queue.NewMemory(core.DeadLetterQueue, queue.WithLogger(logger)),
			checks: map[string]func(context.Context) error{},
		}, nil
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure AWS: %w", err)
	}

	b := &backend{checks: map[string]func(context.Context) error{}}
	store, err := openStore(ctx, cfg, awsCfg, b)
	if err != nil {
		b.close(logger)
		return nil, err
	}
	b.checks[cfg.StateBackend] = store.Ping

	sqsClient := sqs.NewFromConfig(awsCfg)
	opts := []sqsbackend.Option{sqsbackend.WithFIFO(cfg.UseFIFO)}

	workOpts := append([]sqsbackend.Option{sqsbackend.WithDefaultAttempts(cfg.RetryMaxAttempts)}, opts...)
	work := sqsbackend.New(sqsClient, store, cfg.QueueName, cfg.SQSQueuePrefix, workOpts...)
	work.SetLogger(logger)
	dead := sqsbackend.New(sqsClient, store, core.DeadLetterQueue, cfg.SQSQueuePrefix, opts...)
	dead.SetLogger(logger)

	b.work, b.dead = work, dead
	b.promoters = []scheduler.Promoter{work, dead}
	b.checks["sqs"] = work.Ping

	logger.Info("SQS backend ready",
		"prefix", cfg.SQSQueuePrefix,
		"fifo", cfg.UseFIFO,
		"region", cfg.AWSRegion,
		"state", cfg.StateBackend,
	)
	return b, nil
}

// openStore connects the configured state store. Both queues share it, so
// it is closed once by the backend rather than by each queue.
func openStore(ctx context.Context, cfg server.Config, awsCfg aws.Config, b *backend) (state.Store, error) {
	switch cfg.StateBackend {
	case "mongo":
		store, err := state.OpenMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open MongoDB store: %w", err)
		}
		b.closers = append(b.closers, store.Close)
		return store, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, client.Close)
		store := state.NewRedisStore(client, cfg.SQSQueuePrefix)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		return store, nil

	default:
		store := state.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
		if err := store.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure DynamoDB table: %w", err)
		}
		b.closers = append(b.closers, store.Close)
		return store, nil
	}
}

func buildAWSConfig(ctx context.Context, cfg server.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
	}

	// LocalStack or another custom endpoint
	if cfg.AWSEndpointURL != "" {
		opts = append(opts,
			config.WithBaseEndpoint(cfg.AWSEndpointURL),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	return config.LoadDefaultConfig(ctx, opts...)
}
