// Package sqs implements queue.Queue on Amazon SQS, with job state kept in a
// state.Store. SQS carries delivery; the store is the source of truth for
// status and attempt counts.
package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/scrapepanel/scrape-jobs/internal/queue"
	"github.com/scrapepanel/scrape-jobs/internal/state"
)

// API is the subset of the SQS client used by Queue.
type API interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var (
	_ API             = (*sqs.Client)(nil)
	_ queue.Queue     = (*Queue)(nil)
	_ queue.Inspector = (*Queue)(nil)
)

const (
	// MaxDelaySeconds is the longest delay SQS can hold a message for.
	// Longer delays go through the store's due index.
	MaxDelaySeconds = 900

	defaultVisibilityTimeout = 300
	defaultWaitTimeSeconds   = 20
)

// Queue is a named queue backed by one SQS queue per job type.
type Queue struct {
	client      API
	store       state.Store
	name        string
	queuePrefix string
	useFIFO     bool

	visibilityTimeout int32
	waitTimeSeconds   int32

	queueURLs   map[string]string // cache: job type -> SQS queue URL
	queueURLsMu sync.RWMutex

	now    func() time.Time
	logger *slog.Logger

	defaultAttempts int
}

// Option configures a Queue.
type Option func(*Queue)

// WithFIFO makes the queue use FIFO SQS queues.
func WithFIFO(fifo bool) Option {
	return func(q *Queue) { q.useFIFO = fifo }
}

// WithVisibilityTimeout sets how long a received message stays hidden while
// its handler runs.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if sec := int32(d / time.Second); sec > 0 {
			q.visibilityTimeout = sec
		}
	}
}

// WithWaitTime sets the long-polling wait of each receive call.
func WithWaitTime(d time.Duration) Option {
	return func(q *Queue) {
		sec := int32(d / time.Second)
		if sec >= 0 && sec <= 20 {
			q.waitTimeSeconds = sec
		}
	}
}

// WithDefaultAttempts sets the attempt cap stamped on jobs added without one.
func WithDefaultAttempts(n int) Option {
	return func(q *Queue) { q.defaultAttempts = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue named name. SQS queues are created lazily and named
// "<prefix>-<name>-<job type>".
func New(client API, store state.Store, name, queuePrefix string, opts ...Option) *Queue {
	q := &Queue{
		client:            client,
		store:             store,
		name:              name,
		queuePrefix:       queuePrefix,
		visibilityTimeout: defaultVisibilityTimeout,
		waitTimeSeconds:   defaultWaitTimeSeconds,
		queueURLs:         make(map[string]string),
		now:               time.Now,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger *slog.Logger) {
	q.logger = logger
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Close closes the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

// Ping checks that both SQS and the state store are reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if _, err := q.client.ListQueues(ctx, &sqs.ListQueuesInput{
		MaxResults: aws.Int32(1),
	}); err != nil {
		return fmt.Errorf("SQS: %w", err)
	}
	if err := q.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
