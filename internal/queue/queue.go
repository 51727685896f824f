// Package queue defines the work-queue contract the retry layer is built on,
// plus an in-process engine implementing it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// Options are the enqueue settings for a single job.
type Options struct {
	// Attempts caps the number of executions. Zero means the engine default.
	Attempts int
	// Delay postpones the first execution.
	Delay time.Duration
	// Policy overrides the worker's default retry policy for this job.
	Policy *core.RetryPolicy
}

// OrAttempts returns o with Attempts set to n when the caller gave no attempt
// cap, either directly or through a policy.
func (o Options) OrAttempts(n int) Options {
	if n <= 0 || o.Attempts > 0 || (o.Policy != nil && o.Policy.MaxAttempts > 0) {
		return o
	}
	o.Attempts = n
	return o
}

// JobOptions converts enqueue options into the form stored on the job.
func (o Options) JobOptions() core.JobOptions {
	return core.JobOptions{
		Attempts: o.Attempts,
		Delay:    o.Delay.Milliseconds(),
		Policy:   o.Policy,
	}
}

// Handler executes one job. A non-nil error counts as a failed attempt.
type Handler func(ctx context.Context, job *core.Job) error

// Queue is a named durable work queue.
//
// Engines own the job's attempt counter: after a handler error they increment
// AttemptsMade exactly once and then either re-schedule the job (when the
// error is a *RetryLater and attempts remain) or mark it failed. A failed job
// is never handed to a handler again.
type Queue interface {
	// Name returns the queue name.
	Name() string
	// AddJob enqueues a new job of the given type.
	AddJob(ctx context.Context, jobType string, payload any, opts Options) (*core.Job, error)
	// GetJob returns the job with the given ID, or (nil, nil) if absent.
	GetJob(ctx context.Context, id string) (*core.Job, error)
	// ProcessJob consumes jobs of jobType with the given concurrency until
	// ctx is cancelled.
	ProcessJob(ctx context.Context, jobType string, concurrency int, h Handler) error
	// CleanQueue removes up to limit jobs in status that finished more than
	// grace ago. A limit of zero removes all matches.
	CleanQueue(ctx context.Context, grace time.Duration, status core.Status, limit int) (int, error)
	// RemoveJob deletes a single job. It returns core.ErrJobNotFound when
	// the job does not exist.
	RemoveJob(ctx context.Context, id string) error
}

// Inspector is implemented by engines that can enumerate their jobs.
type Inspector interface {
	ListJobs(ctx context.Context, jobType string, status core.Status, limit, offset int) ([]*core.Job, int, error)
}

// RetryLater asks the engine to run the job again after Delay.
type RetryLater struct {
	Delay time.Duration
	Err   error
}

func (e *RetryLater) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.Delay, e.Err)
}

func (e *RetryLater) Unwrap() error {
	return e.Err
}

// EncodePayload turns an arbitrary payload into raw JSON.
func EncodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
