package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
	"github.com/scrapepanel/scrape-jobs/internal/state"
)

// receiveErrorPause is how long a worker waits after a failed receive.
const receiveErrorPause = time.Second

// ProcessJob long-polls the SQS queue for jobType with concurrency workers
// until ctx is cancelled. Each worker holds at most one message at a time.
func (q *Queue) ProcessJob(ctx context.Context, jobType string, concurrency int, h queue.Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	queueURL, err := q.getOrCreateQueueURL(ctx, q.name, jobType)
	if err != nil {
		return err
	}
	h = queue.Recover(h)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			q.poll(ctx, queueURL, h)
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) poll(ctx context.Context, queueURL string, h queue.Handler) {
	for ctx.Err() == nil {
		msg, err := q.receiveFromSQS(ctx, queueURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("SQS receive failed", "queue", q.name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveErrorPause):
			}
			continue
		}
		if msg == nil {
			continue
		}
		q.handleMessage(ctx, queueURL, *msg, h)
	}
}

// receiveFromSQS receives at most one message from the queue.
func (q *Queue) receiveFromSQS(ctx context.Context, queueURL string) (*types.Message, error) {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   1,
		VisibilityTimeout:     q.visibilityTimeout,
		WaitTimeSeconds:       q.waitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("SQS ReceiveMessage: %w", err)
	}
	if len(result.Messages) == 0 {
		return nil, nil
	}
	return &result.Messages[0], nil
}

// handleMessage runs one delivery. The store record, not the message body,
// decides whether the job still runs.
func (q *Queue) handleMessage(ctx context.Context, queueURL string, msg types.Message, h queue.Handler) {
	receipt := aws.ToString(msg.ReceiptHandle)

	// Results are persisted even when shutdown cancels ctx mid-handler.
	settleCtx := context.WithoutCancel(ctx)

	jobID := jobIDFromAttributes(msg.MessageAttributes)
	if jobID == "" {
		decoded, err := DecodeJob(aws.ToString(msg.Body))
		if err != nil {
			q.logger.Warn("dropping malformed message", "queue", q.name, "message_id", aws.ToString(msg.MessageId), "error", err)
			q.deleteFromSQS(settleCtx, queueURL, receipt)
			return
		}
		jobID = decoded.ID
	}

	record, err := q.store.GetJob(ctx, jobID)
	if errors.Is(err, core.ErrJobNotFound) {
		q.logger.Debug("dropping message for removed job", "queue", q.name, "job_id", jobID)
		q.deleteFromSQS(settleCtx, queueURL, receipt)
		return
	}
	if err != nil {
		q.logger.Error("failed to load job", "queue", q.name, "job_id", jobID, "error", err)
		q.releaseMessage(settleCtx, queueURL, receipt, 0)
		return
	}

	job := state.RecordToJob(record)
	if job.Status.IsTerminal() {
		q.deleteFromSQS(settleCtx, queueURL, receipt)
		return
	}

	now := q.now()
	job.Status = core.StatusActive
	job.ProcessedAt = core.FormatTime(now)
	job.RunAt = ""
	job.ReceiptHandle = receipt
	if err := q.store.PutJob(ctx, state.JobToRecord(job)); err != nil {
		q.logger.Error("failed to activate job", "queue", q.name, "job_id", jobID, "error", err)
		q.releaseMessage(settleCtx, queueURL, receipt, 0)
		return
	}

	herr := h(ctx, job.Clone())
	retry := queue.Settle(job, herr, q.now())

	if err := q.store.PutJob(settleCtx, state.JobToRecord(job)); err != nil {
		// The message comes back after the visibility timeout and the
		// attempt runs again.
		q.logger.Error("failed to record job result", "queue", q.name, "job_id", jobID, "error", err)
		return
	}

	if herr != nil {
		q.logger.Debug("job attempt failed",
			"queue", q.name, "job_id", jobID, "attempts_made", job.AttemptsMade,
			"retry", retry, "error", herr)
	}

	if retry {
		delay := q.retryDelay(job)
		if err := q.dispatch(settleCtx, job, delay); err != nil {
			q.logger.Error("failed to reschedule job, falling back to redelivery",
				"queue", q.name, "job_id", jobID, "error", err)
			q.releaseMessage(settleCtx, queueURL, receipt, visibilityFor(delay))
			return
		}
	}

	q.deleteFromSQS(settleCtx, queueURL, receipt)
}

// retryDelay returns the time left until the job's RunAt.
func (q *Queue) retryDelay(job *core.Job) time.Duration {
	runAt, err := core.ParseTime(job.RunAt)
	if err != nil {
		return 0
	}
	if d := runAt.Sub(q.now()); d > 0 {
		return d
	}
	return 0
}

// deleteFromSQS deletes a message from an SQS queue.
func (q *Queue) deleteFromSQS(ctx context.Context, queueURL, receiptHandle string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		q.logger.Error("SQS DeleteMessage failed", "queue", q.name, "error", err)
	}
}
