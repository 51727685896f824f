package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
	"github.com/scrapepanel/scrape-jobs/internal/state"
)

// AddJob stores a new job record and sends it to SQS.
func (q *Queue) AddJob(ctx context.Context, jobType string, payload any, opts queue.Options) (*core.Job, error) {
	if jobType == "" {
		return nil, core.NewInvalidRequestError("job type is required.", map[string]any{"field": "type"})
	}
	if opts.Policy != nil {
		if err := opts.Policy.Validate(); err != nil {
			return nil, err
		}
	}
	data, err := queue.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	opts = opts.OrAttempts(q.defaultAttempts)

	now := q.now()
	job := &core.Job{
		ID:        core.NewJobID(),
		Type:      jobType,
		Queue:     q.name,
		Payload:   data,
		Status:    core.StatusWaiting,
		Options:   opts.JobOptions(),
		CreatedAt: core.FormatTime(now),
	}
	if opts.Delay > 0 {
		job.Status = core.StatusDelayed
		job.RunAt = core.FormatTime(now.Add(opts.Delay))
	}

	// The record must exist before the message can be received.
	if err := q.store.PutJob(ctx, state.JobToRecord(job)); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	if err := q.dispatch(ctx, job, opts.Delay); err != nil {
		if derr := q.store.DeleteJob(ctx, job.ID); derr != nil {
			q.logger.Error("failed to roll back job record", "job_id", job.ID, "error", derr)
		}
		return nil, err
	}

	metrics.JobsEnqueued.WithLabelValues(q.name, jobType).Inc()
	return job, nil
}

// dispatch makes job runnable after delay. Delays SQS can hold become
// DelaySeconds on the message; longer ones, and any delay on a FIFO queue,
// go to the store's due index.
func (q *Queue) dispatch(ctx context.Context, job *core.Job, delay time.Duration) error {
	if delay > MaxDelaySeconds*time.Second || (q.useFIFO && delay > 0) {
		runAt := q.now().Add(delay)
		if err := q.store.AddDueJob(ctx, job.ID, runAt.UnixMilli()); err != nil {
			return fmt.Errorf("schedule job %s: %w", job.ID, err)
		}
		return nil
	}
	_, err := q.sendToSQS(ctx, job, delaySeconds(delay))
	return err
}

// sendToSQS sends a job as an SQS message and returns the message ID.
func (q *Queue) sendToSQS(ctx context.Context, job *core.Job, delaySec int32) (string, error) {
	queueURL, err := q.getOrCreateQueueURL(ctx, job.Queue, job.Type)
	if err != nil {
		return "", err
	}

	body, err := EncodeJob(job)
	if err != nil {
		return "", err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: BuildMessageAttributes(job),
	}

	if q.useFIFO {
		input.MessageGroupId = aws.String(job.Type)
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%s-%d", job.ID, job.AttemptsMade))
	} else if delaySec > 0 {
		input.DelaySeconds = delaySec
	}

	result, err := q.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("SQS SendMessage: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// delaySeconds rounds d up to whole seconds within the SQS range.
func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	sec := int32((d + time.Second - 1) / time.Second)
	if sec > MaxDelaySeconds {
		sec = MaxDelaySeconds
	}
	return sec
}
