package sqs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// maxQueueNameLen is the SQS limit, including any .fifo suffix.
const maxQueueNameLen = 80

// SQS queue naming convention:
//   {prefix}-{queue}-{job_type}        -- standard queue
//   {prefix}-{queue}-{job_type}.fifo   -- FIFO queue variant

// sqsQueueName returns the SQS queue name for a job type on this queue.
func (q *Queue) sqsQueueName(queueName, jobType string) string {
	name := q.queuePrefix + "-" + sanitizeQueueName(queueName) + "-" + sanitizeQueueName(jobType)
	limit := maxQueueNameLen
	if q.useFIFO {
		limit -= len(".fifo")
	}
	if len(name) > limit {
		name = name[:limit]
	}
	if q.useFIFO {
		name += ".fifo"
	}
	return name
}

// sanitizeQueueName maps a name onto the characters SQS accepts
// (alphanumerics, hyphens and underscores).
func sanitizeQueueName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, name)
}

func cacheKey(queueName, jobType string) string {
	return queueName + "\x00" + jobType
}

// getOrCreateQueueURL gets (from cache) or creates an SQS queue and returns its URL.
func (q *Queue) getOrCreateQueueURL(ctx context.Context, queueName, jobType string) (string, error) {
	key := cacheKey(queueName, jobType)
	q.queueURLsMu.RLock()
	if url, ok := q.queueURLs[key]; ok {
		q.queueURLsMu.RUnlock()
		return url, nil
	}
	q.queueURLsMu.RUnlock()

	sqsName := q.sqsQueueName(queueName, jobType)
	attrs := map[string]string{
		"ReceiveMessageWaitTimeSeconds": "20",      // Long polling
		"VisibilityTimeout":             fmt.Sprint(q.visibilityTimeout),
		"MessageRetentionPeriod":        "1209600", // 14 days
	}

	if q.useFIFO {
		attrs["FifoQueue"] = "true"
		attrs["ContentBasedDeduplication"] = "true"
	}

	result, err := q.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(sqsName),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("create SQS queue %s: %w", sqsName, err)
	}

	url := aws.ToString(result.QueueUrl)

	q.queueURLsMu.Lock()
	q.queueURLs[key] = url
	q.queueURLsMu.Unlock()

	return url, nil
}

// getQueueURL gets an existing queue URL without creating it.
func (q *Queue) getQueueURL(ctx context.Context, queueName, jobType string) (string, error) {
	key := cacheKey(queueName, jobType)
	q.queueURLsMu.RLock()
	if url, ok := q.queueURLs[key]; ok {
		q.queueURLsMu.RUnlock()
		return url, nil
	}
	q.queueURLsMu.RUnlock()

	sqsName := q.sqsQueueName(queueName, jobType)
	result, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(sqsName),
	})
	if err != nil {
		return "", fmt.Errorf("get SQS queue URL for %s: %w", sqsName, err)
	}

	url := aws.ToString(result.QueueUrl)

	q.queueURLsMu.Lock()
	q.queueURLs[key] = url
	q.queueURLsMu.Unlock()

	return url, nil
}
