package sqs

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// maxVisibilityTimeout is the SQS limit of 12 hours.
const maxVisibilityTimeout = 43200

// releaseMessage makes an in-flight message visible again after
// timeoutSeconds. Zero means immediate redelivery.
func (q *Queue) releaseMessage(ctx context.Context, queueURL, receiptHandle string, timeoutSeconds int32) {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: timeoutSeconds,
	})
	if err != nil {
		q.logger.Error("SQS ChangeMessageVisibility failed", "queue", q.name, "error", err)
	}
}

// visibilityFor converts a delay into a visibility timeout SQS accepts.
func visibilityFor(d time.Duration) int32 {
	sec := int64((d + time.Second - 1) / time.Second)
	if sec < 0 {
		return 0
	}
	if sec > maxVisibilityTimeout {
		return maxVisibilityTimeout
	}
	return int32(sec)
}
