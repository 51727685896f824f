package sqs

import (
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// Message attribute names. SQS allows max 10 message attributes per message.
const (
	AttrJobID        = "scrape.id"
	AttrJobType      = "scrape.type"
	AttrJobQueue     = "scrape.queue"
	AttrAttemptsMade = "scrape.attempts_made"
	AttrCreatedAt    = "scrape.created_at"
)

// BuildMessageAttributes creates SQS message attributes from a Job.
func BuildMessageAttributes(job *core.Job) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		AttrJobID:    stringAttr(job.ID),
		AttrJobType:  stringAttr(job.Type),
		AttrJobQueue: stringAttr(job.Queue),
		AttrAttemptsMade: {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(job.AttemptsMade)),
		},
	}
	if job.CreatedAt != "" {
		attrs[AttrCreatedAt] = stringAttr(job.CreatedAt)
	}
	return attrs
}

// jobIDFromAttributes returns the job ID carried in the message attributes.
func jobIDFromAttributes(attrs map[string]types.MessageAttributeValue) string {
	if v, ok := attrs[AttrJobID]; ok {
		return aws.ToString(v.StringValue)
	}
	return ""
}

func stringAttr(s string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(s),
	}
}
