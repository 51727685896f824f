package sqs

import (
	"encoding/json"
	"fmt"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// MaxSQSMessageSize is the maximum SQS message size (256 KB).
const MaxSQSMessageSize = 256 * 1024

// EncodeJob serializes a Job to JSON for the SQS message body.
// Returns an error if the encoded job exceeds 256KB.
func EncodeJob(job *core.Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	if len(data) > MaxSQSMessageSize {
		return "", core.NewInvalidRequestError(
			fmt.Sprintf("Job size (%d bytes) exceeds SQS maximum of %d bytes.", len(data), MaxSQSMessageSize),
			map[string]any{
				"payload_size": len(data),
				"max_size":     MaxSQSMessageSize,
				"job_id":       job.ID,
			},
		)
	}

	return string(data), nil
}

// DecodeJob deserializes a Job from an SQS message body.
func DecodeJob(body string) (*core.Job, error) {
	var job core.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("unmarshal job: missing id")
	}
	return &job, nil
}
