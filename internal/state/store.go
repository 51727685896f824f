// Package state persists job records for queue engines whose transport does
// not keep job state itself.
package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// JobRecord represents a job stored in the state store.
type JobRecord struct {
	ID           string   `dynamodbav:"PK" bson:"_id" json:"id"`
	SK           string   `dynamodbav:"SK" bson:"-" json:"-"`
	Type         string   `dynamodbav:"type" bson:"type" json:"type"`
	Status       string   `dynamodbav:"state" bson:"status" json:"status"`
	Queue        string   `dynamodbav:"queue" bson:"queue" json:"queue"`
	Payload      string   `dynamodbav:"payload,omitempty" bson:"payload,omitempty" json:"payload,omitempty"`
	AttemptsMade int      `dynamodbav:"attempts_made" bson:"attempts_made" json:"attempts_made"`
	MaxAttempts  int      `dynamodbav:"max_attempts,omitempty" bson:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	DelayMs      int64    `dynamodbav:"delay_ms,omitempty" bson:"delay_ms,omitempty" json:"delay_ms,omitempty"`
	Retry        string   `dynamodbav:"retry,omitempty" bson:"retry,omitempty" json:"retry,omitempty"`
	CreatedAt    string   `dynamodbav:"created_at" bson:"created_at" json:"created_at"`
	ProcessedAt  string   `dynamodbav:"processed_at,omitempty" bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	FinishedAt   string   `dynamodbav:"finished_at,omitempty" bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	RunAt        string   `dynamodbav:"run_at,omitempty" bson:"run_at,omitempty" json:"run_at,omitempty"`
	FailedReason string   `dynamodbav:"failed_reason,omitempty" bson:"failed_reason,omitempty" json:"failed_reason,omitempty"`
	Stacktrace   []string `dynamodbav:"stacktrace,omitempty" bson:"stacktrace,omitempty" json:"stacktrace,omitempty"`

	// GSI attributes for queries
	GSI1PK string `dynamodbav:"GSI1PK,omitempty" bson:"-" json:"-"` // QUEUE#<name>
	GSI1SK string `dynamodbav:"GSI1SK,omitempty" bson:"-" json:"-"` // STATE#<state>#<created_at>
	GSI2PK string `dynamodbav:"GSI2PK,omitempty" bson:"-" json:"-"` // STATE#<state>
	GSI2SK string `dynamodbav:"GSI2SK,omitempty" bson:"-" json:"-"` // <created_at>
	TTL    *int64 `dynamodbav:"ttl,omitempty" bson:"-" json:"-"`    // DynamoDB TTL
}

// ListFilter narrows a job listing. Empty fields match everything.
type ListFilter struct {
	Queue  string
	Type   string
	Status string
	Limit  int
	Offset int
}

// Store defines the interface for the external state store.
type Store interface {
	// Job operations. GetJob and DeleteJob wrap core.ErrJobNotFound when the
	// record does not exist. PutJob inserts or replaces.
	PutJob(ctx context.Context, record *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	DeleteJob(ctx context.Context, jobID string) error

	// Query operations. Results are ordered oldest first.
	ListJobsByQueue(ctx context.Context, queue, status string, limit int) ([]*JobRecord, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]*JobRecord, int, error)

	// Due index for jobs delayed beyond what the transport can hold.
	AddDueJob(ctx context.Context, jobID string, dueAtMs int64) error
	GetDueJobs(ctx context.Context, nowMs int64) ([]string, error)
	RemoveDueJob(ctx context.Context, jobID string) error

	// Health check
	Ping(ctx context.Context) error

	// Close the store
	Close() error
}

// RecordToJob converts a JobRecord to a core.Job.
func RecordToJob(r *JobRecord) *core.Job {
	job := &core.Job{
		ID:           r.ID,
		Type:         r.Type,
		Queue:        r.Queue,
		Status:       core.Status(r.Status),
		AttemptsMade: r.AttemptsMade,
		Options: core.JobOptions{
			Attempts: r.MaxAttempts,
			Delay:    r.DelayMs,
		},
		CreatedAt:    r.CreatedAt,
		ProcessedAt:  r.ProcessedAt,
		FinishedAt:   r.FinishedAt,
		RunAt:        r.RunAt,
		FailedReason: r.FailedReason,
		Stacktrace:   r.Stacktrace,
	}

	if r.Payload != "" {
		job.Payload = json.RawMessage(r.Payload)
	}
	if r.Retry != "" {
		var retry core.RetryPolicy
		if json.Unmarshal([]byte(r.Retry), &retry) == nil {
			job.Options.Policy = &retry
		}
	}

	return job
}

// JobToRecord converts a core.Job to a JobRecord for storage.
func JobToRecord(job *core.Job) *JobRecord {
	status := string(job.Status)
	r := &JobRecord{
		ID:           job.ID,
		SK:           "JOB",
		Type:         job.Type,
		Status:       status,
		Queue:        job.Queue,
		AttemptsMade: job.AttemptsMade,
		MaxAttempts:  job.Options.Attempts,
		DelayMs:      job.Options.Delay,
		CreatedAt:    job.CreatedAt,
		ProcessedAt:  job.ProcessedAt,
		FinishedAt:   job.FinishedAt,
		RunAt:        job.RunAt,
		FailedReason: job.FailedReason,
		Stacktrace:   job.Stacktrace,
		GSI1PK:       "QUEUE#" + job.Queue,
		GSI1SK:       "STATE#" + status + "#" + job.CreatedAt,
		GSI2PK:       "STATE#" + status,
		GSI2SK:       job.CreatedAt,
	}

	if job.Payload != nil {
		r.Payload = string(job.Payload)
	}
	if job.Options.Policy != nil {
		retryJSON, _ := json.Marshal(job.Options.Policy)
		r.Retry = string(retryJSON)
	}

	return r
}

// createdAtMillis returns the record's creation time in Unix milliseconds,
// or zero when it cannot be parsed.
func createdAtMillis(r *JobRecord) int64 {
	t, err := time.Parse(core.TimeFormat, r.CreatedAt)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
