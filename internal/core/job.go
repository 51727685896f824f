package core

import (
	"encoding/json"
	"time"
)

const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime formats a time as ISO 8601 UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time formatted as ISO 8601 UTC.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// JobOptions are the per-job settings chosen at enqueue time.
type JobOptions struct {
	// Attempts caps the number of executions. Zero means the default policy applies.
	Attempts int          `json:"attempts,omitempty"`
	Delay    int64        `json:"delay_ms,omitempty"`
	Policy   *RetryPolicy `json:"retry,omitempty"`
}

// Job is a unit of background work owned by the queue engine. The retry layer
// only reads it and submits new jobs; AttemptsMade is advanced by the engine
// once per failed execution.
type Job struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	AttemptsMade int             `json:"attempts_made"`
	Options      JobOptions      `json:"options"`
	CreatedAt    string          `json:"created_at"`
	ProcessedAt  string          `json:"processed_at,omitempty"`
	FinishedAt   string          `json:"finished_at,omitempty"`
	RunAt        string          `json:"run_at,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	Stacktrace   []string        `json:"stacktrace,omitempty"`

	// ReceiptHandle identifies the in-flight transport message, when there is one.
	ReceiptHandle string `json:"-"`
}

// MaxAttempts returns the attempt cap for the job, falling back to the
// default policy when none was set.
func (j *Job) MaxAttempts() int {
	if j.Options.Attempts > 0 {
		return j.Options.Attempts
	}
	if j.Options.Policy != nil && j.Options.Policy.MaxAttempts > 0 {
		return j.Options.Policy.MaxAttempts
	}
	return DefaultRetryPolicy().MaxAttempts
}

// RetryPolicy returns the effective retry policy for the job. An explicit
// attempt cap in the options overrides the policy's MaxAttempts.
func (j *Job) RetryPolicy(fallback RetryPolicy) RetryPolicy {
	policy := fallback
	if j.Options.Policy != nil {
		policy = *j.Options.Policy
	}
	if j.Options.Attempts > 0 {
		policy.MaxAttempts = j.Options.Attempts
	}
	return policy
}

// Clone returns a deep copy of the job. Engines hand handlers a clone so
// that only the engine's own instance is settled.
func (j *Job) Clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.Stacktrace = append([]string(nil), j.Stacktrace...)
	if j.Options.Policy != nil {
		policy := *j.Options.Policy
		c.Options.Policy = &policy
	}
	return &c
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// ParseTime parses a timestamp produced by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}
