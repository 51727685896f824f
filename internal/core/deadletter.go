package core

import (
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

const (
	// DeadLetterJobType tags every job on the dead-letter queue.
	DeadLetterJobType = "dead-job"
	// DeadLetterQueue is the name of the holding queue for exhausted jobs.
	DeadLetterQueue = "dead-letter"
)

// DeadLetterEntry is the record written once for a job that exhausted its
// retry budget. OriginalJobID is historical metadata only; a replay creates
// a new job.
type DeadLetterEntry struct {
	OriginalJobID      string          `json:"original_job_id"`
	OriginalJobType    string          `json:"original_job_type"`
	OriginalQueue      string          `json:"original_queue,omitempty"`
	OriginalJobPayload json.RawMessage `json:"original_job_payload"`
	FailureReason      FailureReason   `json:"failure_reason"`
	ErrorMessage       string          `json:"error_message"`
	StackTrace         string          `json:"stack_trace,omitempty"`
	AttemptsMade       int             `json:"attempts_made"`
	Timestamp          time.Time       `json:"timestamp"`
}

// NewDeadLetterEntry captures the identity, payload and failure metadata of
// job at time now.
func NewDeadLetterEntry(job *Job, jobErr error, now time.Time) DeadLetterEntry {
	entry := DeadLetterEntry{
		OriginalJobID:      job.ID,
		OriginalJobType:    job.Type,
		OriginalQueue:      job.Queue,
		OriginalJobPayload: job.Payload,
		FailureReason:      Classify(jobErr),
		AttemptsMade:       job.AttemptsMade,
		Timestamp:          now.UTC(),
	}
	if jobErr != nil {
		entry.ErrorMessage = jobErr.Error()
		entry.StackTrace = StackOf(jobErr)
	}
	return entry
}

// DecodeDeadLetterEntry extracts the entry carried by a dead-letter job.
func DecodeDeadLetterEntry(job *Job) (DeadLetterEntry, error) {
	var entry DeadLetterEntry
	if job == nil || job.Type != DeadLetterJobType {
		return entry, fmt.Errorf("not a dead-letter job")
	}
	if err := json.Unmarshal(job.Payload, &entry); err != nil {
		return entry, fmt.Errorf("decode dead-letter entry %s: %w", job.ID, err)
	}
	return entry, nil
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackOf returns the innermost stack trace recorded on err by
// github.com/pkg/errors, or "" when none was captured.
func StackOf(err error) string {
	var deepest stackTracer
	for e := err; e != nil; e = unwrapOnce(e) {
		if st, ok := e.(stackTracer); ok {
			deepest = st
		}
	}
	if deepest == nil {
		return ""
	}
	return fmt.Sprintf("%+v", deepest.StackTrace())
}

func unwrapOnce(err error) error {
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return e.Unwrap()
	case interface{ Cause() error }:
		return e.Cause()
	}
	return nil
}
