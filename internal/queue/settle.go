package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// maxStacktraces bounds the failure history kept on a job.
const maxStacktraces = 10

// Settle applies a handler result to job the way every engine must: success
// completes the job; failure advances AttemptsMade once and either delays the
// job (for a *RetryLater with attempts left) or fails it for good. It reports
// whether the job should run again.
func Settle(job *core.Job, herr error, now time.Time) bool {
	finished := core.FormatTime(now)

	if herr == nil {
		job.Status = core.StatusCompleted
		job.FinishedAt = finished
		return false
	}

	job.AttemptsMade++
	job.FailedReason = herr.Error()
	if st := core.StackOf(herr); st != "" {
		job.Stacktrace = append(job.Stacktrace, st)
		if len(job.Stacktrace) > maxStacktraces {
			job.Stacktrace = job.Stacktrace[len(job.Stacktrace)-maxStacktraces:]
		}
	}

	var retry *RetryLater
	if errors.As(herr, &retry) && job.AttemptsMade < job.MaxAttempts() {
		delay := retry.Delay
		if delay < 0 {
			delay = 0
		}
		job.Status = core.StatusDelayed
		job.RunAt = core.FormatTime(now.Add(delay))
		return true
	}

	job.Status = core.StatusFailed
	job.FinishedAt = finished
	return false
}

// Recover wraps h so that a panic becomes a failed attempt.
func Recover(h Handler) Handler {
	return func(ctx context.Context, job *core.Job) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return h(ctx, job)
	}
}
