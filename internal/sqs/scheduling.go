package sqs

import (
	"context"
	"errors"
	"fmt"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/state"
)

// PromoteDue sends this queue's jobs whose delay has elapsed from the store's
// due index to SQS. Due jobs of other queues are left for their own engine.
// It returns the number of jobs promoted.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	jobIDs, err := q.store.GetDueJobs(ctx, q.now().UnixMilli())
	if err != nil {
		return 0, err
	}

	promoted := 0
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, jobID := range jobIDs {
		record, err := q.store.GetJob(ctx, jobID)
		if errors.Is(err, core.ErrJobNotFound) {
			if err := q.store.RemoveDueJob(ctx, jobID); err != nil {
				q.logger.Error("failed to remove stale due marker", "job_id", jobID, "error", err)
			}
			continue
		}
		if err != nil {
			fail(fmt.Errorf("load due job %s: %w", jobID, err))
			q.logger.Error("failed to load due job", "job_id", jobID, "error", err)
			continue
		}
		if record.Queue != q.name {
			continue
		}

		job := state.RecordToJob(record)
		if job.Status.IsTerminal() {
			if err := q.store.RemoveDueJob(ctx, jobID); err != nil {
				q.logger.Error("failed to remove due marker", "job_id", jobID, "error", err)
			}
			continue
		}

		job.Status = core.StatusWaiting
		job.RunAt = ""
		if err := q.store.PutJob(ctx, state.JobToRecord(job)); err != nil {
			fail(fmt.Errorf("update due job %s: %w", jobID, err))
			q.logger.Error("failed to update promoted job", "job_id", jobID, "error", err)
			continue
		}

		if _, err := q.sendToSQS(ctx, job, 0); err != nil {
			fail(fmt.Errorf("send due job %s: %w", jobID, err))
			q.logger.Error("failed to send promoted job to SQS",
				"job_id", jobID, "queue", job.Queue, "error", err)
			continue
		}

		// A marker left behind only causes a duplicate send, which the
		// consumer tolerates.
		if err := q.store.RemoveDueJob(ctx, jobID); err != nil {
			q.logger.Error("failed to remove due marker", "job_id", jobID, "error", err)
		}
		promoted++
	}

	return promoted, firstErr
}
