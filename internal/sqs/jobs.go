package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/state"
)

// GetJob returns the job with the given ID, or (nil, nil) if it is not
// stored or belongs to another queue.
func (q *Queue) GetJob(ctx context.Context, id string) (*core.Job, error) {
	record, err := q.store.GetJob(ctx, id)
	if errors.Is(err, core.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if record.Queue != q.name {
		return nil, nil
	}
	return state.RecordToJob(record), nil
}

// RemoveJob deletes the job record. Any message still in flight for it is
// dropped by the consumer once it finds the record gone.
func (q *Queue) RemoveJob(ctx context.Context, id string) error {
	if err := q.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if err := q.store.RemoveDueJob(ctx, id); err != nil {
		q.logger.Debug("failed to remove due marker", "job_id", id, "error", err)
	}
	return nil
}

// CleanQueue removes up to limit jobs in status that finished more than
// grace ago. A limit of zero removes all matches.
func (q *Queue) CleanQueue(ctx context.Context, grace time.Duration, status core.Status, limit int) (int, error) {
	records, err := q.store.ListJobsByQueue(ctx, q.name, string(status), 0)
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", q.name, err)
	}

	cutoff := q.now().Add(-grace)
	removed := 0
	for _, r := range records {
		if limit > 0 && removed >= limit {
			break
		}
		if !finishedBefore(r, cutoff) {
			continue
		}
		if err := q.store.DeleteJob(ctx, r.ID); err != nil {
			if errors.Is(err, core.ErrJobNotFound) {
				continue
			}
			return removed, fmt.Errorf("clean %s: %w", q.name, err)
		}
		removed++
	}
	return removed, nil
}

// ListJobs returns the queue's jobs, oldest first, filtered by type and
// status when those are non-empty.
func (q *Queue) ListJobs(ctx context.Context, jobType string, status core.Status, limit, offset int) ([]*core.Job, int, error) {
	records, total, err := q.store.ListJobs(ctx, state.ListFilter{
		Queue:  q.name,
		Type:   jobType,
		Status: string(status),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", q.name, err)
	}

	jobs := make([]*core.Job, 0, len(records))
	for _, r := range records {
		jobs = append(jobs, state.RecordToJob(r))
	}
	return jobs, total, nil
}

func finishedBefore(r *state.JobRecord, cutoff time.Time) bool {
	ts := r.FinishedAt
	if ts == "" {
		ts = r.CreatedAt
	}
	t, err := core.ParseTime(ts)
	if err != nil {
		return false
	}
	return !t.After(cutoff)
}
