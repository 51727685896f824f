package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// RedisStore implements Store on Redis. Records are JSON strings; sorted
// sets scored by creation time index them by queue and status.
type RedisStore struct {
	client goredis.Cmdable
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store. The caller owns the client lifecycle.
func NewRedisStore(client goredis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "scrape"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + ":job:" + id }
func (s *RedisStore) dueKey() string          { return s.prefix + ":due" }

// indexKey names the sorted set for a queue/status combination. Empty
// arguments select the wider index.
func (s *RedisStore) indexKey(queue, status string) string {
	switch {
	case queue != "" && status != "":
		return s.prefix + ":idx:queue:" + queue + ":status:" + status
	case queue != "":
		return s.prefix + ":idx:queue:" + queue
	case status != "":
		return s.prefix + ":idx:status:" + status
	}
	return s.prefix + ":idx:all"
}

func (s *RedisStore) indexKeys(r *JobRecord) []string {
	return []string{
		s.indexKey(r.Queue, r.Status),
		s.indexKey(r.Queue, ""),
		s.indexKey("", r.Status),
		s.indexKey("", ""),
	}
}

// PutJob inserts or replaces a job record and moves it between indexes.
func (s *RedisStore) PutJob(ctx context.Context, record *JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("state/redis: marshal job: %w", err)
	}

	prev, err := s.GetJob(ctx, record.ID)
	if err != nil && !errors.Is(err, core.ErrJobNotFound) {
		return err
	}

	score := float64(createdAtMillis(record))
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(record.ID), data, 0)
	if prev != nil {
		for _, key := range s.indexKeys(prev) {
			pipe.ZRem(ctx, key, record.ID)
		}
	}
	for _, key := range s.indexKeys(record) {
		pipe.ZAdd(ctx, key, goredis.Z{Score: score, Member: record.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state/redis: put job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("get job %s: %w", jobID, core.ErrJobNotFound)
		}
		return nil, fmt.Errorf("state/redis: get job: %w", err)
	}

	var record JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("state/redis: unmarshal job %s: %w", jobID, err)
	}
	return &record, nil
}

// DeleteJob removes a job and its index entries.
func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	record, err := s.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			return fmt.Errorf("delete job %s: %w", jobID, core.ErrJobNotFound)
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(jobID))
	for _, key := range s.indexKeys(record) {
		pipe.ZRem(ctx, key, jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByQueue returns up to limit jobs in queue with status, oldest first.
func (s *RedisStore) ListJobsByQueue(ctx context.Context, queue, status string, limit int) ([]*JobRecord, error) {
	records, _, err := s.ListJobs(ctx, ListFilter{Queue: queue, Status: status, Limit: limit})
	return records, err
}

// ListJobs returns one page of jobs matching filter and the total count.
// Type filtering is applied after loading the narrowest index.
func (s *RedisStore) ListJobs(ctx context.Context, filter ListFilter) ([]*JobRecord, int, error) {
	key := s.indexKey(filter.Queue, filter.Status)

	if filter.Type == "" {
		total, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("state/redis: count jobs: %w", err)
		}
		stop := int64(-1)
		if filter.Limit > 0 {
			stop = int64(filter.Offset + filter.Limit - 1)
		}
		ids, err := s.client.ZRange(ctx, key, int64(filter.Offset), stop).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("state/redis: list jobs: %w", err)
		}
		records, err := s.load(ctx, ids)
		return records, int(total), err
	}

	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("state/redis: list jobs: %w", err)
	}
	all, err := s.load(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	matched := all[:0]
	for _, r := range all {
		if r.Type == filter.Type {
			matched = append(matched, r)
		}
	}
	total := len(matched)
	if filter.Offset >= total {
		return []*JobRecord{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// load fetches records for ids, skipping any that vanished in between.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*JobRecord, error) {
	records := make([]*JobRecord, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("state/redis: load jobs: %w", err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var record JobRecord
		if err := json.Unmarshal([]byte(str), &record); err != nil {
			return nil, fmt.Errorf("state/redis: unmarshal job %s: %w", ids[i], err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// AddDueJob records that jobID should be released at dueAtMs.
func (s *RedisStore) AddDueJob(ctx context.Context, jobID string, dueAtMs int64) error {
	if err := s.client.ZAdd(ctx, s.dueKey(), goredis.Z{Score: float64(dueAtMs), Member: jobID}).Err(); err != nil {
		return fmt.Errorf("state/redis: add due job: %w", err)
	}
	return nil
}

// GetDueJobs returns the IDs of jobs due at or before nowMs.
func (s *RedisStore) GetDueJobs(ctx context.Context, nowMs int64) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMs, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("state/redis: get due jobs: %w", err)
	}
	return ids, nil
}

// RemoveDueJob removes a job from the due index.
func (s *RedisStore) RemoveDueJob(ctx context.Context, jobID string) error {
	if err := s.client.ZRem(ctx, s.dueKey(), jobID).Err(); err != nil {
		return fmt.Errorf("state/redis: remove due job: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client.
func (s *RedisStore) Close() error {
	return nil
}
