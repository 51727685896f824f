package sqs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/state"
)

type apiMock struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	deleted  []string
	released map[string]int32

	createQueueFn    func(ctx context.Context, params *sqs.CreateQueueInput) (*sqs.CreateQueueOutput, error)
	listQueuesFn     func(ctx context.Context, params *sqs.ListQueuesInput) (*sqs.ListQueuesOutput, error)
	sendMessageFn    func(ctx context.Context, params *sqs.SendMessageInput) (*sqs.SendMessageOutput, error)
	receiveMessageFn func(ctx context.Context, params *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
}

func (m *apiMock) CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	if m.createQueueFn != nil {
		return m.createQueueFn(ctx, params)
	}
	return &sqs.CreateQueueOutput{QueueUrl: aws.String("https://sqs.local/" + aws.ToString(params.QueueName))}, nil
}

func (m *apiMock) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/" + aws.ToString(params.QueueName))}, nil
}

func (m *apiMock) ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error) {
	if m.listQueuesFn != nil {
		return m.listQueuesFn(ctx, params)
	}
	return &sqs.ListQueuesOutput{}, nil
}

func (m *apiMock) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.sendMessageFn != nil {
		if _, err := m.sendMessageFn(ctx, params); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, params)
	return &sqs.SendMessageOutput{MessageId: aws.String(fmt.Sprintf("msg-%d", len(m.sent)))}, nil
}

func (m *apiMock) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if m.receiveMessageFn != nil {
		return m.receiveMessageFn(ctx, params)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *apiMock) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *apiMock) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released == nil {
		m.released = make(map[string]int32)
	}
	m.released[aws.ToString(params.ReceiptHandle)] = params.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (m *apiMock) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// storeMock keeps records in maps; the func fields override single calls.
type storeMock struct {
	mu      sync.Mutex
	records map[string]*state.JobRecord
	due     map[string]int64

	putJobFn  func(ctx context.Context, record *state.JobRecord) error
	getJobFn  func(ctx context.Context, jobID string) (*state.JobRecord, error)
	addDueFn  func(ctx context.Context, jobID string, dueAtMs int64) error
	pingFn    func(ctx context.Context) error
	closeFn   func() error
}

func newStoreMock() *storeMock {
	return &storeMock{
		records: make(map[string]*state.JobRecord),
		due:     make(map[string]int64),
	}
}

func (m *storeMock) PutJob(ctx context.Context, record *state.JobRecord) error {
	if m.putJobFn != nil {
		if err := m.putJobFn(ctx, record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *record
	m.records[record.ID] = &c
	return nil
}

func (m *storeMock) GetJob(ctx context.Context, jobID string) (*state.JobRecord, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, jobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", jobID, core.ErrJobNotFound)
	}
	c := *r
	return &c, nil
}

func (m *storeMock) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[jobID]; !ok {
		return fmt.Errorf("delete %s: %w", jobID, core.ErrJobNotFound)
	}
	delete(m.records, jobID)
	return nil
}

func (m *storeMock) ListJobsByQueue(ctx context.Context, queue, status string, limit int) ([]*state.JobRecord, error) {
	recs, _, err := m.ListJobs(ctx, state.ListFilter{Queue: queue, Status: status, Limit: limit})
	return recs, err
}

func (m *storeMock) ListJobs(ctx context.Context, filter state.ListFilter) ([]*state.JobRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*state.JobRecord
	for _, r := range m.records {
		if filter.Queue != "" && r.Queue != filter.Queue {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	if filter.Offset >= total {
		return nil, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *storeMock) AddDueJob(ctx context.Context, jobID string, dueAtMs int64) error {
	if m.addDueFn != nil {
		return m.addDueFn(ctx, jobID, dueAtMs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.due[jobID] = dueAtMs
	return nil
}

func (m *storeMock) GetDueJobs(ctx context.Context, nowMs int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, at := range m.due {
		if at <= nowMs {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *storeMock) RemoveDueJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.due, jobID)
	return nil
}

func (m *storeMock) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *storeMock) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}

func (m *storeMock) record(id string) *state.JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		c := *r
		return &c
	}
	return nil
}
