package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

const dueJobPartition = "DUE#job"

// DynamoDBStore implements the Store interface using AWS DynamoDB.
// Single-table design with PK/SK pattern:
//   - Jobs: PK=jobID, SK="JOB"
//   - Due index: PK="DUE#<jobID>", SK="DUE"
//
// GSI1: GSI1PK (QUEUE#<name>) + GSI1SK (STATE#<state>#<created_at>)
// GSI2: GSI2PK (STATE#<state>) + GSI2SK (<created_at>)
// GSI3: GSI3PK (DUE#job) + GSI3SK (<due_at_ms>)
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

var _ Store = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a new DynamoDB store.
func NewDynamoDBStore(client *dynamodb.Client, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// EnsureTable creates the table with GSIs if it doesn't exist.
func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err == nil {
		return nil
	}

	gsi := func(name, pk, sk string) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI3PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI3SK"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi("GSI1", "GSI1PK", "GSI1SK"),
			gsi("GSI2", "GSI2PK", "GSI2SK"),
			gsi("GSI3", "GSI3PK", "GSI3SK"),
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for table: %w", err)
	}

	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(s.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String("ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable TTL: %w", err)
	}

	return nil
}

// PutJob stores a job record, replacing any previous version.
func (s *DynamoDBStore) PutJob(ctx context.Context, record *JobRecord) error {
	record.SK = "JOB"
	record.GSI1PK = "QUEUE#" + record.Queue
	record.GSI1SK = "STATE#" + record.Status + "#" + record.CreatedAt
	record.GSI2PK = "STATE#" + record.Status
	record.GSI2SK = record.CreatedAt

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *DynamoDBStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       jobKey(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, core.ErrJobNotFound)
	}

	var record JobRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &record, nil
}

// DeleteJob removes a job.
func (s *DynamoDBStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 jobKey(jobID),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("delete job %s: %w", jobID, core.ErrJobNotFound)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// ListJobsByQueue returns up to limit jobs in a queue with a specific state,
// oldest first.
func (s *DynamoDBStore) ListJobsByQueue(ctx context.Context, queue, status string, limit int) ([]*JobRecord, error) {
	records, _, err := s.ListJobs(ctx, ListFilter{Queue: queue, Status: status, Limit: limit})
	return records, err
}

// ListJobs returns one page of jobs matching filter and the total number of
// matches.
func (s *DynamoDBStore) ListJobs(ctx context.Context, filter ListFilter) ([]*JobRecord, int, error) {
	input := s.listQuery(filter)

	total, err := s.count(ctx, input)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	want := -1
	if filter.Limit > 0 {
		want = filter.Offset + filter.Limit
	}
	items, err := s.collect(ctx, input, want)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query jobs: %w", err)
	}

	// DynamoDB has no offset, so the page is cut client-side.
	if filter.Offset >= len(items) {
		return []*JobRecord{}, total, nil
	}
	items = items[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(items) {
		items = items[:filter.Limit]
	}

	records := make([]*JobRecord, 0, len(items))
	for _, item := range items {
		var record JobRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		records = append(records, &record)
	}

	return records, total, nil
}

// listQuery picks the cheapest index for filter. A nil KeyConditionExpression
// means the listing falls back to a scan.
func (s *DynamoDBStore) listQuery(filter ListFilter) *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		ExpressionAttributeValues: map[string]types.AttributeValue{},
	}

	switch {
	case filter.Queue != "" && filter.Status != "":
		input.IndexName = aws.String("GSI1")
		input.KeyConditionExpression = aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :sk)")
		input.ExpressionAttributeValues[":pk"] = &types.AttributeValueMemberS{Value: "QUEUE#" + filter.Queue}
		input.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: "STATE#" + filter.Status + "#"}
	case filter.Queue != "":
		input.IndexName = aws.String("GSI1")
		input.KeyConditionExpression = aws.String("GSI1PK = :pk")
		input.ExpressionAttributeValues[":pk"] = &types.AttributeValueMemberS{Value: "QUEUE#" + filter.Queue}
	case filter.Status != "":
		input.IndexName = aws.String("GSI2")
		input.KeyConditionExpression = aws.String("GSI2PK = :pk")
		input.ExpressionAttributeValues[":pk"] = &types.AttributeValueMemberS{Value: "STATE#" + filter.Status}
	}

	if filter.Type != "" {
		input.FilterExpression = aws.String("#type = :type")
		input.ExpressionAttributeNames = map[string]string{"#type": "type"}
		input.ExpressionAttributeValues[":type"] = &types.AttributeValueMemberS{Value: filter.Type}
	}

	return input
}

func (s *DynamoDBStore) count(ctx context.Context, input *dynamodb.QueryInput) (int, error) {
	total := 0
	if input.KeyConditionExpression == nil {
		scan := s.scanInput(input)
		scan.Select = types.SelectCount
		p := dynamodb.NewScanPaginator(s.client, scan)
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return 0, err
			}
			total += int(page.Count)
		}
		return total, nil
	}

	q := *input
	q.Select = types.SelectCount
	p := dynamodb.NewQueryPaginator(s.client, &q)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		total += int(page.Count)
	}
	return total, nil
}

// collect gathers up to want items (all of them when want < 0).
func (s *DynamoDBStore) collect(ctx context.Context, input *dynamodb.QueryInput, want int) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	full := func() bool { return want >= 0 && len(items) >= want }

	if input.KeyConditionExpression == nil {
		p := dynamodb.NewScanPaginator(s.client, s.scanInput(input))
		for p.HasMorePages() && !full() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			items = append(items, page.Items...)
		}
		return items, nil
	}

	p := dynamodb.NewQueryPaginator(s.client, input)
	for p.HasMorePages() && !full() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *DynamoDBStore) scanInput(q *dynamodb.QueryInput) *dynamodb.ScanInput {
	filter := "SK = :jobsk"
	values := map[string]types.AttributeValue{
		":jobsk": &types.AttributeValueMemberS{Value: "JOB"},
	}
	for k, v := range q.ExpressionAttributeValues {
		values[k] = v
	}
	if q.FilterExpression != nil {
		filter += " AND " + *q.FilterExpression
	}
	return &dynamodb.ScanInput{
		TableName:                 q.TableName,
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  q.ExpressionAttributeNames,
		ExpressionAttributeValues: values,
	}
}

// AddDueJob records that jobID should be released at dueAtMs.
func (s *DynamoDBStore) AddDueJob(ctx context.Context, jobID string, dueAtMs int64) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: "DUE#" + jobID},
			"SK":        &types.AttributeValueMemberS{Value: "DUE"},
			"job_id":    &types.AttributeValueMemberS{Value: jobID},
			"due_at_ms": &types.AttributeValueMemberN{Value: strconv.FormatInt(dueAtMs, 10)},
			"GSI3PK":    &types.AttributeValueMemberS{Value: dueJobPartition},
			"GSI3SK":    &types.AttributeValueMemberN{Value: strconv.FormatInt(dueAtMs, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add due job: %w", err)
	}

	return nil
}

// GetDueJobs returns the IDs of jobs due at or before nowMs.
func (s *DynamoDBStore) GetDueJobs(ctx context.Context, nowMs int64) ([]string, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI3"),
		KeyConditionExpression: aws.String("GSI3PK = :pk AND GSI3SK <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: dueJobPartition},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs, 10)},
		},
	})
	if err == nil {
		return dueJobIDs(result.Items), nil
	}
	if !isMissingDueIndexError(err) {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	// Compatibility fallback for tables without GSI3.
	scan, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix) AND SK = :sk AND due_at_ms <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: "DUE#"},
			":sk":     &types.AttributeValueMemberS{Value: "DUE"},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs, 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}

	return dueJobIDs(scan.Items), nil
}

func dueJobIDs(items []map[string]types.AttributeValue) []string {
	jobIDs := make([]string, 0, len(items))
	for _, item := range items {
		if jobIDAttr, ok := item["job_id"]; ok {
			if jobIDVal, ok := jobIDAttr.(*types.AttributeValueMemberS); ok {
				jobIDs = append(jobIDs, jobIDVal.Value)
			}
		}
	}
	return jobIDs
}

func isMissingDueIndexError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "The table does not have the specified index") ||
		strings.Contains(msg, "Cannot read from backfilling global secondary index")
}

// RemoveDueJob removes a job from the due index.
func (s *DynamoDBStore) RemoveDueJob(ctx context.Context, jobID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "DUE#" + jobID},
			"SK": &types.AttributeValueMemberS{Value: "DUE"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to remove due job: %w", err)
	}

	return nil
}

// Ping checks the connection to DynamoDB.
func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to ping DynamoDB: %w", err)
	}

	return nil
}

// Close closes the store (no-op for DynamoDB client).
func (s *DynamoDBStore) Close() error {
	return nil
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: jobID},
		"SK": &types.AttributeValueMemberS{Value: "JOB"},
	}
}
