package state

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

func newTestDynamoStore(t *testing.T, h http.HandlerFunc) *DynamoDBStore {
	t.Helper()

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	cfg, err := config.LoadDefaultConfig(
		context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               server.URL,
					HostnameImmutable: true,
					PartitionID:       "aws",
				}, nil
			},
		)),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.RetryMaxAttempts = 1
	})

	return NewDynamoDBStore(client, "scrape-jobs-test")
}

func writeAmzJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestPutJob_SetsIndexAttributes(t *testing.T) {
	var payload string
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		if target := r.Header.Get("X-Amz-Target"); target != "DynamoDB_20120810.PutItem" {
			t.Errorf("target = %q, want PutItem", target)
		}
		body, _ := io.ReadAll(r.Body)
		payload = string(body)
		writeAmzJSON(w, http.StatusOK, `{}`)
	})

	record := &JobRecord{
		ID:        "job-1",
		Type:      "scrape.page",
		Status:    "waiting",
		Queue:     "scrapes",
		CreatedAt: "2025-01-01T10:00:00.000Z",
	}
	if err := store.PutJob(context.Background(), record); err != nil {
		t.Fatalf("PutJob: %v", err)
	}

	for _, want := range []string{
		`"GSI1PK":{"S":"QUEUE#scrapes"}`,
		`"GSI1SK":{"S":"STATE#waiting#2025-01-01T10:00:00.000Z"}`,
		`"GSI2PK":{"S":"STATE#waiting"}`,
		`"SK":{"S":"JOB"}`,
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("PutItem payload missing %s: %s", want, payload)
		}
	}
}

func TestGetJob_NotFound(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		writeAmzJSON(w, http.StatusOK, `{}`)
	})

	_, err := store.GetJob(context.Background(), "missing")
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestGetJob_DecodesItem(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		writeAmzJSON(w, http.StatusOK, `{"Item":{
			"PK":{"S":"job-1"},"SK":{"S":"JOB"},"type":{"S":"dead-job"},
			"state":{"S":"waiting"},"queue":{"S":"dead-letter"},
			"attempts_made":{"N":"0"},"max_attempts":{"N":"1"},
			"payload":{"S":"{\"original_job_id\":\"a\"}"},
			"created_at":{"S":"2025-01-01T10:00:00.000Z"}}}`)
	})

	record, err := store.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if record.ID != "job-1" || record.Type != core.DeadLetterJobType || record.MaxAttempts != 1 {
		t.Errorf("record = %+v", record)
	}
	if record.Payload != `{"original_job_id":"a"}` {
		t.Errorf("Payload = %q", record.Payload)
	}
}

func TestDeleteJob_ConditionalFailureIsNotFound(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "attribute_exists(PK)") {
			t.Errorf("DeleteItem without existence condition: %s", body)
		}
		writeAmzJSON(w, http.StatusBadRequest,
			`{"__type":"com.amazonaws.dynamodb.v20120810#ConditionalCheckFailedException","message":"The conditional request failed"}`)
	})

	err := store.DeleteJob(context.Background(), "gone")
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestListJobs_QueueAndStatusUseGSI1(t *testing.T) {
	var countCalls, itemCalls int32
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		payload := string(body)
		if !strings.Contains(payload, `"IndexName":"GSI1"`) {
			t.Errorf("query payload missing GSI1: %s", payload)
		}
		if !strings.Contains(payload, "STATE#failed#") || !strings.Contains(payload, "#type") {
			t.Errorf("query payload missing filters: %s", payload)
		}
		if strings.Contains(payload, `"Select":"COUNT"`) {
			atomic.AddInt32(&countCalls, 1)
			writeAmzJSON(w, http.StatusOK, `{"Count":3}`)
			return
		}
		atomic.AddInt32(&itemCalls, 1)
		writeAmzJSON(w, http.StatusOK, `{"Items":[
			{"PK":{"S":"a"},"type":{"S":"dead-job"},"state":{"S":"failed"},"queue":{"S":"dead-letter"}},
			{"PK":{"S":"b"},"type":{"S":"dead-job"},"state":{"S":"failed"},"queue":{"S":"dead-letter"}},
			{"PK":{"S":"c"},"type":{"S":"dead-job"},"state":{"S":"failed"},"queue":{"S":"dead-letter"}}]}`)
	})

	records, total, err := store.ListJobs(context.Background(), ListFilter{
		Queue:  core.DeadLetterQueue,
		Type:   core.DeadLetterJobType,
		Status: "failed",
		Limit:  2,
		Offset: 1,
	})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(records) != 2 || records[0].ID != "b" || records[1].ID != "c" {
		t.Errorf("records = %+v", records)
	}
	if countCalls != 1 || itemCalls != 1 {
		t.Errorf("calls: count=%d items=%d", countCalls, itemCalls)
	}
}

func TestListJobs_NoFilterScans(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		if target := r.Header.Get("X-Amz-Target"); target != "DynamoDB_20120810.Scan" {
			t.Errorf("target = %q, want Scan", target)
		}
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"Select":"COUNT"`) {
			writeAmzJSON(w, http.StatusOK, `{"Count":0}`)
			return
		}
		writeAmzJSON(w, http.StatusOK, `{"Items":[]}`)
	})

	records, total, err := store.ListJobs(context.Background(), ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 0 || len(records) != 0 {
		t.Errorf("got %d records, total %d", len(records), total)
	}
}

func TestGetDueJobs_UsesDueIndexQuery(t *testing.T) {
	var queryCount int32

	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		target := r.Header.Get("X-Amz-Target")
		body, _ := io.ReadAll(r.Body)

		if target != "DynamoDB_20120810.Query" {
			t.Fatalf("unexpected target: %s", target)
		}

		atomic.AddInt32(&queryCount, 1)
		payload := string(body)
		if !strings.Contains(payload, `"IndexName":"GSI3"`) {
			t.Fatalf("query payload missing GSI3 index: %s", payload)
		}
		if !strings.Contains(payload, dueJobPartition) {
			t.Fatalf("query payload missing due partition: %s", payload)
		}

		writeAmzJSON(w, http.StatusOK, `{"Items":[{"job_id":{"S":"job-1"}},{"job_id":{"S":"job-2"}}]}`)
	})

	ids, err := store.GetDueJobs(context.Background(), 1000)
	if err != nil {
		t.Fatalf("GetDueJobs returned error: %v", err)
	}

	if got, want := len(ids), 2; got != want {
		t.Fatalf("GetDueJobs count = %d, want %d", got, want)
	}
	if ids[0] != "job-1" || ids[1] != "job-2" {
		t.Fatalf("unexpected job IDs: %v", ids)
	}
	if got := atomic.LoadInt32(&queryCount); got != 1 {
		t.Fatalf("query count = %d, want 1", got)
	}
}

func TestGetDueJobs_FallsBackToScanWithoutIndex(t *testing.T) {
	var queryCount int32
	var scanCount int32

	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Amz-Target") {
		case "DynamoDB_20120810.Query":
			atomic.AddInt32(&queryCount, 1)
			writeAmzJSON(w, http.StatusBadRequest,
				`{"__type":"com.amazonaws.dynamodb.v20120810#ValidationException","message":"The table does not have the specified index: GSI3"}`)
		case "DynamoDB_20120810.Scan":
			atomic.AddInt32(&scanCount, 1)
			writeAmzJSON(w, http.StatusOK, `{"Items":[{"job_id":{"S":"due-job-1"}}]}`)
		default:
			t.Fatalf("unexpected target: %s", r.Header.Get("X-Amz-Target"))
		}
	})

	ids, err := store.GetDueJobs(context.Background(), 2000)
	if err != nil {
		t.Fatalf("GetDueJobs returned error: %v", err)
	}

	if len(ids) != 1 || ids[0] != "due-job-1" {
		t.Fatalf("unexpected due job IDs: %v", ids)
	}
	if atomic.LoadInt32(&queryCount) != 1 || atomic.LoadInt32(&scanCount) != 1 {
		t.Fatalf("query=%d scan=%d, want 1/1", queryCount, scanCount)
	}
}

func TestGetDueJobs_PropagatesOtherErrors(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		writeAmzJSON(w, http.StatusBadRequest,
			`{"__type":"com.amazonaws.dynamodb.v20120810#ResourceNotFoundException","message":"Requested resource not found"}`)
	})

	if _, err := store.GetDueJobs(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestPing(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		if target := r.Header.Get("X-Amz-Target"); target != "DynamoDB_20120810.DescribeTable" {
			t.Errorf("target = %q", target)
		}
		writeAmzJSON(w, http.StatusOK, `{"Table":{"TableName":"scrape-jobs-test","TableStatus":"ACTIVE"}}`)
	})
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
