package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/deadletter"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

type deadLetterFixture struct {
	dlq    *queue.Memory
	scrape *queue.Memory
	router http.Handler
}

func newDeadLetterFixture(t *testing.T, replayer Replayer) *deadLetterFixture {
	t.Helper()
	f := &deadLetterFixture{
		dlq:    queue.NewMemory(core.DeadLetterQueue),
		scrape: queue.NewMemory("scrape"),
	}
	if replayer == nil {
		replayer = deadletter.NewReplayer(f.dlq, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}
	targets := func(name string) (queue.Queue, bool) {
		if name == "scrape" {
			return f.scrape, true
		}
		return nil, false
	}

	h := NewDeadLetterHandler(f.dlq, replayer, targets)
	r := chi.NewRouter()
	r.Get("/v1/dead-letter", h.List)
	r.Post("/v1/dead-letter/replay", h.ReplayAll)
	r.Get("/v1/dead-letter/{id}", h.Get)
	r.Post("/v1/dead-letter/{id}/replay", h.Replay)
	r.Delete("/v1/dead-letter/{id}", h.Delete)
	f.router = r
	return f
}

func (f *deadLetterFixture) addEntry(t *testing.T, jobType string) string {
	t.Helper()
	entry := core.DeadLetterEntry{
		OriginalJobID:      core.NewJobID(),
		OriginalJobType:    jobType,
		OriginalQueue:      "scrape",
		OriginalJobPayload: json.RawMessage(`{"url":"https://example.com"}`),
		FailureReason:      core.FailureTargetBlocked,
		ErrorMessage:       "captcha wall",
		AttemptsMade:       5,
		Timestamp:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	job, err := f.dlq.AddJob(context.Background(), core.DeadLetterJobType, entry, queue.Options{Attempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	return job.ID
}

func (f *deadLetterFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestDeadLetterHandler_List(t *testing.T) {
	f := newDeadLetterFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.addEntry(t, "page")
	}

	w := f.do(http.MethodGet, "/v1/dead-letter?limit=2&offset=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Entries    []EntryView `json:"entries"`
		Pagination struct {
			Total   int  `json:"total"`
			Limit   int  `json:"limit"`
			Offset  int  `json:"offset"`
			HasMore bool `json:"has_more"`
		} `json:"pagination"`
	}
	decodeBody(t, w, &resp)

	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp.Entries))
	}
	if resp.Pagination.Total != 3 || resp.Pagination.Limit != 2 || resp.Pagination.Offset != 1 || resp.Pagination.HasMore {
		t.Errorf("pagination = %+v", resp.Pagination)
	}
	if got := resp.Entries[0].Entry.FailureReason; got != core.FailureTargetBlocked {
		t.Errorf("failure reason = %v", got)
	}
}

func TestDeadLetterHandler_Get(t *testing.T) {
	f := newDeadLetterFixture(t, nil)
	id := f.addEntry(t, "page")

	w := f.do(http.MethodGet, "/v1/dead-letter/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view EntryView
	decodeBody(t, w, &view)
	if view.ID != id || view.Entry.OriginalJobType != "page" || view.Entry.AttemptsMade != 5 {
		t.Errorf("view = %+v", view)
	}

	if w := f.do(http.MethodGet, "/v1/dead-letter/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}

func TestDeadLetterHandler_Replay(t *testing.T) {
	f := newDeadLetterFixture(t, nil)
	id := f.addEntry(t, "page")

	// Empty body targets the entry's original queue.
	w := f.do(http.MethodPost, "/v1/dead-letter/"+id+"/replay", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["replayed"] != true || resp["queue"] != "scrape" {
		t.Errorf("resp = %v", resp)
	}

	jobs, total, _ := f.scrape.ListJobs(context.Background(), "page", "", 0, 0)
	if total != 1 || jobs[0].Options.Attempts != 1 || jobs[0].AttemptsMade != 0 {
		t.Errorf("replayed jobs = %+v", jobs)
	}
	if string(jobs[0].Payload) != `{"url":"https://example.com"}` {
		t.Errorf("payload = %s", jobs[0].Payload)
	}

	// Second replay finds nothing.
	if w := f.do(http.MethodPost, "/v1/dead-letter/"+id+"/replay", `{"queue":"scrape"}`); w.Code != http.StatusNotFound {
		t.Errorf("second replay status = %d, want 404", w.Code)
	}
}

func TestDeadLetterHandler_ReplayOverride(t *testing.T) {
	f := newDeadLetterFixture(t, nil)
	id := f.addEntry(t, "page")

	w := f.do(http.MethodPost, "/v1/dead-letter/"+id+"/replay", `{"queue":"scrape","attempts":3,"delay":"PT1M"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	jobs, _, _ := f.scrape.ListJobs(context.Background(), "page", "", 0, 0)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	if jobs[0].Options.Attempts != 3 || jobs[0].Status != core.StatusDelayed {
		t.Errorf("job = %+v, want 3 attempts and delayed", jobs[0])
	}
}

func TestDeadLetterHandler_ReplayBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "unknown queue", body: `{"queue":"nope"}`, want: http.StatusBadRequest},
		{name: "invalid json", body: `{"queue":`, want: http.StatusBadRequest},
		{name: "bad delay", body: `{"queue":"scrape","delay":"soon"}`, want: http.StatusBadRequest},
		{name: "negative attempts", body: `{"queue":"scrape","attempts":-1}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDeadLetterFixture(t, nil)
			id := f.addEntry(t, "page")

			w := f.do(http.MethodPost, "/v1/dead-letter/"+id+"/replay", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if got, _ := f.dlq.GetJob(context.Background(), id); got == nil {
				t.Error("entry must survive a rejected replay")
			}
		})
	}
}

type replayerMock struct {
	replayFn    func(ctx context.Context, id string, target queue.Queue, override *queue.Options) (bool, error)
	replayAllFn func(ctx context.Context, target queue.Queue, limit int) (int, error)
}

func (m *replayerMock) Replay(ctx context.Context, id string, target queue.Queue, override *queue.Options) (bool, error) {
	return m.replayFn(ctx, id, target, override)
}

func (m *replayerMock) ReplayAll(ctx context.Context, target queue.Queue, limit int) (int, error) {
	return m.replayAllFn(ctx, target, limit)
}

func TestDeadLetterHandler_ReplayStorageErrors(t *testing.T) {
	tests := []struct {
		name        string
		ok          bool
		err         error
		wantStatus  int
		wantWarning bool
	}{
		{name: "add failed", ok: false, err: errors.New("queue unavailable"), wantStatus: http.StatusInternalServerError},
		{name: "remove failed", ok: true, err: errors.New("remove failed"), wantStatus: http.StatusOK, wantWarning: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDeadLetterFixture(t, &replayerMock{
				replayFn: func(ctx context.Context, id string, target queue.Queue, override *queue.Options) (bool, error) {
					return tt.ok, tt.err
				},
			})

			w := f.do(http.MethodPost, "/v1/dead-letter/x/replay", `{"queue":"scrape"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantWarning {
				var resp map[string]any
				decodeBody(t, w, &resp)
				if resp["warning"] != "remove failed" {
					t.Errorf("resp = %v", resp)
				}
			}
		})
	}
}

func TestDeadLetterHandler_ReplayAll(t *testing.T) {
	f := newDeadLetterFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.addEntry(t, "page")
	}

	w := f.do(http.MethodPost, "/v1/dead-letter/replay", `{"queue":"scrape","limit":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Replayed int `json:"replayed"`
	}
	decodeBody(t, w, &resp)
	if resp.Replayed != 2 {
		t.Errorf("replayed = %d, want 2", resp.Replayed)
	}

	if w := f.do(http.MethodPost, "/v1/dead-letter/replay", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing queue status = %d, want 400", w.Code)
	}
}

func TestDeadLetterHandler_Delete(t *testing.T) {
	f := newDeadLetterFixture(t, nil)
	id := f.addEntry(t, "page")

	if w := f.do(http.MethodDelete, "/v1/dead-letter/"+id, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got, _ := f.dlq.GetJob(context.Background(), id); got != nil {
		t.Error("entry still present")
	}
	if w := f.do(http.MethodDelete, "/v1/dead-letter/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}
