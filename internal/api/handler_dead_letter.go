package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scrapepanel/scrape-jobs/internal/core"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 1000
	defaultReplayLimit = 100
)

// Replayer re-enqueues dead-letter entries.
type Replayer interface {
	Replay(ctx context.Context, deadLetterID string, target queue.Queue, override *queue.Options) (bool, error)
	ReplayAll(ctx context.Context, target queue.Queue, limit int) (int, error)
}

// TargetResolver looks up a replay target queue by name.
type TargetResolver func(name string) (queue.Queue, bool)

// DeadLetterHandler handles dead letter queue HTTP endpoints.
type DeadLetterHandler struct {
	dlq      queue.Queue
	replayer Replayer
	targets  TargetResolver
}

// NewDeadLetterHandler creates a new DeadLetterHandler.
func NewDeadLetterHandler(dlq queue.Queue, replayer Replayer, targets TargetResolver) *DeadLetterHandler {
	return &DeadLetterHandler{dlq: dlq, replayer: replayer, targets: targets}
}

// EntryView is a dead-letter entry as returned by the API.
type EntryView struct {
	ID         string               `json:"id"`
	Status     core.Status          `json:"status"`
	CreatedAt  string               `json:"created_at"`
	FinishedAt string               `json:"finished_at,omitempty"`
	Entry      core.DeadLetterEntry `json:"entry"`
}

func newEntryView(job *core.Job) (EntryView, error) {
	entry, err := core.DecodeDeadLetterEntry(job)
	if err != nil {
		return EntryView{}, err
	}
	return EntryView{
		ID:         job.ID,
		Status:     job.Status,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
		Entry:      entry,
	}, nil
}

// List handles GET /v1/dead-letter
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	inspector, ok := h.dlq.(queue.Inspector)
	if !ok {
		WriteError(w, http.StatusNotImplemented, core.NewInvalidRequestError("Dead-letter queue does not support listing.", nil))
		return
	}

	limit := queryInt(r, "limit", defaultListLimit, 1)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(r, "offset", 0, 0)

	jobs, total, err := inspector.ListJobs(r.Context(), core.DeadLetterJobType, "", limit, offset)
	if err != nil {
		HandleError(w, err)
		return
	}

	entries := make([]EntryView, 0, len(jobs))
	for _, job := range jobs {
		view, err := newEntryView(job)
		if err != nil {
			continue
		}
		entries = append(entries, view)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"pagination": map[string]any{
			"total":    total,
			"limit":    limit,
			"offset":   offset,
			"has_more": offset+limit < total,
		},
	})
}

// Get handles GET /v1/dead-letter/{id}
func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, ok, err := h.lookup(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("Dead-letter entry", id))
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (h *DeadLetterHandler) lookup(ctx context.Context, id string) (EntryView, bool, error) {
	job, err := h.dlq.GetJob(ctx, id)
	if err != nil {
		return EntryView{}, false, err
	}
	if job == nil {
		return EntryView{}, false, nil
	}
	view, err := newEntryView(job)
	if err != nil {
		return EntryView{}, false, nil
	}
	return view, true, nil
}

// ReplayRequest is the body of a replay call. Queue defaults to the entry's
// original queue. Attempts and Delay override the single-attempt default.
type ReplayRequest struct {
	Queue    string `json:"queue,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	// Delay is an ISO 8601 duration such as "PT30S".
	Delay string `json:"delay,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Replay handles POST /v1/dead-letter/{id}/replay
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := decodeReplayRequest(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	targetName := req.Queue
	if targetName == "" {
		view, ok, err := h.lookup(r.Context(), id)
		if err != nil {
			HandleError(w, err)
			return
		}
		if !ok {
			WriteError(w, http.StatusNotFound, core.NewNotFoundError("Dead-letter entry", id))
			return
		}
		targetName = view.Entry.OriginalQueue
	}
	target, err := h.resolve(targetName)
	if err != nil {
		HandleError(w, err)
		return
	}
	override, err := req.options()
	if err != nil {
		HandleError(w, err)
		return
	}

	ok, err := h.replayer.Replay(r.Context(), id, target, override)
	if !ok {
		if err != nil {
			HandleError(w, err)
			return
		}
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("Dead-letter entry", id))
		return
	}

	resp := map[string]any{"replayed": true, "id": id, "queue": target.Name()}
	if err != nil {
		// The job was re-enqueued; only the entry removal failed.
		resp["warning"] = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ReplayAll handles POST /v1/dead-letter/replay
func (h *DeadLetterHandler) ReplayAll(w http.ResponseWriter, r *http.Request) {
	req, err := decodeReplayRequest(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	if req.Queue == "" {
		WriteError(w, http.StatusBadRequest, core.NewValidationError("queue is required.", map[string]any{"field": "queue"}))
		return
	}
	target, err := h.resolve(req.Queue)
	if err != nil {
		HandleError(w, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	n, err := h.replayer.ReplayAll(r.Context(), target, limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"replayed": n, "queue": target.Name()})
}

// Delete handles DELETE /v1/dead-letter/{id}
func (h *DeadLetterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.dlq.RemoveJob(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, core.NewNotFoundError("Dead-letter entry", id))
			return
		}
		HandleError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

func (h *DeadLetterHandler) resolve(name string) (queue.Queue, error) {
	if name == "" {
		return nil, core.NewValidationError("queue is required.", map[string]any{"field": "queue"})
	}
	target, ok := h.targets(name)
	if !ok {
		return nil, core.NewInvalidRequestError(
			fmt.Sprintf("Unknown queue %q.", name),
			map[string]any{"queue": name},
		)
	}
	return target, nil
}

func decodeReplayRequest(r *http.Request) (ReplayRequest, error) {
	var req ReplayRequest
	if r.Body == nil {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, core.NewInvalidRequestError("Request body is not valid JSON.", map[string]any{"error": err.Error()})
	}
	return req, nil
}

// options returns the override, or nil when the request keeps the default.
func (req ReplayRequest) options() (*queue.Options, error) {
	if req.Attempts == 0 && req.Delay == "" {
		return nil, nil
	}
	if req.Attempts < 0 {
		return nil, core.NewValidationError("attempts must be positive.", map[string]any{"field": "attempts"})
	}
	opts := &queue.Options{Attempts: req.Attempts}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if req.Delay != "" {
		d, err := core.ParseISO8601Duration(req.Delay)
		if err != nil {
			return nil, core.NewValidationError("delay must be an ISO 8601 duration.", map[string]any{"field": "delay", "value": req.Delay})
		}
		opts.Delay = d
	}
	return opts, nil
}

func queryInt(r *http.Request, key string, def, min int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return def
	}
	return n
}
