// Package scrape holds the job handlers the worker runs.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// PageJobType is the job type handled by PageHandler.
const PageJobType = "scrape-page"

// maxBodyBytes caps how much of a page is read.
const maxBodyBytes = 5 << 20

// PagePayload is the payload of a scrape-page job.
type PagePayload struct {
	URL string `json:"url"`
}

var captchaMarkers = [][]byte{[]byte("captcha"), []byte("cf-challenge")}

// PageHandler fetches a page and extracts its title.
//
// Error messages are what the failure classifier reads, so they never
// include the target URL or host: a host such as "parsehub.io" would
// otherwise change the category. The target is logged instead.
type PageHandler struct {
	client *http.Client
	logger *slog.Logger
}

// NewPageHandler creates a handler using client. A nil client gets a
// default with a 30s timeout.
func NewPageHandler(client *http.Client, logger *slog.Logger) *PageHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHandler{client: client, logger: logger}
}

// Handle runs one scrape-page job.
func (h *PageHandler) Handle(ctx context.Context, job *core.Job) error {
	var payload PagePayload
	if err := job.DecodePayload(&payload); err != nil {
		return errors.Wrap(err, "scraper: parse payload")
	}
	target, err := url.Parse(payload.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		h.logger.Warn("invalid scrape target", "job_id", job.ID, "url", payload.URL)
		return errors.New("scraper: invalid url")
	}

	title, err := h.scrape(ctx, target)
	if err != nil {
		h.logger.Warn("page scrape failed",
			"job_id", job.ID, "host", target.Host, "url", target.String(), "error", err)
		return err
	}

	h.logger.Info("page scraped", "job_id", job.ID, "url", target.String(), "title", title)
	return nil
}

func (h *PageHandler) scrape(ctx context.Context, target *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "scraper: build request")
	}
	req.Header.Set("User-Agent", "scrapepanel-worker/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		// The transport error names the URL, but "network" always wins
		// classification.
		return "", errors.Wrap(err, "network error fetching page")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return "", errors.Errorf("target blocked: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", errors.Errorf("network error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", errors.Errorf("scraper: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", errors.Wrap(err, "network error reading page")
	}

	lower := bytes.ToLower(body)
	for _, marker := range captchaMarkers {
		if bytes.Contains(lower, marker) {
			return "", errors.New("target blocked: captcha challenge")
		}
	}

	title, err := ExtractTitle(body)
	if err != nil {
		return "", errors.Wrap(err, "scraper")
	}
	return title, nil
}

// ExtractTitle returns the text of the first <title> element with entities
// decoded and whitespace collapsed. Titles inside comments or script are
// not elements and are skipped.
func ExtractTitle(body []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("parse: %w", err)
			}
			return "", fmt.Errorf("parse: no <title> element")
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != atom.Title {
				continue
			}
			if z.Next() != html.TextToken {
				return "", fmt.Errorf("parse: empty <title> element")
			}
			title := strings.Join(strings.Fields(string(z.Text())), " ")
			if title == "" {
				return "", fmt.Errorf("parse: empty <title> element")
			}
			return title, nil
		}
	}
}
