package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"conveyor/internal/config"
	"conveyor/internal/services"
)

const (
	userAgent         = "Conveyor/0.1.0"
	defaultPageSize   = 50
	retryMaxElapsed   = 30 * time.Second
	retryAfterCeiling = 10 * time.Second
)

// Issue is the subset of tracker issue fields the pipeline cares about.
type Issue struct {
	Key     string   `json:"key"`
	Summary string   `json:"summary"`
	Labels  []string `json:"labels"`
	Updated string   `json:"updated_at"`
}

// API is the tracker surface the collector and reflector depend on.
type API interface {
	Search(ctx context.Context, query string) ([]Issue, error)
	Labels(ctx context.Context, key string) ([]string, error)
	AddLabel(ctx context.Context, key, label string) error
	RemoveLabel(ctx context.Context, key, label string) error
}

// Client is an HTTP tracker client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	token    string
	project  string
	pageSize int
	client   *http.Client
}

// New builds a tracker client from configuration.
func New(cfg *config.Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.Tracker.BaseURL), "/")
	if base == "" {
		return nil, services.Wrap(
			services.ErrConfiguration, "tracker", "new client",
			"Tracker base URL is not configured", nil)
	}

	timeout := time.Duration(cfg.Tracker.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.Tracker.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Client{
		baseURL:  base,
		token:    strings.TrimSpace(cfg.Tracker.Token),
		project:  strings.TrimSpace(cfg.Tracker.Project),
		pageSize: pageSize,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type searchResponse struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

// Search returns every issue matching the query, following pagination until
// the reported total is reached.
func (c *Client) Search(ctx context.Context, query string) ([]Issue, error) {
	var issues []Issue
	offset := 0
	for {
		params := url.Values{}
		params.Set("query", query)
		if c.project != "" {
			params.Set("project", c.project)
		}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(c.pageSize))

		var page searchResponse
		err := c.getJSON(ctx, "/rest/issues?"+params.Encode(), &page)
		if err != nil {
			return nil, err
		}
		issues = append(issues, page.Issues...)
		offset += len(page.Issues)
		if len(page.Issues) == 0 || offset >= page.Total {
			return issues, nil
		}
	}
}

type labelsResponse struct {
	Labels []string `json:"labels"`
}

// Labels returns the labels currently set on an issue.
func (c *Client) Labels(ctx context.Context, key string) ([]string, error) {
	var resp labelsResponse
	if err := c.getJSON(ctx, "/rest/issues/"+url.PathEscape(key)+"/labels", &resp); err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

// AddLabel sets a label on an issue. Adding a label that is already present
// is not an error.
func (c *Client) AddLabel(ctx context.Context, key, label string) error {
	body := fmt.Sprintf(`{"label":%q}`, label)
	return c.do(ctx, http.MethodPost, "/rest/issues/"+url.PathEscape(key)+"/labels", body, nil)
}

// RemoveLabel removes a label from an issue. Removing an absent label is not
// an error.
func (c *Client) RemoveLabel(ctx context.Context, key, label string) error {
	path := "/rest/issues/" + url.PathEscape(key) + "/labels/" + url.PathEscape(label)
	err := c.do(ctx, http.MethodDelete, path, "", nil)
	if err != nil && strings.Contains(err.Error(), "status 404") {
		return nil
	}
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", out)
}

func newRequestBackoff(ctx context.Context) backoff.BackOff {
	// BackOff values are stateful; build a fresh one per request.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return backoff.WithContext(bo, ctx)
}

func (c *Client) do(ctx context.Context, method, path, body string, out any) error {
	permanent := false
	op := func() error {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			waitRetryAfter(ctx, resp.Header.Get("Retry-After"))
			return fmt.Errorf("%s %s: rate limited", method, path)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			permanent = true
			return backoff.Permanent(fmt.Errorf("%s %s: status %d: %s",
				method, path, resp.StatusCode, strings.TrimSpace(string(payload))))
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(op, newRequestBackoff(ctx)); err != nil {
		marker := services.ErrTransient
		if permanent {
			marker = services.ErrPermanent
		}
		return services.Wrap(marker, "tracker", method+" "+path, "Tracker request failed", err)
	}
	return nil
}

func waitRetryAfter(ctx context.Context, header string) {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return
	}
	wait := time.Duration(seconds) * time.Second
	if wait > retryAfterCeiling {
		wait = retryAfterCeiling
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
