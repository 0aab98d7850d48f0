package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"deepwiki-proxy/internal/gateway"
	"deepwiki-proxy/internal/models"
)

// Client talks to the proxy's job control surface. It is the programmatic
// counterpart of the browser UI and is what wikictl drives.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the proxy at baseURL. token is the session bearer
// token, empty for unauthenticated calls.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// BaseURL returns the configured proxy address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NewRequest builds a request against the proxy with the session token
// attached. Exposed so the stream reader can build per-attempt requests.
func (c *Client) NewRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: "dw_token", Value: c.token})
	}
	return req, nil
}

// do runs the request and decodes the reply into out (when non-nil). Error
// replies carry the proxy's normalized {error} shape and surface as
// *gateway.UpstreamError.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gateway.Unreachable(err)
	}
	if resp.StatusCode >= 400 {
		return gateway.DecodeError(resp)
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s reply: %w", method, path, err)
	}
	return nil
}

// Create submits a new wiki generation job.
func (c *Client) Create(ctx context.Context, req models.CreateJobRequest) (models.CreateJobResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.CreateJobResponse{}, fmt.Errorf("marshal create request: %w", err)
	}
	var out models.CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", body, &out); err != nil {
		return models.CreateJobResponse{}, err
	}
	return out, nil
}

// Get fetches the current job state.
func (c *Client) Get(ctx context.Context, jobID string) (models.Job, error) {
	var out models.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return models.Job{}, err
	}
	return out, nil
}

// List fetches jobs matching the filter.
func (c *Client) List(ctx context.Context, f models.ListFilter) (models.ListJobsResponse, error) {
	q := url.Values{}
	if f.Owner != "" {
		q.Set("owner", f.Owner)
	}
	if f.Repo != "" {
		q.Set("repo", f.Repo)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	path := "/jobs"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out models.ListJobsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return models.ListJobsResponse{}, err
	}
	return out, nil
}

// Pause asks upstream to pause an active job.
func (c *Client) Pause(ctx context.Context, jobID string) (models.Job, error) {
	return c.control(ctx, jobID, "pause")
}

// Resume asks upstream to resume a paused job.
func (c *Client) Resume(ctx context.Context, jobID string) (models.Job, error) {
	return c.control(ctx, jobID, "resume")
}

// Retry asks upstream to re-enter pending from a failed, partially completed,
// or cancelled state.
func (c *Client) Retry(ctx context.Context, jobID string) (models.Job, error) {
	return c.control(ctx, jobID, "retry")
}

// Cancel requests cancellation of an active job.
func (c *Client) Cancel(ctx context.Context, jobID string) (models.Job, error) {
	var out models.Job
	if err := c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return models.Job{}, err
	}
	return out, nil
}

// Delete hard-deletes a terminal job.
func (c *Client) Delete(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/delete", nil, nil)
}

// RetryPage retries a single failed page.
func (c *Client) RetryPage(ctx context.Context, jobID, pageID string) (models.Job, error) {
	path := "/jobs/" + url.PathEscape(jobID) + "/pages/" + url.PathEscape(pageID) + "/retry"
	var out models.Job
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return models.Job{}, err
	}
	return out, nil
}

func (c *Client) control(ctx context.Context, jobID, action string) (models.Job, error) {
	var out models.Job
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/"+action, nil, &out); err != nil {
		return models.Job{}, err
	}
	return out, nil
}
