// Package circleci is the scheduler's client for the CI provider's
// directory API: pipeline listing with pagination and stop-token semantics,
// workflow and job lookups, configuration retrieval, and workflow re-runs.
// Authentication, retry-on-throttle policy, and response-envelope parsing
// all live here; callers only see typed records.
package circleci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultBaseURL = "https://circleci.com/api"

// Directory is the provider surface the scheduling engine consumes.
type Directory interface {
	ListPipelines(ctx context.Context, opts ListOptions) ([]Pipeline, error)
	GetPipelineWorkflows(ctx context.Context, pipelineID string) ([]Workflow, error)
	GetWorkflow(ctx context.Context, workflowID string) (Workflow, error)
	GetWorkflowJobs(ctx context.Context, workflowID string) ([]Job, error)
	GetJobPullRequests(ctx context.Context, jobNumber int) ([]int, error)
	GetWorkflowPullRequests(ctx context.Context, workflowID string) ([]int, error)
	GetPipelineConfig(ctx context.Context, pipelineID string) (Config, error)
	RerunWorkflow(ctx context.Context, workflowID string) error
}

// Client talks to the CircleCI API (v2, plus v1.1 for job pull-request
// lookups). The zero value is not usable; use NewClient.
type Client struct {
	token   string
	slug    string
	baseURL string
	http    *http.Client
	budget  *RequestBudget

	// Workflow listings are needed twice per pipeline in the worst case
	// (filter evaluation and pull-request resolution), possibly from
	// concurrent checks; singleflight plus a cache keeps that at one call.
	flight    singleflight.Group
	mu        sync.Mutex
	workflows map[string][]Workflow
}

type options struct {
	baseURL    string
	httpClient *http.Client
	verbose    bool
	writer     io.Writer
}

type Option func(*options)

// WithBaseURL overrides the API endpoint (tests point this at a local
// server).
func WithBaseURL(base string) Option {
	return func(o *options) { o.baseURL = base }
}

// WithHTTPClient supplies a custom HTTP client, typically to bound call
// timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithVerbose logs every API call with latency to writer (typically
// stderr), keeping stdout clean for structured output.
func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

// loggingRoundTripper wraps an underlying transport and emits one line per
// request and response when verbose logging is enabled.
type loggingRoundTripper struct {
	base http.RoundTripper
	w    io.Writer
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if t.w != nil {
		_, _ = fmt.Fprintf(t.w, "[verbose] circleci api: %s %s\n", req.Method, req.URL.String())
	}
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)
	if t.w != nil {
		if err != nil {
			_, _ = fmt.Fprintf(t.w, "[verbose] circleci api: error after %s: %v\n", dur.Truncate(time.Millisecond), err)
		} else {
			_, _ = fmt.Fprintf(t.w, "[verbose] circleci api: %d %s (%s)\n", resp.StatusCode, http.StatusText(resp.StatusCode), dur.Truncate(time.Millisecond))
		}
	}
	return resp, err
}

// NewClient builds a client for one project. projectSlug is the provider's
// project coordinate, e.g. "gh/acme/app".
func NewClient(token, projectSlug string, opts ...Option) *Client {
	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	base := o.baseURL
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.verbose {
		transport := httpClient.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		wrapped := *httpClient
		wrapped.Transport = &loggingRoundTripper{base: transport, w: o.writer}
		httpClient = &wrapped
	}

	return &Client{
		token:     token,
		slug:      projectSlug,
		baseURL:   base,
		http:      httpClient,
		budget:    NewRequestBudget(),
		workflows: make(map[string][]Workflow),
	}
}

// itemsEnvelope is the v2 paginated response wrapper.
type itemsEnvelope[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token"`
}

// GetPipelineWorkflows lists the workflows of a pipeline (first page, which
// the provider guarantees is enough for the workflow counts this project
// uses). Results are cached for the lifetime of the client.
func (c *Client) GetPipelineWorkflows(ctx context.Context, pipelineID string) ([]Workflow, error) {
	c.mu.Lock()
	if ws, ok := c.workflows[pipelineID]; ok {
		c.mu.Unlock()
		return ws, nil
	}
	c.mu.Unlock()

	val, err, _ := c.flight.Do(pipelineID, func() (any, error) {
		var envelope itemsEnvelope[Workflow]
		if err := c.getV2(ctx, fmt.Sprintf("pipeline/%s/workflow", pipelineID), nil, &envelope); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.workflows[pipelineID] = envelope.Items
		c.mu.Unlock()
		return envelope.Items, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]Workflow), nil
}

// GetWorkflow retrieves a single workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (Workflow, error) {
	var w Workflow
	if err := c.getV2(ctx, "workflow/"+workflowID, nil, &w); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

// GetWorkflowJobs lists the jobs of a workflow (first page).
func (c *Client) GetWorkflowJobs(ctx context.Context, workflowID string) ([]Job, error) {
	var envelope itemsEnvelope[Job]
	if err := c.getV2(ctx, fmt.Sprintf("workflow/%s/job", workflowID), nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Items, nil
}

// GetJobPullRequests returns the pull-request numbers linked to a job. Only
// the legacy v1.1 API exposes this association.
func (c *Client) GetJobPullRequests(ctx context.Context, jobNumber int) ([]int, error) {
	var detail jobDetail
	if err := c.getV11(ctx, fmt.Sprintf("project/%s/%d", c.slug, jobNumber), &detail); err != nil {
		return nil, err
	}
	var prs []int
	for _, pr := range detail.PullRequests {
		if n, ok := pullRequestNumberFromURL(pr.URL); ok {
			prs = append(prs, n)
		}
	}
	return prs, nil
}

// GetWorkflowPullRequests resolves the pull requests associated with a
// workflow. All jobs of one workflow share the same association, so the
// first job suffices; a workflow with zero jobs has no pull requests.
func (c *Client) GetWorkflowPullRequests(ctx context.Context, workflowID string) ([]int, error) {
	jobs, err := c.GetWorkflowJobs(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return c.GetJobPullRequests(ctx, jobs[0].JobNumber)
}

// GetPipelineConfig retrieves a pipeline's source and compiled
// configuration.
func (c *Client) GetPipelineConfig(ctx context.Context, pipelineID string) (Config, error) {
	var cfg Config
	if err := c.getV2(ctx, fmt.Sprintf("pipeline/%s/config", pipelineID), nil, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RerunWorkflow asks the provider to re-run a workflow from the start.
func (c *Client) RerunWorkflow(ctx context.Context, workflowID string) error {
	return c.postV2(ctx, fmt.Sprintf("workflow/%s/rerun", workflowID))
}

func (c *Client) getV2(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL("v2", endpoint, params), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Circle-Token", c.token)
	return c.do(req, out)
}

func (c *Client) postV2(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL("v2", endpoint, nil), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Circle-Token", c.token)
	return c.do(req, nil)
}

// getV11 calls the legacy API, which authenticates with basic auth (token
// as username, empty password).
func (c *Client) getV11(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL("v1.1", endpoint, nil), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.token, "")
	return c.do(req, out)
}

func (c *Client) endpointURL(version, endpoint string, params url.Values) string {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, version, endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.budget.Acquire(req.Context()); err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("circleci %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	c.budget.UpdateFromResponse(resp)

	if resp.StatusCode > 299 {
		return fmt.Errorf("circleci %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("circleci %s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
