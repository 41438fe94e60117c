// Package awx provides an HTTP client for the AWX / Ansible Automation
// Platform REST API (v2).
//
// Towa uses this client to launch jobs, inspect their output, and manage
// templates, projects, and inventories on behalf of chat operators. All
// failures are classified into the package's sentinel errors so the
// execution layer can give kind-specific guidance.
package awx

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Towa/common/retry"
	"github.com/bdobrica/Towa/common/trace"
)

const defaultTimeout = 30 * time.Second

// Config holds the connection settings for one AWX instance.
type Config struct {
	// BaseURL is the AWX root, e.g. "https://awx.example.com".
	BaseURL string
	// Token is an OAuth2 bearer token. Takes precedence over basic auth.
	Token string
	// Username and Password are used for basic auth when Token is empty.
	Username string
	Password string
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	// Timeout bounds each HTTP request. Zero means defaultTimeout.
	Timeout time.Duration
}

// Client is an AWX REST API client for a single instance.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retryCfg   retry.Config
}

// New creates a client targeting cfg.BaseURL.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		retryCfg: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     10 * time.Second,
			// Only transport-level failures are worth retrying; the API's
			// own verdicts (auth, validation, not-found) are stable.
			ShouldRetry: func(err error) bool {
				return errors.Is(err, ErrConnection)
			},
		},
	}
}

// --- connectivity and identity ---

// Ping calls GET /api/v2/ping/ and reports reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.request(ctx, http.MethodGet, "/api/v2/ping/", nil, nil, nil)
}

// MeResponse is the authenticated user record from GET /api/v2/me/.
type MeResponse struct {
	Username    string `json:"username"`
	IsSuperuser bool   `json:"is_superuser"`
}

// Me returns the identity the client is authenticated as.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var out struct {
		Results []MeResponse `json:"results"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v2/me/", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("me: empty result: %w", ErrNotFound)
	}
	return &out.Results[0], nil
}

// InstanceConfig is the subset of GET /api/v2/config/ Towa reports on.
type InstanceConfig struct {
	Version     string `json:"version"`
	LicenseType string `json:"license_info.license_type"`
	TimeZone    string `json:"time_zone"`
}

// InstanceInfo returns version and configuration details of the AWX instance.
func (c *Client) InstanceInfo(ctx context.Context) (*InstanceConfig, error) {
	var out InstanceConfig
	if err := c.request(ctx, http.MethodGet, "/api/v2/config/", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &out, nil
}

// Dashboard returns the raw dashboard counters.
func (c *Client) Dashboard(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.request(ctx, http.MethodGet, "/api/v2/dashboard/", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	return out, nil
}

// --- jobs ---

// LaunchOptions carries the optional parameters for LaunchJob.
type LaunchOptions struct {
	// ExtraVars is a JSON or YAML document of playbook variables.
	ExtraVars string
	// Limit restricts the run to matching hosts.
	Limit string
	// Tags and SkipTags filter which plays run.
	Tags     string
	SkipTags string
}

// LaunchJob starts a job from the given template and returns the new job.
func (c *Client) LaunchJob(ctx context.Context, templateID int, opts LaunchOptions) (*Job, error) {
	payload := map[string]any{}
	if opts.ExtraVars != "" {
		payload["extra_vars"] = opts.ExtraVars
	}
	if opts.Limit != "" {
		payload["limit"] = opts.Limit
	}
	if opts.Tags != "" {
		payload["job_tags"] = opts.Tags
	}
	if opts.SkipTags != "" {
		payload["skip_tags"] = opts.SkipTags
	}

	var job Job
	path := fmt.Sprintf("/api/v2/job_templates/%d/launch/", templateID)
	if err := c.request(ctx, http.MethodPost, path, nil, payload, &job); err != nil {
		return nil, fmt.Errorf("launch template %d: %w", templateID, err)
	}
	return &job, nil
}

// GetJob fetches a single job by ID.
func (c *Client) GetJob(ctx context.Context, jobID int) (*Job, error) {
	var job Job
	path := fmt.Sprintf("/api/v2/jobs/%d/", jobID)
	if err := c.request(ctx, http.MethodGet, path, nil, nil, &job); err != nil {
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return &job, nil
}

// ListJobsOptions filters ListJobs. Zero values mean "unfiltered".
type ListJobsOptions struct {
	Status     string
	TemplateID int
	Page       int
	PageSize   int
}

// ListJobs returns jobs newest-first.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]Job, error) {
	q := url.Values{}
	q.Set("order_by", "-id")
	q.Set("page", strconv.Itoa(max(opts.Page, 1)))
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.TemplateID > 0 {
		q.Set("job_template", strconv.Itoa(opts.TemplateID))
	}

	var out struct {
		Results []Job `json:"results"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v2/jobs/", q, nil, &out); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out.Results, nil
}

// CancelJob requests cancellation of a running job.
func (c *Client) CancelJob(ctx context.Context, jobID int) error {
	path := fmt.Sprintf("/api/v2/jobs/%d/cancel/", jobID)
	if err := c.request(ctx, http.MethodPost, path, nil, nil, nil); err != nil {
		return fmt.Errorf("cancel job %d: %w", jobID, err)
	}
	return nil
}

// DeleteJob removes a finished job record.
func (c *Client) DeleteJob(ctx context.Context, jobID int) error {
	path := fmt.Sprintf("/api/v2/jobs/%d/", jobID)
	if err := c.request(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete job %d: %w", jobID, err)
	}
	return nil
}

// JobStdout fetches a job's console output. format is "txt" or "json"; a
// positive tailLines keeps only the last N lines. When the stdout endpoint
// returns 404 (common on older instances) the output is reassembled from
// the job's event stream instead.
func (c *Client) JobStdout(ctx context.Context, jobID int, format string, tailLines int) (string, error) {
	if format == "" {
		format = "txt"
	}
	q := url.Values{}
	q.Set("format", format)

	var content string
	path := fmt.Sprintf("/api/v2/jobs/%d/stdout/", jobID)
	err := c.requestRaw(ctx, http.MethodGet, path, q, nil, func(body []byte, contentType string) error {
		if strings.Contains(contentType, "application/json") {
			var parsed struct {
				Content string `json:"content"`
			}
			if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Content != "" {
				content = parsed.Content
				return nil
			}
		}
		content = string(body)
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("job %d stdout: %w", jobID, err)
		}
		// Fallback: stitch output together from job events.
		events, evErr := c.JobEvents(ctx, jobID, false, 1000)
		if evErr != nil {
			return "", fmt.Errorf("job %d stdout unavailable and events fallback failed: %w", jobID, evErr)
		}
		var sb strings.Builder
		for _, ev := range events {
			if ev.Stdout != "" {
				sb.WriteString(ev.Stdout)
				sb.WriteString("\n")
			}
		}
		content = strings.TrimRight(sb.String(), "\n")
		if content == "" {
			return "", fmt.Errorf("job %d has no output: %w", jobID, ErrNotFound)
		}
	}

	if tailLines > 0 {
		lines := strings.Split(content, "\n")
		if len(lines) > tailLines {
			content = strings.Join(lines[len(lines)-tailLines:], "\n")
		}
	}
	return content, nil
}

// JobEvents returns the event stream of a job, oldest first.
func (c *Client) JobEvents(ctx context.Context, jobID int, failedOnly bool, pageSize int) ([]JobEvent, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	if failedOnly {
		q.Set("failed", "true")
	}

	var out struct {
		Results []JobEvent `json:"results"`
	}
	path := fmt.Sprintf("/api/v2/jobs/%d/job_events/", jobID)
	if err := c.request(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, fmt.Errorf("job %d events: %w", jobID, err)
	}
	return out.Results, nil
}

// ListOptions filters and pages the resource listings (templates, projects,
// inventories). Zero values mean "unfiltered, first page, API default size".
type ListOptions struct {
	// NameFilter keeps only resources whose name contains the substring.
	NameFilter string
	Page       int
	PageSize   int
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.NameFilter != "" {
		q.Set("name__icontains", o.NameFilter)
	}
	if o.Page > 1 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(o.PageSize))
	}
	return q
}

// --- job templates ---

// ListTemplates returns job templates.
func (c *Client) ListTemplates(ctx context.Context, opts ListOptions) ([]JobTemplate, error) {
	var out struct {
		Results []JobTemplate `json:"results"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v2/job_templates/", opts.query(), nil, &out); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out.Results, nil
}

// CreateTemplateRequest carries the fields for CreateTemplate.
type CreateTemplateRequest struct {
	Name        string
	Description string
	JobType     string // "run" or "check"
	InventoryID int
	ProjectID   int
	Playbook    string
	// Limit restricts runs of this template to matching hosts.
	Limit string
}

// CreateTemplate creates a new job template.
func (c *Client) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*JobTemplate, error) {
	jobType := req.JobType
	if jobType == "" {
		jobType = "run"
	}
	payload := map[string]any{
		"name":        req.Name,
		"description": req.Description,
		"job_type":    jobType,
		"inventory":   req.InventoryID,
		"project":     req.ProjectID,
		"playbook":    req.Playbook,
	}
	if req.Limit != "" {
		payload["limit"] = req.Limit
	}

	var tpl JobTemplate
	if err := c.request(ctx, http.MethodPost, "/api/v2/job_templates/", nil, payload, &tpl); err != nil {
		return nil, fmt.Errorf("create template %q: %w", req.Name, err)
	}
	return &tpl, nil
}

// DeleteTemplate removes a job template.
func (c *Client) DeleteTemplate(ctx context.Context, templateID int) error {
	path := fmt.Sprintf("/api/v2/job_templates/%d/", templateID)
	if err := c.request(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete template %d: %w", templateID, err)
	}
	return nil
}

// --- projects ---

// ListProjects returns projects.
func (c *Client) ListProjects(ctx context.Context, opts ListOptions) ([]Project, error) {
	var out struct {
		Results []Project `json:"results"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v2/projects/", opts.query(), nil, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out.Results, nil
}

// CreateProjectRequest carries the fields for CreateProject. AWX rejects
// projects without an owning organization, so OrganizationID is mandatory.
type CreateProjectRequest struct {
	Name           string
	Description    string
	OrganizationID int
	SCMType        string // git, svn, insights, archive
	SCMURL         string
	SCMBranch      string
}

// CreateProject creates a source-control backed project.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	payload := map[string]any{
		"name":         req.Name,
		"description":  req.Description,
		"organization": req.OrganizationID,
		"scm_type":     req.SCMType,
		"scm_url":      req.SCMURL,
		"scm_branch":   req.SCMBranch,
	}

	var p Project
	if err := c.request(ctx, http.MethodPost, "/api/v2/projects/", nil, payload, &p); err != nil {
		return nil, fmt.Errorf("create project %q: %w", req.Name, err)
	}
	return &p, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, projectID int) error {
	path := fmt.Sprintf("/api/v2/projects/%d/", projectID)
	if err := c.request(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete project %d: %w", projectID, err)
	}
	return nil
}

// UpdateProject triggers an SCM sync. When wait is true it polls the update
// until it leaves the pending/waiting/running states or ctx is cancelled.
func (c *Client) UpdateProject(ctx context.Context, projectID int, wait bool) (*ProjectUpdate, error) {
	var update ProjectUpdate
	path := fmt.Sprintf("/api/v2/projects/%d/update/", projectID)
	if err := c.request(ctx, http.MethodPost, path, nil, nil, &update); err != nil {
		return nil, fmt.Errorf("update project %d: %w", projectID, err)
	}
	if !wait || update.ID == 0 {
		return &update, nil
	}

	poll := fmt.Sprintf("/api/v2/project_updates/%d/", update.ID)
	for {
		switch update.Status {
		case "pending", "waiting", "running", "":
		default:
			return &update, nil
		}
		select {
		case <-ctx.Done():
			return &update, ctx.Err()
		case <-time.After(2 * time.Second):
		}
		if err := c.request(ctx, http.MethodGet, poll, nil, nil, &update); err != nil {
			return nil, fmt.Errorf("poll project update %d: %w", update.ID, err)
		}
	}
}

// --- inventories ---

// ListInventories returns inventories.
func (c *Client) ListInventories(ctx context.Context, opts ListOptions) ([]Inventory, error) {
	var out struct {
		Results []Inventory `json:"results"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v2/inventories/", opts.query(), nil, &out); err != nil {
		return nil, fmt.Errorf("list inventories: %w", err)
	}
	return out.Results, nil
}

// CreateInventory creates an inventory in the given organization.
func (c *Client) CreateInventory(ctx context.Context, name, description string, organizationID int) (*Inventory, error) {
	if organizationID <= 0 {
		organizationID = 1
	}
	payload := map[string]any{
		"name":         name,
		"description":  description,
		"organization": organizationID,
	}

	var inv Inventory
	if err := c.request(ctx, http.MethodPost, "/api/v2/inventories/", nil, payload, &inv); err != nil {
		return nil, fmt.Errorf("create inventory %q: %w", name, err)
	}
	return &inv, nil
}

// DeleteInventory removes an inventory.
func (c *Client) DeleteInventory(ctx context.Context, inventoryID int) error {
	path := fmt.Sprintf("/api/v2/inventories/%d/", inventoryID)
	if err := c.request(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete inventory %d: %w", inventoryID, err)
	}
	return nil
}

// --- internal helpers ---

// request performs a JSON API call with retries on connection failures and
// decodes a 2xx body into out when out is non-nil.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.requestRaw(ctx, method, path, query, body, func(b []byte, _ string) error {
		if out == nil || len(b) == 0 {
			return nil
		}
		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	})
}

// requestRaw is request without response decoding: handle receives the raw
// 2xx body and its content type.
func (c *Client) requestRaw(ctx context.Context, method, path string, query url.Values, payload any, handle func(body []byte, contentType string) error) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		var bodyReader io.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			bodyReader = bytes.NewReader(b)
		}

		u := c.cfg.BaseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.setAuth(req)
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set("X-Trace-ID", traceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrConnection)
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %v: %w", err, ErrConnection)
		}

		if resp.StatusCode >= 400 {
			return classifyStatus(method, path, resp.StatusCode, bodyBytes)
		}
		return handle(bodyBytes, resp.Header.Get("Content-Type"))
	})
}

func (c *Client) setAuth(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		return
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

// classifyStatus maps an HTTP error status onto the package sentinels,
// carrying the API's own detail message when one is present.
func classifyStatus(method, path string, status int, body []byte) error {
	detail := apiDetail(body)

	var kind error
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status >= 400 && status < 500:
		kind = ErrValidation
	default:
		kind = ErrConnection
	}

	if detail != "" {
		return fmt.Errorf("%s %s → %d: %s: %w", method, path, status, detail, kind)
	}
	return fmt.Errorf("%s %s → %d: %w", method, path, status, kind)
}

// apiDetail extracts the "detail" field AWX puts in error bodies, falling
// back to a truncated raw body.
func apiDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
