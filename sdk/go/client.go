package workdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Workdesk HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Only
	// servers started with --allow-actor-header accept it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Parameter struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Mandatory bool   `json:"mandatory,omitempty"`
	Value     any    `json:"value,omitempty"`
}

type AssignmentSpec struct {
	CandidateUsers        []string `json:"candidate_users,omitempty"`
	CandidateGroups       []string `json:"candidate_groups,omitempty"`
	CandidatePositions    []string `json:"candidate_positions,omitempty"`
	CandidateOrgUnits     []string `json:"candidate_org_units,omitempty"`
	Strategy              string   `json:"strategy,omitempty"`
	Mode                  string   `json:"mode,omitempty"`
	SeparationOfDutiesKey string   `json:"separation_of_duties_key,omitempty"`
}

// CreateWorkItem is the body of a create command.
type CreateWorkItem struct {
	WorkflowID     string         `json:"workflow_id"`
	RunID          string         `json:"run_id,omitempty"`
	TaskType       string         `json:"task_type"`
	TaskName       string         `json:"task_name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Lifecycle      string         `json:"lifecycle,omitempty"`
	AssignmentSpec AssignmentSpec `json:"assignment_spec,omitempty"`
	Strategy       string         `json:"strategy,omitempty"`
	Mode           string         `json:"mode,omitempty"`
	Parameters     []Parameter    `json:"parameters,omitempty"`
	ContextData    map[string]any `json:"context_data,omitempty"`
}

// Keys carries the optional retry keys of a command.
type Keys struct {
	IdempotencyKey string
	BusinessKey    string
}

type Decision struct {
	Accepted     bool   `json:"accepted"`
	Action       string `json:"action"`
	Reason       string `json:"reason,omitempty"`
	Kind         string `json:"kind,omitempty"`
	InitialState string `json:"initial_state,omitempty"`
	FromState    string `json:"from_state,omitempty"`
	ToState      string `json:"to_state,omitempty"`
	Assignment   *struct {
		Strategy   string   `json:"strategy"`
		Mode       string   `json:"mode"`
		OfferedTo  []string `json:"offered_to"`
		AssignedTo string   `json:"assigned_to,omitempty"`
	} `json:"assignment,omitempty"`
}

type CommandResult struct {
	Decision   Decision `json:"decision"`
	WorkItemID int64    `json:"work_item_id,omitempty"`
	Replayed   bool     `json:"replayed,omitempty"`
}

type WorkItem struct {
	ID          int64          `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	RunID       string         `json:"run_id"`
	TaskType    string         `json:"task_type"`
	TaskName    string         `json:"task_name"`
	Lifecycle   string         `json:"lifecycle"`
	State       string         `json:"state"`
	Version     int64          `json:"version"`
	AssigneeID  string         `json:"assignee_id,omitempty"`
	OfferedTo   []string       `json:"offered_to"`
	Parameters  []Parameter    `json:"parameters"`
	ContextData map[string]any `json:"context_data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type AuditEntry struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	FromState string         `json:"from_state,omitempty"`
	ToState   string         `json:"to_state,omitempty"`
	ActorID   string         `json:"actor_id"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PaginatedWorkItems wraps list responses.
type PaginatedWorkItems struct {
	Items  []WorkItem `json:"items"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// ListOptions filters ListWorkItems.
type ListOptions struct {
	State      string
	User       string
	WorkflowID string
	TaskType   string
	Context    map[string]string
	Limit      int
	Offset     int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Rejected reports whether the engine decided against the command, as
// opposed to a transport, auth or storage failure.
func (e *APIError) Rejected() bool {
	_, ok := e.Details["decision"]
	return ok
}

// Retryable reports whether repeating the same command may succeed.
func (e *APIError) Retryable() bool {
	retry, _ := e.Details["retryable"].(bool)
	return retry
}

// CreateWorkItem creates a work item.
func (c *Client) CreateWorkItem(ctx context.Context, body CreateWorkItem, keys Keys) (CommandResult, error) {
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, "work-items", body, keys, &resp)
	return resp, err
}

// Claim claims a work item. expectedVersion 0 skips the version check.
func (c *Client) Claim(ctx context.Context, id, expectedVersion int64, keys Keys) (CommandResult, error) {
	body := map[string]any{"expected_version": expectedVersion}
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("work-items/%d/claim", id), body, keys, &resp)
	return resp, err
}

// Complete completes a claimed work item with its output parameters.
func (c *Client) Complete(ctx context.Context, id int64, output map[string]any, expectedVersion int64, keys Keys) (CommandResult, error) {
	body := map[string]any{"output": output, "expected_version": expectedVersion}
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("work-items/%d/complete", id), body, keys, &resp)
	return resp, err
}

// Cancel cancels a work item.
func (c *Client) Cancel(ctx context.Context, id int64, reason string, expectedVersion int64, keys Keys) (CommandResult, error) {
	body := map[string]any{"reason": reason, "expected_version": expectedVersion}
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("work-items/%d/cancel", id), body, keys, &resp)
	return resp, err
}

// GetWorkItem fetches a work item by id.
func (c *Client) GetWorkItem(ctx context.Context, id int64) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("work-items/%d", id), nil, Keys{}, &resp)
	return resp, err
}

// ListWorkItems returns one page of work items.
func (c *Client) ListWorkItems(ctx context.Context, opts ListOptions) (PaginatedWorkItems, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.User != "" {
		q.Set("user", opts.User)
	}
	if opts.WorkflowID != "" {
		q.Set("workflow_id", opts.WorkflowID)
	}
	if opts.TaskType != "" {
		q.Set("task_type", opts.TaskType)
	}
	for k, v := range opts.Context {
		q.Add("context", k+"="+v)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	endpoint := "work-items"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedWorkItems
	err := c.do(ctx, http.MethodGet, endpoint, nil, Keys{}, &resp)
	return resp, err
}

// Audit returns the audit trail of a work item.
func (c *Client) Audit(ctx context.Context, id int64) ([]AuditEntry, error) {
	var resp []AuditEntry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("work-items/%d/audit", id), nil, Keys{}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, keys Keys, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	if keys.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", keys.IdempotencyKey)
	}
	if keys.BusinessKey != "" {
		req.Header.Set("Business-Key", keys.BusinessKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
