package kiroku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kiroku server (e.g. "http://localhost:8080").
	BaseURL string

	// UserID identifies the caller. It is sent as the X-User-Id header on
	// every request and scopes all reads and writes to that user.
	UserID uuid.UUID

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kiroku decision journal API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	userID  uuid.UUID
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or UserID is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kiroku: BaseURL is required")
	}
	if cfg.UserID == uuid.Nil {
		return nil, fmt.Errorf("kiroku: UserID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		userID:  cfg.UserID,
		client:  httpClient,
	}, nil
}

// CreateDecision records a new decision from free-form input. The server
// accepts it immediately and drafts the structured fields and plan in the
// background; poll GetDecision or subscribe to the event stream to see
// them arrive.
func (c *Client) CreateDecision(ctx context.Context, rawInput string) (*Decision, error) {
	body := map[string]string{"raw_input": rawInput}
	var resp Decision
	if err := c.post(ctx, "/v1/decisions", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDecision retrieves a single decision by id.
func (c *Client) GetDecision(ctx context.Context, id uuid.UUID) (*Decision, error) {
	var resp Decision
	if err := c.get(ctx, "/v1/decisions/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDecisions retrieves the caller's decisions, newest first.
func (c *Client) ListDecisions(ctx context.Context) ([]Decision, error) {
	var resp []Decision
	if err := c.get(ctx, "/v1/decisions", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ConfirmPlan accepts the drafted plan, optionally edited, and moves the
// decision from PLANNING to ACTIVE. Fails with a 409 if the decision is
// not in PLANNING.
func (c *Client) ConfirmPlan(ctx context.Context, id uuid.UUID, plan []PlanStep) error {
	body := map[string]any{"plan": plan}
	return c.post(ctx, "/v1/decisions/"+id.String()+"/plan/confirm", body, nil)
}

// UpdatePlan replaces the plan of an ACTIVE decision, typically to check
// off steps or apply a revision proposed by Chat.
func (c *Client) UpdatePlan(ctx context.Context, id uuid.UUID, plan []PlanStep) error {
	body := map[string]any{"plan": plan}
	return c.put(ctx, "/v1/decisions/"+id.String()+"/plan", body, nil)
}

// Complete closes an ACTIVE decision with an outcome and a reflection.
// Every plan step must be done or skipped first. Reflection analysis and
// embedding happen asynchronously after the call returns.
func (c *Client) Complete(ctx context.Context, id uuid.UUID, outcome Outcome, reflection string) error {
	body := map[string]string{"outcome": string(outcome), "reflection": reflection}
	return c.post(ctx, "/v1/decisions/"+id.String()+"/complete", body, nil)
}

// FastTrackComplete closes a decision from any non-completed state,
// discarding whatever plan it had. Meant for decisions that resolved
// outside the tool.
func (c *Client) FastTrackComplete(ctx context.Context, id uuid.UUID, outcome Outcome, reflection string) error {
	body := map[string]string{"outcome": string(outcome), "reflection": reflection}
	return c.post(ctx, "/v1/decisions/"+id.String()+"/fast-track", body, nil)
}

// Chat holds a conversation about a decision's plan. Send the full message
// history each turn; the reply may include a revised plan to confirm via
// UpdatePlan.
func (c *Client) Chat(ctx context.Context, id uuid.UUID, messages []ChatMessage) (*ChatReply, error) {
	body := map[string]any{"messages": messages}
	var resp ChatReply
	if err := c.post(ctx, "/v1/decisions/"+id.String()+"/chat", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteDecision soft-deletes a decision. It disappears from lists and
// search results immediately.
func (c *Client) DeleteDecision(ctx context.Context, id uuid.UUID) error {
	return c.doDelete(ctx, "/v1/decisions/"+id.String())
}

// Health checks the server's health status. This endpoint does not require
// an identity header.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	return c.doRequest(req, dest)
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	return c.doRequest(req, nil)
}

func (c *Client) send(ctx context.Context, method, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kiroku: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	req.Header.Set("X-User-Id", c.userID.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kiroku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kiroku: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("kiroku: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
	} else {
		apiErr.Message = string(body)
	}

	return apiErr
}
