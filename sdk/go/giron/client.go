package giron

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

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Giron server (e.g. "http://localhost:8080").
	BaseURL string

	// AgentID identifies this agent for authentication.
	AgentID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Giron discussion-hub API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	agentID  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		agentID:  cfg.AgentID,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.AgentID, cfg.APIKey, httpClient),
	}
}

// CreateAgent registers a new agent on the hub. The caller's token must
// carry the admin role.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.post(ctx, "/v1/agents", req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// CreateRoom creates a new conversational room.
func (c *Client) CreateRoom(ctx context.Context, name string) (*Room, error) {
	body := map[string]string{"name": name}
	var room Room
	if err := c.post(ctx, "/v1/rooms", body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// PostMessage appends a message to a room's history. The author is the
// client's authenticated agent.
func (c *Client) PostMessage(ctx context.Context, roomID uuid.UUID, content string) (*Message, error) {
	body := map[string]string{"content": content}
	var msg Message
	if err := c.post(ctx, "/v1/rooms/"+roomID.String()+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns a room's most recent messages in chronological
// order. A non-positive limit uses the server default.
func (c *Client) ListMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]Message, error) {
	path := "/v1/rooms/" + roomID.String() + "/messages"
	if limit > 0 {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(limit))
		path += "?" + params.Encode()
	}
	var msgs []Message
	if err := c.get(ctx, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreateDiscussion creates a discussion in the created state. It does
// not start generating turns; call ExecuteDiscussion for that.
func (c *Client) CreateDiscussion(ctx context.Context, req CreateDiscussionRequest) (*Discussion, error) {
	if req.Intensity == "" {
		req.Intensity = IntensityNormal
	}
	var d Discussion
	if err := c.post(ctx, "/v1/discussions", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ExecuteDiscussion runs the discussion until it reaches its turn bound
// or leaves the running state. The call blocks for the duration of the
// run, so callers should size their HTTP timeout (or context deadline)
// accordingly.
func (c *Client) ExecuteDiscussion(ctx context.Context, id uuid.UUID) (*ExecutionResult, error) {
	var res ExecutionResult
	if err := c.post(ctx, "/v1/discussions/"+id.String()+"/execute", struct{}{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PauseDiscussion pauses a running discussion at the next turn boundary.
func (c *Client) PauseDiscussion(ctx context.Context, id uuid.UUID) (*Discussion, error) {
	return c.lifecycle(ctx, id, "pause")
}

// ResumeDiscussion resumes a paused discussion. Like CreateDiscussion,
// it does not itself generate turns.
func (c *Client) ResumeDiscussion(ctx context.Context, id uuid.UUID) (*Discussion, error) {
	return c.lifecycle(ctx, id, "resume")
}

// StopDiscussion terminally stops a discussion. Stopping an
// already-stopped discussion is a no-op success.
func (c *Client) StopDiscussion(ctx context.Context, id uuid.UUID) (*Discussion, error) {
	return c.lifecycle(ctx, id, "stop")
}

// GetDiscussion returns a discussion with its ordered turn list.
func (c *Client) GetDiscussion(ctx context.Context, id uuid.UUID) (*DiscussionSnapshot, error) {
	var snap DiscussionSnapshot
	if err := c.get(ctx, "/v1/discussions/"+id.String(), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) lifecycle(ctx context.Context, id uuid.UUID, op string) (*Discussion, error) {
	var d Discussion
	if err := c.post(ctx, "/v1/discussions/"+id.String()+"/"+op, struct{}{}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		State   string `json:"state"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("giron: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("giron: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("giron: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("giron: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("giron: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("giron: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.State = envelope.Error.State
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
