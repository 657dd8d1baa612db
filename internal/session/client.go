package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the session service over HTTP. It implements Service and
// Toaster.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type createRequest struct {
	ParentID string `json:"parentID,omitempty"`
	Title    string `json:"title,omitempty"`
}

type sessionInfo struct {
	ID string `json:"id"`
}

// Create opens a new child session and returns its ID.
func (c *Client) Create(ctx context.Context, parentID, title string) (string, error) {
	var info sessionInfo
	err := c.do(ctx, http.MethodPost, "/session", createRequest{ParentID: parentID, Title: title}, &info)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return info.ID, nil
}

// Fork creates a new session inheriting the given session's history.
func (c *Client) Fork(ctx context.Context, sessionID string) (string, error) {
	var info sessionInfo
	err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/fork", nil, &info)
	if err != nil {
		return "", fmt.Errorf("fork session: %w", err)
	}
	return info.ID, nil
}

type promptRequest struct {
	Agent string          `json:"agent"`
	Parts []Part          `json:"parts"`
	Tools map[string]bool `json:"tools,omitempty"`
}

// PromptAsync starts a fire-and-forget agent turn.
func (c *Client) PromptAsync(ctx context.Context, sessionID, agent, text string, gate map[string]bool) error {
	req := promptRequest{
		Agent: agent,
		Parts: []Part{{Type: "text", Text: text}},
		Tools: gate,
	}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/prompt_async", req, nil); err != nil {
		return fmt.Errorf("prompt async: %w", err)
	}
	return nil
}

// Prompt injects a message and runs a turn synchronously.
func (c *Client) Prompt(ctx context.Context, sessionID, agent, text string) error {
	req := promptRequest{
		Agent: agent,
		Parts: []Part{{Type: "text", Text: text}},
	}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/prompt", req, nil); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	return nil
}

// Status returns the batched status report for all live sessions.
func (c *Client) Status(ctx context.Context) (map[string]SessionStatus, error) {
	statuses := map[string]SessionStatus{}
	if err := c.do(ctx, http.MethodGet, "/session/status", nil, &statuses); err != nil {
		return nil, fmt.Errorf("session status: %w", err)
	}
	return statuses, nil
}

// Messages returns the ordered message history of a session.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", nil, &msgs); err != nil {
		return nil, fmt.Errorf("session messages: %w", err)
	}
	return msgs, nil
}

// Abort asks the service to stop a session's execution.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/abort", nil, nil); err != nil {
		return fmt.Errorf("abort session: %w", err)
	}
	return nil
}

// Exists reports whether a session is still known to the service.
func (c *Client) Exists(ctx context.Context, sessionID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("get session: unexpected status %d", resp.StatusCode)
	}
	return true, nil
}

// ShowToast sends a best-effort UI toast.
func (c *Client) ShowToast(ctx context.Context, t Toast) error {
	body := map[string]any{
		"title":    t.Title,
		"message":  t.Message,
		"variant":  t.Variant,
		"duration": t.Duration.Milliseconds(),
	}
	if err := c.do(ctx, http.MethodPost, "/tui/show-toast", body, nil); err != nil {
		return fmt.Errorf("show toast: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
