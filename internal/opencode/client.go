// Package opencode is a minimal HTTP client for OpenCode-style agent runtime
// servers: session listing/creation, prompting, and a health probe. The hub
// talks to these servers to invoke agents and to verify liveness.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WellKnownPorts are the local ports scanned during auto-discovery, in order.
var WellKnownPorts = []int{4096, 4097, 4098, 4099, 16713}

// Session is an agent runtime session.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	ParentID  string `json:"parentID,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// Part is one chunk of a prompt response. Only text parts with Ignored unset
// carry user-visible output.
type Part struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Ignored bool   `json:"ignored,omitempty"`
}

// PromptResponse is the runtime's answer to a prompt.
type PromptResponse struct {
	Parts []Part `json:"parts"`
}

// Client talks to one runtime server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a server URL. Trailing slashes are
// normalized so cached credentials compare equal regardless of how the agent
// reported its URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health probes the server. A short deadline keeps discovery sweeps fast.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/app", nil, nil)
}

// ListSessions returns all sessions on the server.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.do(ctx, http.MethodGet, "/session", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HasSession reports whether a session id exists on the server.
func (c *Client) HasSession(ctx context.Context, sessionID string) (bool, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

// CreateSession creates a new session, used by the hub for dedicated
// invocation sessions.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	var out Session
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create session: empty id in response")
	}
	return &out, nil
}

// Prompt sends a text prompt to a session and waits for the full response.
// The caller controls the deadline through ctx.
func (c *Client) Prompt(ctx context.Context, sessionID, text string) (*PromptResponse, error) {
	body := map[string]any{
		"parts": []Part{{Type: "text", Text: text}},
	}
	var out PromptResponse
	if err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/message", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractText concatenates the user-visible text parts of a response: parts
// of type "text" whose Ignored flag is unset, joined with newlines, outer
// whitespace trimmed.
func ExtractText(resp *PromptResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, p := range resp.Parts {
		if p.Type == "text" && !p.Ignored {
			parts = append(parts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
