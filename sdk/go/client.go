package focusquestsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal FocusQuest HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	InitData    string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Session is the API focus-session model.
type Session struct {
	ID                    int64  `json:"id"`
	TaskID                *int64 `json:"task_id"`
	SubtaskID             *int64 `json:"subtask_id"`
	DurationMinutes       int    `json:"duration_minutes"`
	Status                string `json:"status"`
	StartedAt             Time   `json:"started_at"`
	PausedAt              *Time  `json:"paused_at,omitempty"`
	TotalPauseSeconds     int    `json:"total_pause_seconds"`
	ActualDurationMinutes *int   `json:"actual_duration_minutes,omitempty"`
	CompletedAt           *Time  `json:"completed_at,omitempty"`
}

// CompanionXP is the card part of an award.
type CompanionXP struct {
	CardID        int64  `json:"card_id"`
	Name          string `json:"card_name"`
	Emoji         string `json:"card_emoji"`
	XPEarned      int    `json:"xp_earned"`
	CardXP        int    `json:"card_xp"`
	CardXPForNext int    `json:"card_xp_for_next"`
	Level         int    `json:"card_level"`
	LevelUp       bool   `json:"level_up"`
}

// Award is the XP block returned by every completion endpoint.
type Award struct {
	XPEarned    int          `json:"xp_earned,omitempty"`
	LevelUp     bool         `json:"level_up,omitempty"`
	NewLevel    int          `json:"new_level,omitempty"`
	CompanionXP *CompanionXP `json:"companion_xp,omitempty"`
}

// CompleteSessionResponse is the completed session plus its award.
type CompleteSessionResponse struct {
	Session Session `json:"session"`
	Award
}

// User is the authenticated player.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	XP       int    `json:"xp"`
	Level    int    `json:"level"`
}

// StartSessionRequest is the body of a session start.
type StartSessionRequest struct {
	TaskID          *int64 `json:"task_id,omitempty"`
	SubtaskID       *int64 `json:"subtask_id,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// StartSession starts a focus session.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/focus-sessions", req, &resp)
	return resp, err
}

// PauseSession pauses a running session.
func (c *Client) PauseSession(ctx context.Context, id int64) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "pause"), nil, &resp)
	return resp, err
}

// ResumeSession resumes a paused session.
func (c *Client) ResumeSession(ctx context.Context, id int64) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "resume"), nil, &resp)
	return resp, err
}

// CompleteSession finishes a session. completeSubtask also completes the
// bound subtask.
func (c *Client) CompleteSession(ctx context.Context, id int64, completeSubtask bool) (CompleteSessionResponse, error) {
	body := map[string]any{"complete_subtask": completeSubtask}
	var resp CompleteSessionResponse
	err := c.do(ctx, http.MethodPost, sessionPath(id, "complete"), body, &resp)
	return resp, err
}

// CancelSession abandons a session.
func (c *Client) CancelSession(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, sessionPath(id, "cancel"), nil, nil)
}

// ActiveSessions lists the caller's active and paused sessions.
func (c *Client) ActiveSessions(ctx context.Context) ([]Session, error) {
	var resp []Session
	err := c.do(ctx, http.MethodGet, "v1/focus-sessions/active", nil, &resp)
	return resp, err
}

// SessionHistory lists recently ended sessions.
func (c *Client) SessionHistory(ctx context.Context, limit int) ([]Session, error) {
	endpoint := "v1/focus-sessions/history"
	if limit > 0 {
		endpoint += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var resp []Session
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/users/me", nil, &resp)
	return resp, err
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(ctx context.Context, id int64) (Award, error) {
	var resp Award
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/tasks/%d/complete", id), nil, &resp)
	return resp, err
}

// CompleteSubtask marks a subtask done.
func (c *Client) CompleteSubtask(ctx context.Context, id int64) (Award, error) {
	var resp Award
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/subtasks/%d/complete", id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
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
	case c.InitData != "":
		req.Header.Set("X-Telegram-Init-Data", c.InitData)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

func sessionPath(id int64, action string) string {
	return fmt.Sprintf("v1/focus-sessions/%d/%s", id, action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
