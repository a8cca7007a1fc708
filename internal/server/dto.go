package server

import (
	"encoding/json"

	"focusquest/internal/domain"
	"focusquest/internal/engine"
	"focusquest/internal/notify"
	"focusquest/internal/registry"
	"focusquest/internal/timesource"
)

// Request payloads

type StartSessionRequest struct {
	TaskID          *int64 `json:"task_id,omitempty"`
	SubtaskID       *int64 `json:"subtask_id,omitempty"`
	DurationMinutes int    `json:"duration_minutes" example:"25"`
}

type CompleteSessionRequest struct {
	CompleteSubtask bool `json:"complete_subtask"`
}

type FocusTaskRequest struct {
	DurationMinutes int `json:"duration_minutes" example:"25"`
}

type DevLoginRequest struct {
	Subject string `json:"subject" example:"local-user"`
}

// Response payloads

type ClockResponse struct {
	ElapsedSeconds   int64 `json:"elapsed_seconds"`
	ActiveSeconds    int64 `json:"active_seconds"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	Overdue          bool  `json:"overdue"`
}

type SessionResponse struct {
	Session domain.Session `json:"session"`
	Clock   ClockResponse  `json:"clock"`
}

type RegistryResponse struct {
	Sessions  []SessionResponse `json:"sessions"`
	CurrentID *int64            `json:"current_id,omitempty"`
}

type FocusTaskResponse struct {
	Action  string          `json:"action" enum:"started,resumed,running"`
	Session SessionResponse `json:"session"`
}

type CompleteSessionResponse struct {
	SessionID        int64                     `json:"session_id"`
	AlreadyCompleted bool                      `json:"already_completed"`
	XPEarned         int                       `json:"xp_earned"`
	LevelUp          bool                      `json:"level_up"`
	Events           []domain.ProgressionEvent `json:"events"`
}

type SyncResponse struct {
	Sessions int                 `json:"sessions"`
	Player   *domain.PlayerStats `json:"player,omitempty"`
}

type NotificationsResponse struct {
	Current *domain.ProgressionEvent `json:"current,omitempty"`
	Pending int                      `json:"pending"`
}

type OverlayResponse struct {
	Blocking bool `json:"blocking"`
	Count    int  `json:"count"`
}

type JournalEntryResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	SessionID *int64         `json:"session_id,omitempty"`
	TaskID    *int64         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

type paginatedJournal struct {
	Items      []JournalEntryResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func sessionResponse(ts timesource.Source, s domain.Session) SessionResponse {
	return SessionResponse{
		Session: s,
		Clock: ClockResponse{
			ElapsedSeconds:   ts.ElapsedSeconds(s.StartedAt),
			ActiveSeconds:    ts.ActiveSeconds(s),
			RemainingSeconds: ts.RemainingSeconds(s),
			Overdue:          ts.Overdue(s),
		},
	}
}

func registryResponse(ts timesource.Source, snap registry.Snapshot) RegistryResponse {
	resp := RegistryResponse{Sessions: make([]SessionResponse, 0, len(snap.Sessions))}
	for _, s := range snap.Sessions {
		resp.Sessions = append(resp.Sessions, sessionResponse(ts, s))
	}
	if snap.Current != nil {
		id := snap.Current.ID
		resp.CurrentID = &id
	}
	return resp
}

func completeResponse(out engine.CompleteOutcome) CompleteSessionResponse {
	return CompleteSessionResponse{
		SessionID:        out.SessionID,
		AlreadyCompleted: out.AlreadyCompleted,
		XPEarned:         out.Award.XPEarned,
		LevelUp:          out.Award.LevelUp,
		Events:           nonNilSlice(out.Events),
	}
}

func notificationsResponse(st notify.State) NotificationsResponse {
	return NotificationsResponse{Current: st.Current, Pending: st.Pending}
}

func overlayResponse(o *notify.Overlays) OverlayResponse {
	return OverlayResponse{Blocking: o.Blocking(), Count: o.Count()}
}

func journalEntryResponse(e domain.JournalEntry) JournalEntryResponse {
	return JournalEntryResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		SessionID: e.SessionID,
		TaskID:    e.TaskID,
		Payload:   decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
