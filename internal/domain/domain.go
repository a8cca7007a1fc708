package domain

import "time"

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

// Live reports whether a session in this status still occupies a timer slot.
func (s SessionStatus) Live() bool {
	return s == StatusActive || s == StatusPaused
}

type Session struct {
	ID                    int64         `json:"id"`
	TaskID                *int64        `json:"task_id,omitempty"`
	SubtaskID             *int64        `json:"subtask_id,omitempty"`
	DurationMinutes       int           `json:"duration_minutes"`
	Status                SessionStatus `json:"status" enum:"active,paused,completed,cancelled"`
	StartedAt             time.Time     `json:"started_at" format:"date-time"`
	PausedAt              *time.Time    `json:"paused_at,omitempty" format:"date-time"`
	TotalPauseSeconds     int           `json:"total_pause_seconds"`
	ActualDurationMinutes *int          `json:"actual_duration_minutes,omitempty"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty" format:"date-time"`
}

func (s Session) Live() bool { return s.Status.Live() }

// HasTask reports whether the session is bound to taskID.
func (s Session) HasTask(taskID int64) bool {
	return s.TaskID != nil && *s.TaskID == taskID
}

type ProgressionTarget string

const (
	TargetPlayer    ProgressionTarget = "player"
	TargetCompanion ProgressionTarget = "companion"
)

// ProgressionEvent is one XP award waiting to be shown as a toast.
// For player events CurrentXP is the cumulative total before the award.
// For companion events CardXP is level-relative and already includes the award.
type ProgressionEvent struct {
	ID            string            `json:"id"`
	Target        ProgressionTarget `json:"target" enum:"player,companion"`
	Amount        int               `json:"amount"`
	CurrentXP     int               `json:"current_xp,omitempty"`
	CardXP        int               `json:"card_xp,omitempty"`
	CardXPForNext int               `json:"card_xp_for_next,omitempty"`
	Level         int               `json:"level"`
	LevelUp       bool              `json:"level_up"`
	CardName      string            `json:"card_name,omitempty"`
	CardEmoji     string            `json:"card_emoji,omitempty"`
	Source        string            `json:"source,omitempty"`
	FromPercent   float64           `json:"from_percent"`
	ToPercent     float64           `json:"to_percent"`
	CreatedAt     time.Time         `json:"created_at" format:"date-time"`
}

type CompanionAward struct {
	CardID        int64  `json:"card_id"`
	Name          string `json:"name"`
	Emoji         string `json:"emoji,omitempty"`
	XPEarned      int    `json:"xp_earned"`
	CardXP        int    `json:"card_xp"`
	CardXPForNext int    `json:"card_xp_for_next"`
	Level         int    `json:"level"`
	LevelUp       bool   `json:"level_up"`
}

// Award is the XP part of a completion response.
type Award struct {
	XPEarned  int             `json:"xp_earned"`
	LevelUp   bool            `json:"level_up"`
	NewLevel  int             `json:"new_level,omitempty"`
	Companion *CompanionAward `json:"companion,omitempty"`
}

func (a Award) Empty() bool {
	return a.XPEarned <= 0 && a.Companion == nil
}

type PlayerStats struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	XP       int    `json:"xp"`
	Level    int    `json:"level"`
}

type JournalEntry struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	SessionID *int64 `json:"session_id,omitempty"`
	TaskID    *int64 `json:"task_id,omitempty"`
	Payload   string `json:"payload_json"`
}
