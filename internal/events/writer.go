// Package events appends lifecycle transitions and awards to the local
// activity journal.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SessionStarted     = "session.started"
	SessionPaused      = "session.paused"
	SessionResumed     = "session.resumed"
	SessionCompleted   = "session.completed"
	SessionCancelled   = "session.cancelled"
	SessionConflict    = "session.conflict"
	SessionsReconciled = "sessions.reconciled"
	XPAwarded          = "xp.awarded"
	PlayerRefreshed    = "player.refreshed"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one journal row through ex, which may be the database or an
// open transaction.
func (w Writer) Append(ctx context.Context, ex Execer, evtType string, sessionID, taskID *int64, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO journal(ts,type,session_id,task_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullableID(sessionID), nullableID(taskID), string(data))
	return err
}

// Record appends outside any transaction.
func (w Writer) Record(ctx context.Context, evtType string, sessionID, taskID *int64, payload EventPayload) error {
	if w.DB == nil {
		return fmt.Errorf("journal writer has no database")
	}
	return w.Append(ctx, w.DB, evtType, sessionID, taskID, payload)
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
