package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"focusquest/internal/config"
	"focusquest/internal/domain"
	"focusquest/internal/events"
	"focusquest/internal/logging"
	"focusquest/internal/notify"
	"focusquest/internal/progression"
	"focusquest/internal/registry"
	"focusquest/internal/timesource"
)

var (
	ErrInvalidDuration = errors.New("invalid session duration")
	ErrSessionNotFound = errors.New("session not found")
	ErrConflict        = errors.New("session state conflict")
	ErrBusy            = errors.New("request already in flight")
)

// Award sources recorded on progression events.
const (
	SourceFocusSession = "focus_session"
	SourceTask         = "task"
	SourceSubtask      = "subtask"
)

// SessionAPI is the remote service the engine drives. Implementations report
// a 404 as ErrSessionNotFound and a 409 as ErrConflict (wrapped).
type SessionAPI interface {
	StartSession(ctx context.Context, opts StartOptions) (domain.Session, error)
	PauseSession(ctx context.Context, id int64) (domain.Session, error)
	ResumeSession(ctx context.Context, id int64) (domain.Session, error)
	CompleteSession(ctx context.Context, id int64, completeSubtask bool) (CompletedSession, error)
	CancelSession(ctx context.Context, id int64) error
	ActiveSessions(ctx context.Context) ([]domain.Session, error)
	SessionHistory(ctx context.Context, limit int) ([]domain.Session, error)
	Me(ctx context.Context) (domain.PlayerStats, error)
	CompleteTask(ctx context.Context, id int64) (domain.Award, error)
	CompleteSubtask(ctx context.Context, id int64) (domain.Award, error)
}

// Journal receives one record per transition. Failures are logged, never
// returned to the caller.
type Journal interface {
	Record(ctx context.Context, evtType string, sessionID, taskID *int64, payload events.EventPayload) error
}

// CompletedSession is the server's answer to a completion.
type CompletedSession struct {
	Session domain.Session
	Award   domain.Award
}

// StartOptions are parameters for starting a session.
type StartOptions struct {
	TaskID          *int64
	SubtaskID       *int64
	DurationMinutes int
}

// CompleteOutcome describes what a Complete call did.
type CompleteOutcome struct {
	SessionID        int64                     `json:"session_id"`
	Session          *domain.Session           `json:"session,omitempty"`
	Award            domain.Award              `json:"award"`
	Events           []domain.ProgressionEvent `json:"events"`
	AlreadyCompleted bool                      `json:"already_completed"`
}

// FocusAction says how FocusTask satisfied the request.
type FocusAction string

const (
	FocusStarted FocusAction = "started"
	FocusResumed FocusAction = "resumed"
	FocusRunning FocusAction = "running"
)

// Engine is the session lifecycle controller. The registry and queue are
// shared with the views; the engine is their only writer.
type Engine struct {
	API      SessionAPI
	Registry *registry.Registry
	Queue    *notify.Queue
	Journal  Journal
	Config   *config.Config
	Time     timesource.Source
	Log      *zap.Logger

	mu          sync.Mutex
	inflight    map[string]struct{}
	player      domain.PlayerStats
	playerKnown bool
}

func New(api SessionAPI, reg *registry.Registry, queue *notify.Queue, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		API:      api,
		Registry: reg,
		Queue:    queue,
		Config:   cfg,
		Time:     timesource.System(),
		Log:      zap.NewNop(),
	}
}

func (e *Engine) log() *zap.Logger { return logging.OrNop(e.Log) }

func (e *Engine) durationBounds() (int, int) {
	if e.Config == nil {
		d := config.Default()
		return d.Sessions.MinMinutes, d.Sessions.MaxMinutes
	}
	return e.Config.Sessions.MinMinutes, e.Config.Sessions.MaxMinutes
}

// Start asks the server for a new session and stores it as active under the
// server's id and start time. On failure the registry is left untouched.
func (e *Engine) Start(ctx context.Context, opts StartOptions) (domain.Session, error) {
	if opts.TaskID != nil {
		release, err := e.acquire(taskKey(*opts.TaskID))
		if err != nil {
			return domain.Session{}, err
		}
		defer release()
	}
	return e.start(ctx, opts)
}

func (e *Engine) start(ctx context.Context, opts StartOptions) (domain.Session, error) {
	minMinutes, maxMinutes := e.durationBounds()
	if opts.DurationMinutes < minMinutes || opts.DurationMinutes > maxMinutes {
		return domain.Session{}, fmt.Errorf("%w: %d minutes, want %d..%d", ErrInvalidDuration, opts.DurationMinutes, minMinutes, maxMinutes)
	}
	sess, err := e.API.StartSession(ctx, opts)
	if err != nil {
		return domain.Session{}, fmt.Errorf("start session: %w", err)
	}
	sess.Status = domain.StatusActive
	if sess.TaskID == nil {
		sess.TaskID = opts.TaskID
	}
	if sess.SubtaskID == nil {
		sess.SubtaskID = opts.SubtaskID
	}
	e.Registry.Upsert(sess)
	e.log().Debug("session started",
		zap.Int64("session_id", sess.ID),
		zap.Int("duration_minutes", sess.DurationMinutes),
	)
	e.record(ctx, events.SessionStarted, &sess, events.EventPayload{"duration_minutes": sess.DurationMinutes})
	return sess, nil
}

// Pause stops the clock of a running session. The server's answer replaces
// the local copy.
func (e *Engine) Pause(ctx context.Context, id int64) (domain.Session, error) {
	return e.transition(ctx, id, "pause", events.SessionPaused, e.API.PauseSession)
}

// Resume restarts a paused session.
func (e *Engine) Resume(ctx context.Context, id int64) (domain.Session, error) {
	return e.transition(ctx, id, "resume", events.SessionResumed, e.API.ResumeSession)
}

func (e *Engine) transition(ctx context.Context, id int64, verb, evtType string, call func(context.Context, int64) (domain.Session, error)) (domain.Session, error) {
	release, err := e.acquire(sessionKey(id))
	if err != nil {
		return domain.Session{}, err
	}
	defer release()
	return e.applyTransition(ctx, id, verb, evtType, call)
}

func (e *Engine) applyTransition(ctx context.Context, id int64, verb, evtType string, call func(context.Context, int64) (domain.Session, error)) (domain.Session, error) {
	sess, err := call(ctx, id)
	switch {
	case errors.Is(err, ErrConflict):
		e.log().Info("session state conflict, resyncing", zap.Int64("session_id", id), zap.String("action", verb))
		e.record(ctx, events.SessionConflict, &domain.Session{ID: id}, events.EventPayload{"action": verb})
		if rerr := e.reconcile(ctx); rerr != nil {
			e.log().Warn("resync after conflict failed", zap.Error(rerr))
		}
		return domain.Session{}, fmt.Errorf("%s session %d: %w", verb, id, err)
	case errors.Is(err, ErrSessionNotFound):
		e.Registry.Remove(id)
		return domain.Session{}, fmt.Errorf("%s session %d: %w", verb, id, err)
	case err != nil:
		return domain.Session{}, fmt.Errorf("%s session %d: %w", verb, id, err)
	}
	e.Registry.Upsert(sess)
	e.log().Debug("session "+verb+"d", zap.Int64("session_id", id), zap.String("status", string(sess.Status)))
	e.record(ctx, evtType, &sess, events.EventPayload{
		"status":              sess.Status,
		"total_pause_seconds": sess.TotalPauseSeconds,
	})
	return sess, nil
}

// Complete finishes a session and queues its XP toasts: the player event
// first, then the companion event. A session the server no longer lists as
// live is dropped locally and reported with AlreadyCompleted. One the server
// still holds as active or paused is kept and reported as ErrConflict.
func (e *Engine) Complete(ctx context.Context, id int64, completeSubtask bool) (CompleteOutcome, error) {
	release, err := e.acquire(sessionKey(id))
	if err != nil {
		return CompleteOutcome{}, err
	}
	defer release()

	out := CompleteOutcome{SessionID: id}
	resp, err := e.API.CompleteSession(ctx, id, completeSubtask)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		e.Registry.Remove(id)
		e.log().Debug("session already ended", zap.Int64("session_id", id))
		out.AlreadyCompleted = true
		return out, nil
	case errors.Is(err, ErrConflict):
		e.log().Info("session state conflict, resyncing", zap.Int64("session_id", id), zap.String("action", "complete"))
		e.record(ctx, events.SessionConflict, &domain.Session{ID: id}, events.EventPayload{"action": "complete"})
		if rerr := e.reconcile(ctx); rerr != nil {
			e.log().Warn("resync after conflict failed", zap.Error(rerr))
			return out, fmt.Errorf("complete session %d: %w", id, err)
		}
		if _, live := e.Registry.Get(id); live {
			return out, fmt.Errorf("complete session %d: %w", id, err)
		}
		out.AlreadyCompleted = true
		return out, nil
	case err != nil:
		return out, fmt.Errorf("complete session %d: %w", id, err)
	}
	if resp.Session.Status != domain.StatusCompleted {
		if resp.Session.Live() {
			if resp.Session.ID == 0 {
				resp.Session.ID = id
			}
			e.Registry.Upsert(resp.Session)
			return out, fmt.Errorf("complete session %d: server reports %s: %w", id, resp.Session.Status, ErrConflict)
		}
		e.Registry.Remove(id)
		out.AlreadyCompleted = true
		return out, nil
	}
	e.Registry.Remove(id)
	sess := resp.Session
	out.Session = &sess
	out.Award = resp.Award
	e.record(ctx, events.SessionCompleted, &sess, events.EventPayload{
		"actual_duration_minutes": sess.ActualDurationMinutes,
		"xp_earned":               resp.Award.XPEarned,
	})
	out.Events = e.ApplyAward(ctx, resp.Award, SourceFocusSession)
	e.log().Debug("session completed", zap.Int64("session_id", id), zap.Int("events", len(out.Events)))
	return out, nil
}

// Cancel abandons a session. It never produces XP. Cancelling a session the
// server already ended succeeds.
func (e *Engine) Cancel(ctx context.Context, id int64) error {
	release, err := e.acquire(sessionKey(id))
	if err != nil {
		return err
	}
	defer release()

	sess, _ := e.Registry.Get(id)
	err = e.API.CancelSession(ctx, id)
	if err != nil && !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("cancel session %d: %w", id, err)
	}
	e.Registry.Remove(id)
	sess.ID = id
	e.log().Debug("session cancelled", zap.Int64("session_id", id))
	e.record(ctx, events.SessionCancelled, &sess, nil)
	return nil
}

// Reconcile replaces the registry with the server's live sessions.
func (e *Engine) Reconcile(ctx context.Context) error {
	return e.reconcile(ctx)
}

func (e *Engine) reconcile(ctx context.Context) error {
	sessions, err := e.API.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile sessions: %w", err)
	}
	e.Registry.ReplaceAll(sessions)
	e.log().Debug("sessions reconciled", zap.Int("count", e.Registry.Len()))
	e.record(ctx, events.SessionsReconciled, nil, events.EventPayload{"count": e.Registry.Len()})
	return nil
}

// History lists recently ended sessions straight from the server.
func (e *Engine) History(ctx context.Context, limit int) ([]domain.Session, error) {
	sessions, err := e.API.SessionHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	return sessions, nil
}

// FocusTask puts a timer on a task: a paused one is resumed, a running one is
// returned as is, otherwise a new session of minutes is started.
func (e *Engine) FocusTask(ctx context.Context, taskID int64, minutes int) (domain.Session, FocusAction, error) {
	release, err := e.acquire(taskKey(taskID))
	if err != nil {
		return domain.Session{}, "", err
	}
	defer release()

	if sess, ok := e.Registry.FindByTaskID(taskID); ok {
		if sess.Status == domain.StatusActive {
			return sess, FocusRunning, nil
		}
		releaseSession, err := e.acquire(sessionKey(sess.ID))
		if err != nil {
			return domain.Session{}, "", err
		}
		defer releaseSession()
		resumed, err := e.applyTransition(ctx, sess.ID, "resume", events.SessionResumed, e.API.ResumeSession)
		return resumed, FocusResumed, err
	}
	sess, err := e.start(ctx, StartOptions{TaskID: &taskID, DurationMinutes: minutes})
	return sess, FocusStarted, err
}

// CompleteTask marks a task done and queues the XP it earned.
func (e *Engine) CompleteTask(ctx context.Context, taskID int64) ([]domain.ProgressionEvent, error) {
	award, err := e.API.CompleteTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("complete task %d: %w", taskID, err)
	}
	return e.ApplyAward(ctx, award, SourceTask), nil
}

// CompleteSubtask marks a subtask done and queues the XP it earned.
func (e *Engine) CompleteSubtask(ctx context.Context, subtaskID int64) ([]domain.ProgressionEvent, error) {
	award, err := e.API.CompleteSubtask(ctx, subtaskID)
	if err != nil {
		return nil, fmt.Errorf("complete subtask %d: %w", subtaskID, err)
	}
	return e.ApplyAward(ctx, award, SourceSubtask), nil
}

// ApplyAward turns an award into toasts against the player's totals before
// the award, enqueues them in order and advances the totals. Until the
// player is loaded the totals stay unknown and every player toast is capped.
func (e *Engine) ApplyAward(ctx context.Context, award domain.Award, source string) []domain.ProgressionEvent {
	if award.Empty() {
		return nil
	}
	e.mu.Lock()
	before := e.player
	if e.playerKnown {
		e.player = progression.Advance(before, award)
	}
	e.mu.Unlock()

	evs := progression.Events(award, before, source, e.Time.Now())
	if e.Queue != nil {
		e.Queue.Enqueue(evs...)
	}
	for _, ev := range evs {
		e.record(ctx, events.XPAwarded, nil, events.EventPayload{
			"event_id": ev.ID,
			"target":   ev.Target,
			"amount":   ev.Amount,
			"level_up": ev.LevelUp,
			"source":   source,
		})
	}
	return evs
}

// RefreshPlayer reloads the player's totals from the server.
func (e *Engine) RefreshPlayer(ctx context.Context) (domain.PlayerStats, error) {
	stats, err := e.API.Me(ctx)
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("load player: %w", err)
	}
	e.SetPlayer(stats)
	e.record(ctx, events.PlayerRefreshed, nil, events.EventPayload{"xp": stats.XP, "level": stats.Level})
	return stats, nil
}

// Player returns the last known totals and whether they were ever loaded.
func (e *Engine) Player() (domain.PlayerStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.player, e.playerKnown
}

func (e *Engine) SetPlayer(stats domain.PlayerStats) {
	e.mu.Lock()
	e.player = stats
	e.playerKnown = true
	e.mu.Unlock()
}

// Reset forgets the player and clears the shared stores.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.player = domain.PlayerStats{}
	e.playerKnown = false
	e.mu.Unlock()
	e.Registry.Reset()
	if e.Queue != nil {
		e.Queue.Reset()
	}
}

func (e *Engine) acquire(key string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight == nil {
		e.inflight = map[string]struct{}{}
	}
	if _, busy := e.inflight[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, ErrBusy)
	}
	e.inflight[key] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}, nil
}

func (e *Engine) record(ctx context.Context, evtType string, sess *domain.Session, payload events.EventPayload) {
	if e.Journal == nil {
		return
	}
	var sessionID, taskID *int64
	if sess != nil {
		id := sess.ID
		sessionID = &id
		taskID = sess.TaskID
	}
	if err := e.Journal.Record(ctx, evtType, sessionID, taskID, payload); err != nil {
		e.log().Warn("journal write failed", zap.String("type", evtType), zap.Error(err))
	}
}

func sessionKey(id int64) string { return fmt.Sprintf("session %d", id) }

func taskKey(id int64) string { return fmt.Sprintf("task %d", id) }
