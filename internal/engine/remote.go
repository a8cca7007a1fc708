package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"focusquest/internal/domain"
	focusquestsdk "focusquest/sdk/go"
)

// Remote adapts the HTTP client to SessionAPI.
type Remote struct {
	Client *focusquestsdk.Client
}

func NewRemote(c *focusquestsdk.Client) Remote { return Remote{Client: c} }

func (r Remote) StartSession(ctx context.Context, opts StartOptions) (domain.Session, error) {
	s, err := r.Client.StartSession(ctx, focusquestsdk.StartSessionRequest{
		TaskID:          opts.TaskID,
		SubtaskID:       opts.SubtaskID,
		DurationMinutes: opts.DurationMinutes,
	})
	if err != nil {
		return domain.Session{}, sessionError(err)
	}
	return toSession(s), nil
}

func (r Remote) PauseSession(ctx context.Context, id int64) (domain.Session, error) {
	s, err := r.Client.PauseSession(ctx, id)
	if err != nil {
		return domain.Session{}, sessionError(err)
	}
	return toSession(s), nil
}

func (r Remote) ResumeSession(ctx context.Context, id int64) (domain.Session, error) {
	s, err := r.Client.ResumeSession(ctx, id)
	if err != nil {
		return domain.Session{}, sessionError(err)
	}
	return toSession(s), nil
}

func (r Remote) CompleteSession(ctx context.Context, id int64, completeSubtask bool) (CompletedSession, error) {
	resp, err := r.Client.CompleteSession(ctx, id, completeSubtask)
	if err != nil {
		return CompletedSession{}, sessionError(err)
	}
	return CompletedSession{Session: toSession(resp.Session), Award: toAward(resp.Award)}, nil
}

func (r Remote) CancelSession(ctx context.Context, id int64) error {
	if err := r.Client.CancelSession(ctx, id); err != nil {
		return sessionError(err)
	}
	return nil
}

func (r Remote) ActiveSessions(ctx context.Context) ([]domain.Session, error) {
	list, err := r.Client.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	return toSessions(list), nil
}

func (r Remote) SessionHistory(ctx context.Context, limit int) ([]domain.Session, error) {
	list, err := r.Client.SessionHistory(ctx, limit)
	if err != nil {
		return nil, err
	}
	return toSessions(list), nil
}

func (r Remote) Me(ctx context.Context) (domain.PlayerStats, error) {
	u, err := r.Client.Me(ctx)
	if err != nil {
		return domain.PlayerStats{}, err
	}
	return domain.PlayerStats{UserID: u.ID, Username: u.Username, XP: u.XP, Level: u.Level}, nil
}

func (r Remote) CompleteTask(ctx context.Context, id int64) (domain.Award, error) {
	a, err := r.Client.CompleteTask(ctx, id)
	if err != nil {
		return domain.Award{}, err
	}
	return toAward(a), nil
}

func (r Remote) CompleteSubtask(ctx context.Context, id int64) (domain.Award, error) {
	a, err := r.Client.CompleteSubtask(ctx, id)
	if err != nil {
		return domain.Award{}, err
	}
	return toAward(a), nil
}

func sessionError(err error) error {
	switch focusquestsdk.StatusCode(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func toSession(s focusquestsdk.Session) domain.Session {
	return domain.Session{
		ID:                    s.ID,
		TaskID:                s.TaskID,
		SubtaskID:             s.SubtaskID,
		DurationMinutes:       s.DurationMinutes,
		Status:                domain.SessionStatus(s.Status),
		StartedAt:             s.StartedAt.Time,
		PausedAt:              s.PausedAt.Ptr(),
		TotalPauseSeconds:     s.TotalPauseSeconds,
		ActualDurationMinutes: s.ActualDurationMinutes,
		CompletedAt:           s.CompletedAt.Ptr(),
	}
}

func toSessions(list []focusquestsdk.Session) []domain.Session {
	return lo.Map(list, func(s focusquestsdk.Session, _ int) domain.Session { return toSession(s) })
}

func toAward(a focusquestsdk.Award) domain.Award {
	out := domain.Award{XPEarned: a.XPEarned, LevelUp: a.LevelUp, NewLevel: a.NewLevel}
	if c := a.CompanionXP; c != nil {
		out.Companion = &domain.CompanionAward{
			CardID:        c.CardID,
			Name:          c.Name,
			Emoji:         c.Emoji,
			XPEarned:      c.XPEarned,
			CardXP:        c.CardXP,
			CardXPForNext: c.CardXPForNext,
			Level:         c.Level,
			LevelUp:       c.LevelUp,
		}
	}
	return out
}
