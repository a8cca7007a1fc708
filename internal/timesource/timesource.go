package timesource

import (
	"time"

	"github.com/benbjohnson/clock"

	"focusquest/internal/domain"
)

// Source derives timer readings from server timestamps. Every reading is
// recomputed from the original timestamp, so a view that stopped refreshing
// (backgrounded, navigated away) is correct again on its next read.
type Source struct {
	clock clock.Clock
}

func New(c clock.Clock) Source {
	if c == nil {
		c = clock.New()
	}
	return Source{clock: c}
}

// System returns a Source backed by the wall clock.
func System() Source { return New(clock.New()) }

func (s Source) Clock() clock.Clock {
	if s.clock == nil {
		return clock.New()
	}
	return s.clock
}

func (s Source) Now() time.Time { return s.Clock().Now() }

// ElapsedSeconds is floor((now - startedAt) / 1s). A start time in the future
// (client clock behind the server) reads as zero.
func (s Source) ElapsedSeconds(startedAt time.Time) int64 {
	return wholeSeconds(s.Now().Sub(startedAt))
}

// ActiveSeconds is the running time of a session minus accumulated pauses.
// While paused the reading is frozen at PausedAt.
func (s Source) ActiveSeconds(sess domain.Session) int64 {
	end := s.Now()
	if sess.Status == domain.StatusPaused && sess.PausedAt != nil {
		end = *sess.PausedAt
	}
	active := wholeSeconds(end.Sub(sess.StartedAt)) - int64(sess.TotalPauseSeconds)
	if active < 0 {
		return 0
	}
	return active
}

// RemainingSeconds counts down from the planned duration, stopping at zero.
func (s Source) RemainingSeconds(sess domain.Session) int64 {
	left := int64(sess.DurationMinutes)*60 - s.ActiveSeconds(sess)
	if left < 0 {
		return 0
	}
	return left
}

// Overdue reports whether the planned duration has fully elapsed.
func (s Source) Overdue(sess domain.Session) bool {
	return sess.DurationMinutes > 0 && s.RemainingSeconds(sess) == 0
}

func wholeSeconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
