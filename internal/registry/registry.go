package registry

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"focusquest/internal/domain"
	"focusquest/internal/observe"
)

// Snapshot is what subscribers receive after every change.
type Snapshot struct {
	Sessions []domain.Session
	Current  *domain.Session
}

// Registry holds the sessions this client believes are live, keyed by id.
// It never stores a completed or cancelled session. Subscribers must not
// write to the registry from their callback.
type Registry struct {
	pub      sync.Mutex // orders writes with their notifications
	mu       sync.RWMutex
	sessions map[int64]domain.Session
	current  int64
	hub      observe.Hub[Snapshot]
}

func New() *Registry {
	return &Registry{sessions: map[int64]domain.Session{}}
}

// Upsert inserts or replaces by id. The first session stored becomes the
// Current one. A session that is no longer live is removed instead.
func (r *Registry) Upsert(s domain.Session) {
	if !s.Live() {
		r.Remove(s.ID)
		return
	}
	r.write(func() bool {
		r.sessions[s.ID] = s
		if r.current == 0 {
			r.current = s.ID
		}
		return true
	})
}

// Remove deletes a session. When it was the Current one, the remaining
// session with the lowest id takes its place.
func (r *Registry) Remove(id int64) bool {
	return r.write(func() bool {
		if _, ok := r.sessions[id]; !ok {
			return false
		}
		delete(r.sessions, id)
		if r.current == id {
			r.current = r.fallbackLocked()
		}
		return true
	})
}

// ReplaceAll swaps the whole table for the server's view.
func (r *Registry) ReplaceAll(sessions []domain.Session) {
	next := make(map[int64]domain.Session, len(sessions))
	for _, s := range sessions {
		if s.Live() {
			next[s.ID] = s
		}
	}
	r.write(func() bool {
		r.sessions = next
		if _, ok := next[r.current]; !ok {
			r.current = r.fallbackLocked()
		}
		return true
	})
}

func (r *Registry) Reset() {
	r.write(func() bool {
		r.sessions = map[int64]domain.Session{}
		r.current = 0
		return true
	})
}

func (r *Registry) Get(id int64) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Current is the single-session view kept for consumers that only know
// about one timer.
func (r *Registry) Current() (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[r.current]
	return s, ok
}

// FindByTaskID returns the live session bound to a task, if any.
func (r *Registry) FindByTaskID(taskID int64) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Find(r.sortedLocked(), func(s domain.Session) bool {
		return s.HasTask(taskID)
	})
}

// All returns the sessions ordered by id.
func (r *Registry) All() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Subscribe registers fn for change notifications and returns the
// unsubscribe func.
func (r *Registry) Subscribe(fn func(Snapshot)) func() {
	return r.hub.Subscribe(fn)
}

// write applies fn under the write lock and, when fn reports a change,
// publishes the snapshot it left behind. Notifications arrive in write order.
func (r *Registry) write(fn func() bool) bool {
	r.pub.Lock()
	defer r.pub.Unlock()
	r.mu.Lock()
	changed := fn()
	var snap Snapshot
	if changed {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()
	if changed {
		r.hub.Publish(snap)
	}
	return changed
}

func (r *Registry) snapshotLocked() Snapshot {
	snap := Snapshot{Sessions: r.sortedLocked()}
	if s, ok := r.sessions[r.current]; ok {
		snap.Current = &s
	}
	return snap
}

func (r *Registry) sortedLocked() []domain.Session {
	out := lo.Values(r.sessions)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) fallbackLocked() int64 {
	if len(r.sessions) == 0 {
		return 0
	}
	return lo.Min(lo.Keys(r.sessions))
}
