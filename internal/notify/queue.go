// Package notify holds progression toasts until they have been shown.
//
// Only the head of the queue is visible. It leaves the queue when the user
// dismisses it or when the auto-dismiss timer fires; the timer only runs while
// no blocking overlay is open, and every time the last overlay closes the head
// gets a fresh full interval.
package notify

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"focusquest/internal/domain"
	"focusquest/internal/logging"
	"focusquest/internal/observe"
)

const DefaultAutoDismiss = 2500 * time.Millisecond

// State is what subscribers receive after every change.
type State struct {
	Current *domain.ProgressionEvent `json:"current,omitempty"`
	Pending int                      `json:"pending"`
}

type Options struct {
	Clock       clock.Clock
	AutoDismiss time.Duration
	Logger      *zap.Logger
}

type Queue struct {
	pub      sync.Mutex // orders changes with their notifications
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	log      *zap.Logger
	overlays *Overlays
	unsub    func()

	items []domain.ProgressionEvent
	timer *clock.Timer
	gen   uint64

	hub observe.Hub[State]
}

// New creates a queue bound to overlays. Zero options fall back to the wall
// clock, DefaultAutoDismiss and a no-op logger.
func New(overlays *Overlays, opts Options) *Queue {
	if overlays == nil {
		overlays = NewOverlays()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.AutoDismiss <= 0 {
		opts.AutoDismiss = DefaultAutoDismiss
	}
	q := &Queue{
		clock:    opts.Clock,
		interval: opts.AutoDismiss,
		log:      logging.OrNop(opts.Logger),
		overlays: overlays,
	}
	q.unsub = overlays.Subscribe(q.onOverlay)
	return q
}

func (q *Queue) Overlays() *Overlays { return q.overlays }

// Enqueue appends events in order. Nothing already queued is replaced.
func (q *Queue) Enqueue(events ...domain.ProgressionEvent) {
	if len(events) == 0 {
		return
	}
	q.pub.Lock()
	defer q.pub.Unlock()
	q.mu.Lock()
	wasEmpty := len(q.items) == 0
	q.items = append(q.items, events...)
	if wasEmpty {
		q.showLocked()
	}
	q.mu.Unlock()
	q.publish()
}

// Current is the toast on screen, if any.
func (q *Queue) Current() (domain.ProgressionEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.ProgressionEvent{}, false
	}
	return q.items[0], true
}

// Pending counts the events waiting behind the current one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return max(len(q.items)-1, 0)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queue, head first.
func (q *Queue) Items() []domain.ProgressionEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.ProgressionEvent(nil), q.items...)
}

// DismissCurrent removes the head and shows the next event.
func (q *Queue) DismissCurrent() (domain.ProgressionEvent, bool) {
	q.pub.Lock()
	defer q.pub.Unlock()
	q.mu.Lock()
	ev, ok := q.popLocked()
	q.mu.Unlock()
	if ok {
		q.log.Debug("toast dismissed", zap.String("event_id", ev.ID))
		q.publish()
	}
	return ev, ok
}

// Drain empties the queue and returns everything in FIFO order.
func (q *Queue) Drain() []domain.ProgressionEvent {
	q.pub.Lock()
	defer q.pub.Unlock()
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.stopLocked()
	q.mu.Unlock()
	if len(out) > 0 {
		q.publish()
	}
	return out
}

// Reset drops every queued event.
func (q *Queue) Reset() { q.Drain() }

// Close stops the timer and detaches from the overlay counter.
func (q *Queue) Close() {
	q.mu.Lock()
	q.stopLocked()
	q.mu.Unlock()
	q.unsub()
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := State{Pending: max(len(q.items)-1, 0)}
	if len(q.items) > 0 {
		head := q.items[0]
		st.Current = &head
	}
	return st
}

// Subscribe registers fn for state changes. fn must not modify the queue.
func (q *Queue) Subscribe(fn func(State)) func() {
	return q.hub.Subscribe(fn)
}

func (q *Queue) publish() { q.hub.Publish(q.State()) }

// onOverlay follows the counter itself rather than the edge it was handed.
func (q *Queue) onOverlay(bool) {
	q.mu.Lock()
	if q.overlays.Blocking() {
		q.stopLocked()
	} else {
		q.armLocked()
	}
	q.mu.Unlock()
}

func (q *Queue) popLocked() (domain.ProgressionEvent, bool) {
	if len(q.items) == 0 {
		return domain.ProgressionEvent{}, false
	}
	ev := q.items[0]
	q.items[0] = domain.ProgressionEvent{}
	q.items = q.items[1:]
	q.showLocked()
	return ev, true
}

func (q *Queue) showLocked() {
	if len(q.items) == 0 {
		q.stopLocked()
		return
	}
	q.log.Debug("toast shown",
		zap.String("event_id", q.items[0].ID),
		zap.String("target", string(q.items[0].Target)),
		zap.Int("amount", q.items[0].Amount),
	)
	q.armLocked()
}

// armLocked starts a fresh countdown for the head. Timers from earlier
// generations are ignored when they fire.
func (q *Queue) armLocked() {
	q.stopLocked()
	if len(q.items) == 0 || q.overlays.Blocking() {
		return
	}
	gen := q.gen
	q.timer = q.clock.AfterFunc(q.interval, func() { q.expire(gen) })
}

func (q *Queue) stopLocked() {
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) expire(gen uint64) {
	q.pub.Lock()
	defer q.pub.Unlock()
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	ev, ok := q.popLocked()
	q.mu.Unlock()
	if ok {
		q.log.Debug("toast expired", zap.String("event_id", ev.ID))
		q.publish()
	}
}
