package notify

import (
	"sync"

	"focusquest/internal/observe"
)

// Overlays counts open blocking overlays (modals, sheets, help screens).
// Any number of owners may hold one open at the same time.
type Overlays struct {
	pub   sync.Mutex // orders edges with their notifications
	mu    sync.Mutex
	count int
	hub   observe.Hub[bool]
}

func NewOverlays() *Overlays { return &Overlays{} }

// Open registers an overlay and returns the func that closes it. Calling the
// returned func more than once has no further effect.
func (o *Overlays) Open() func() {
	o.change(1)
	var once sync.Once
	return func() { once.Do(o.Close) }
}

// Close releases one overlay. The counter never goes below zero.
func (o *Overlays) Close() { o.change(-1) }

func (o *Overlays) Blocking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count > 0
}

func (o *Overlays) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// Reset closes every overlay.
func (o *Overlays) Reset() {
	o.pub.Lock()
	defer o.pub.Unlock()
	o.mu.Lock()
	was := o.count > 0
	o.count = 0
	o.mu.Unlock()
	if was {
		o.hub.Publish(false)
	}
}

// Subscribe is called with the new blocking state on 0->1 and 1->0 edges only,
// in the order the edges happened. fn must not open or close overlays.
func (o *Overlays) Subscribe(fn func(blocking bool)) func() {
	return o.hub.Subscribe(fn)
}

func (o *Overlays) change(delta int) {
	o.pub.Lock()
	defer o.pub.Unlock()
	o.mu.Lock()
	before := o.count > 0
	o.count += delta
	if o.count < 0 {
		o.count = 0
	}
	after := o.count > 0
	o.mu.Unlock()
	if before != after {
		o.hub.Publish(after)
	}
}
