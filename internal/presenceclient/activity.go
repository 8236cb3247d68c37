package presenceclient

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// InputKind is a user input that counts as activity
type InputKind string

const (
	InputPointer  InputKind = "pointer"
	InputKeyboard InputKind = "keyboard"
	InputScroll   InputKind = "scroll"
	InputTouch    InputKind = "touch"
	InputFocus    InputKind = "focus"
)

// IsValid reports whether k qualifies as activity
func (k InputKind) IsValid() bool {
	switch k {
	case InputPointer, InputKeyboard, InputScroll, InputTouch, InputFocus:
		return true
	}
	return false
}

// ActivityDetector derives active/idle from input events. It becomes idle once no
// input arrives within the idle threshold; only Touch makes it active again.
type ActivityDetector struct {
	clock quartz.Clock
	idle  time.Duration

	mu        sync.Mutex
	active    bool
	lastInput time.Time
	timer     *quartz.Timer
	listeners map[int]func(active bool)
	nextID    int
	closed    bool
}

// NewActivityDetector creates a detector that starts active at the current clock time
func NewActivityDetector(clock quartz.Clock, idleThreshold time.Duration) *ActivityDetector {
	d := &ActivityDetector{
		clock:     clock,
		idle:      idleThreshold,
		active:    true,
		lastInput: clock.Now(),
		listeners: make(map[int]func(bool)),
	}
	d.timer = clock.AfterFunc(idleThreshold, d.expire, "activity", "idle")
	return d
}

// Touch records a qualifying input. Unknown kinds are ignored.
func (d *ActivityDetector) Touch(kind InputKind) {
	if !kind.IsValid() {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.lastInput = d.clock.Now()
	wasActive := d.active
	d.active = true
	d.timer.Reset(d.idle, "activity", "idle")
	listeners := d.snapshotListeners()
	d.mu.Unlock()

	if !wasActive {
		notify(listeners, true)
	}
}

func (d *ActivityDetector) expire() {
	d.mu.Lock()
	if d.closed || !d.active || d.clock.Since(d.lastInput) < d.idle {
		d.mu.Unlock()
		return
	}
	d.active = false
	listeners := d.snapshotListeners()
	d.mu.Unlock()

	notify(listeners, false)
}

// IsActive reports whether input arrived within the idle threshold
func (d *ActivityDetector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// LastActiveAt returns the time of the last qualifying input
func (d *ActivityDetector) LastActiveAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastInput
}

// Subscribe registers fn for active/idle transitions and returns a func that removes it.
// fn runs on the goroutine that caused the transition and must not block.
func (d *ActivityDetector) Subscribe(fn func(active bool)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// Close stops the idle timer and drops all listeners
func (d *ActivityDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.timer.Stop("activity", "idle")
	d.listeners = map[int]func(bool){}
}

func (d *ActivityDetector) snapshotListeners() []func(bool) {
	out := make([]func(bool), 0, len(d.listeners))
	for _, fn := range d.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(bool), active bool) {
	for _, fn := range listeners {
		fn(active)
	}
}
