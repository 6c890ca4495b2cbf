package ui

import (
	"sync"
	"time"
)

// DefaultTypingIdle is how long the composer may sit quiet before the rest
// of the room is told the user stopped typing.
const DefaultTypingIdle = 2 * time.Second

// Debouncer collapses rapid events into one trailing call.
type Debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
}

// NewDebouncer creates a debouncer with the specified duration.
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{duration: duration}
}

// Debounce executes fn after the debounce duration has elapsed without any
// new calls. Rapid successive calls reset the timer.
func (d *Debouncer) Debounce(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// Cancel drops any pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// TypingNotifier turns a burst of keystrokes into at most one "started
// typing" signal, and one trailing "stopped typing" signal once the
// composer goes quiet.
type TypingNotifier struct {
	mu     sync.Mutex
	idle   *Debouncer
	active bool
}

// NewTypingNotifier creates a notifier that considers a burst over after
// idleAfter without keystrokes.
func NewTypingNotifier(idleAfter time.Duration) *TypingNotifier {
	if idleAfter <= 0 {
		idleAfter = DefaultTypingIdle
	}
	return &TypingNotifier{idle: NewDebouncer(idleAfter)}
}

// Touch records a keystroke. It returns true when this keystroke opens a new
// burst, meaning the caller should announce the user started typing. onIdle
// fires once input stays quiet for the idle window.
func (n *TypingNotifier) Touch(onIdle func()) (started bool) {
	n.mu.Lock()
	started = !n.active
	n.active = true
	n.mu.Unlock()

	n.idle.Debounce(func() {
		n.mu.Lock()
		n.active = false
		n.mu.Unlock()
		onIdle()
	})
	return started
}

// Stop closes the burst without firing onIdle. Used when a message is sent,
// since sending already tells everyone the user stopped typing.
func (n *TypingNotifier) Stop() {
	n.idle.Cancel()
	n.mu.Lock()
	n.active = false
	n.mu.Unlock()
}

// Active reports whether a typing burst is open.
func (n *TypingNotifier) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}
