package watch

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer collects events until interval has passed without a new one.
// It then reports the path of the last event once and dispatches every
// action queued during the burst, each on its own goroutine.
type Debouncer struct {
	interval time.Duration
	onFire   func(path string)

	mu       sync.Mutex
	timer    *time.Timer
	lastPath string
	pending  []func()
}

// NewDebouncer creates a debouncer that waits for interval of quiet before
// calling onFire with the path of the last event. onFire may be nil.
func NewDebouncer(interval time.Duration, onFire func(path string)) *Debouncer {
	return &Debouncer{
		interval: interval,
		onFire:   onFire,
	}
}

// Trigger records an event for path and queues action for the next firing.
// A nil action only restarts the quiet period.
func (d *Debouncer) Trigger(path string, action func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastPath = path

	if action != nil {
		d.pending = append(d.pending, action)
	}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.interval, d.fire)
}

// Stop cancels the pending firing and drops the queued actions.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.pending = nil
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	p := d.lastPath
	actions := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if d.onFire != nil {
		safely(func() { d.onFire(p) })
	}

	for _, action := range actions {
		go safely(action)
	}
}

func safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("debounced callback panicked", slog.Any("error", r))
		}
	}()

	fn()
}
