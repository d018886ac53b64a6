// Package supervisor runs long operations one at a time and folds requests
// that arrive while one is in flight into a single follow-up run.
package supervisor

import (
	"sync"
	"time"
)

// State is the lifecycle of a Slot.
type State int

const (
	// Idle means nothing is running.
	Idle State = iota
	// Running means a run is in flight.
	Running
	// RunningWithPendingReplay means a run is in flight and another was
	// requested meanwhile.
	RunningWithPendingReplay
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case RunningWithPendingReplay:
		return "running (replay pending)"
	default:
		return "unknown"
	}
}

// Slot allows at most one run in flight. Overlapping requests never start a
// second concurrent run and are never queued individually: any number of
// them result in exactly one replay after the current run returns. A replay
// never interrupts the run in progress.
type Slot struct {
	// ReplayDelay is waited before a coalesced replay starts.
	ReplayDelay time.Duration

	mu    sync.Mutex
	state State
}

// State returns the current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Run executes fn unless a run is already in flight, in which case it only
// marks a pending replay and returns false immediately. The caller that
// started the run keeps executing fn until no replay is pending.
func (s *Slot) Run(fn func()) bool {
	s.mu.Lock()
	if s.state != Idle {
		s.state = RunningWithPendingReplay
		s.mu.Unlock()

		return false
	}

	s.state = Running
	s.mu.Unlock()

	for {
		s.runOnce(fn)

		s.mu.Lock()
		if s.state != RunningWithPendingReplay {
			s.state = Idle
			s.mu.Unlock()

			return true
		}

		s.state = Running
		s.mu.Unlock()

		if s.ReplayDelay > 0 {
			time.Sleep(s.ReplayDelay)
		}
	}
}

// runOnce shields the slot from a panicking fn so it cannot stay Running
// forever.
func (s *Slot) runOnce(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.state = Idle
			s.mu.Unlock()
			panic(r)
		}
	}()

	fn()
}

// Group holds one Slot per key, created on first use.
type Group struct {
	ReplayDelay time.Duration

	mu    sync.Mutex
	slots map[string]*Slot
}

// Slot returns the slot for key.
func (g *Group) Slot(key string) *Slot {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.slots == nil {
		g.slots = make(map[string]*Slot)
	}

	s, ok := g.slots[key]
	if !ok {
		s = &Slot{ReplayDelay: g.ReplayDelay}
		g.slots[key] = s
	}

	return s
}

// Busy reports whether any slot is running.
func (g *Group) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range g.slots {
		if s.State() != Idle {
			return true
		}
	}

	return false
}
