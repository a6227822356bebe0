// ABOUTME: Process-wide lifecycle state shared by all pipeline stages
// ABOUTME: Holds the cooperative should-run flag, shutdown phases and the broca counter
package lifecycle

import "sync/atomic"

// Phase describes how far along shutdown the server is. Phases only
// ever advance.
type Phase int32

const (
	Running Phase = iota
	NoMoreCommands
	NoMoreJobs
	NoMoreEvents
	Quitting
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case NoMoreCommands:
		return "no more commands"
	case NoMoreJobs:
		return "no more jobs"
	case NoMoreEvents:
		return "no more events"
	case Quitting:
		return "quitting"
	}
	return "unknown"
}

// State is the process-wide lifecycle handle. It is created once by the
// server and passed down to every stage; stages poll ShouldRun at
// natural chunk boundaries instead of being interrupted.
type State struct {
	phase       atomic.Int32
	terminating atomic.Bool
	noCommands  atomic.Bool
}

func NewState() *State {
	return &State{}
}

// ShouldRun reports whether stages should keep doing work. It turns
// false only on hard termination (signal or fatal shutdown); graceful
// drains are driven by closing buffers instead.
func (s *State) ShouldRun() bool {
	return !s.terminating.Load()
}

// Terminate flips the should-run flag. Safe to call more than once.
func (s *State) Terminate() {
	s.terminating.Store(true)
}

// NoMoreCommands marks the command intake as finished.
func (s *State) NoMoreCommands() {
	s.noCommands.Store(true)
	s.Advance(NoMoreCommands)
}

// AcceptsCommands reports whether the command reader should keep
// reading.
func (s *State) AcceptsCommands() bool {
	return !s.noCommands.Load() && s.ShouldRun()
}

// Phase returns the current shutdown phase.
func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// Advance moves the phase forward. Attempts to move backwards are
// ignored.
func (s *State) Advance(p Phase) {
	for {
		cur := s.phase.Load()
		if int32(p) <= cur {
			return
		}
		if s.phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

// Counter is a counting semaphore used to track live brocas. Every
// broca releases exactly one token when its loop exits; the server
// acquires one token per broca during shutdown.
type Counter struct {
	tokens chan struct{}
}

// NewCounter creates a counter that can hold up to max tokens.
func NewCounter(max int) *Counter {
	return &Counter{tokens: make(chan struct{}, max)}
}

func (c *Counter) Release() {
	select {
	case c.tokens <- struct{}{}:
	default:
	}
}

func (c *Counter) Acquire() {
	<-c.tokens
}
