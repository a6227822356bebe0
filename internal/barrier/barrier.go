// ABOUTME: Track change synchronization barrier shared between encoders
// ABOUTME: Wrapping token comparison lets the counter overflow safely
package barrier

import "sync"

// ahead reports whether token a is ahead of token b under wrapping
// uint32 arithmetic. Equal tokens count as ahead.
func ahead(a, b uint32) bool {
	return a-b < 1<<31
}

// Barrier synchronizes track changes across the encoders that share
// it. Each participant calls Sync with a monotonically increasing
// token once per track boundary; Sync returns when every registered
// participant has arrived with that token. A participant arriving
// with a newer token releases stragglers of the older round, and a
// participant arriving with an older token returns immediately since
// its round has already passed.
type Barrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	queued    int
	listeners int
	visited   int
	token     uint32
}

// New creates an empty barrier. Participants register through Hold.
func New() *Barrier {
	b := &Barrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Barrier) increment() {
	b.mu.Lock()
	b.listeners++
	b.mu.Unlock()
}

func (b *Barrier) decrement() {
	b.mu.Lock()
	if b.listeners > 0 {
		b.listeners--
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Sync blocks until all participants have arrived with the given
// token.
func (b *Barrier) Sync(token uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queued == 0 {
		b.token = token
	} else if b.token != token {
		if ahead(token, b.token) {
			// A newer round; release everyone still waiting on
			// the old token and start over.
			b.token = token
			b.visited, b.queued = 0, 0
			b.cond.Broadcast()
		} else {
			// We have fallen behind. Skip.
			return
		}
	}

	b.queued++
	if b.queued >= b.listeners {
		b.cond.Broadcast()
	} else {
		for b.queued < b.listeners && token == b.token {
			b.cond.Wait()
		}
		// Someone else moved the token forward; our round is over.
		if token != b.token {
			return
		}
	}

	// Count the workers leaving the barrier. Once they have all
	// left, reset for the next round.
	b.visited++
	if b.visited >= b.queued {
		b.visited, b.queued = 0, 0
	}
}

// Free releases the barrier permanently: all current and future Sync
// calls return without waiting.
func (b *Barrier) Free() {
	b.mu.Lock()
	b.listeners = 0
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Holder registers one participant with a barrier for as long as it is
// held. A nil holder, or one holding a nil barrier, is valid and makes
// every operation a no-op, so code paths without a barrier need no
// branching.
type Holder struct {
	b    *Barrier
	once sync.Once
}

// Hold registers a participant with b. b may be nil.
func Hold(b *Barrier) *Holder {
	if b != nil {
		b.increment()
	}
	return &Holder{b: b}
}

// Sync waits on the held barrier with the given token.
func (h *Holder) Sync(token uint32) {
	if h == nil || h.b == nil {
		return
	}
	h.b.Sync(token)
}

// Release deregisters the participant, waking waiters that no longer
// need it. Safe to call more than once.
func (h *Holder) Release() {
	if h == nil || h.b == nil {
		return
	}
	h.once.Do(h.b.decrement)
}
