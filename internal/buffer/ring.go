// ABOUTME: Bounded concurrent ring buffer with blocking, partial and timed writes
// ABOUTME: The inter-stage edge used throughout the pipeline
package buffer

import (
	"sync"
	"time"
)

// Ring is a bounded concurrent queue of T with capacity cap. It is
// safe for multiple readers and writers, but the intended use is
// single-reader single-writer; under contention it is unspecified
// which reader wins a given element.
//
// Closing the ring wakes all waiters. Remaining values can still be
// read after close; writes after close fail silently with a short
// count.
type Ring[T any] struct {
	buf  []T // capacity+1 slots
	head int // next write position
	tail int // next read position

	mu       sync.Mutex
	canRead  *sync.Cond
	canWrite *sync.Cond
	closed   bool
}

// NewRing creates a ring buffer holding up to capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	r := &Ring[T]{buf: make([]T, capacity+1)}
	r.canRead = sync.NewCond(&r.mu)
	r.canWrite = sync.NewCond(&r.mu)
	return r
}

// Cap returns the number of elements that fit in the buffer.
func (r *Ring[T]) Cap() int {
	return len(r.buf) - 1
}

func (r *Ring[T]) lockedToRead() int {
	if r.head < r.tail {
		return r.head - r.tail + len(r.buf)
	}
	return r.head - r.tail
}

func (r *Ring[T]) lockedToWrite() int {
	return r.Cap() - r.lockedToRead()
}

func (r *Ring[T]) lockedCanRead() bool {
	return r.head != r.tail
}

func (r *Ring[T]) lockedCanWrite() bool {
	return (r.head+1)%len(r.buf) != r.tail
}

// lockedRead copies up to len(dst) elements out of the buffer.
func (r *Ring[T]) lockedRead(dst []T) int {
	n := min(len(dst), r.lockedToRead())
	if n == 0 {
		return 0
	}
	var zero T
	sliver := len(r.buf) - r.tail
	if n <= sliver {
		copy(dst, r.buf[r.tail:r.tail+n])
		for i := r.tail; i < r.tail+n; i++ {
			r.buf[i] = zero
		}
		if n == sliver {
			r.tail = 0
		} else {
			r.tail += n
		}
	} else {
		copy(dst, r.buf[r.tail:])
		copy(dst[sliver:], r.buf[:n-sliver])
		for i := r.tail; i < len(r.buf); i++ {
			r.buf[i] = zero
		}
		r.tail = n - sliver
		for i := 0; i < r.tail; i++ {
			r.buf[i] = zero
		}
	}
	return n
}

// lockedSkip discards up to n elements.
func (r *Ring[T]) lockedSkip(n int) int {
	n = min(n, r.lockedToRead())
	if n == 0 {
		return 0
	}
	var zero T
	for i := 0; i < n; i++ {
		r.buf[r.tail] = zero
		r.tail = (r.tail + 1) % len(r.buf)
	}
	return n
}

// lockedWrite copies up to len(src) elements into the buffer.
func (r *Ring[T]) lockedWrite(src []T) int {
	n := min(len(src), r.lockedToWrite())
	if n == 0 {
		return 0
	}
	sliver := len(r.buf) - r.head
	if n <= sliver {
		copy(r.buf[r.head:], src[:n])
		if n == sliver {
			r.head = 0
		} else {
			r.head += n
		}
	} else {
		copy(r.buf[r.head:], src[:sliver])
		copy(r.buf, src[sliver:n])
		r.head = n - sliver
	}
	return n
}

// ToRead returns an approximation of the number of elements that can
// be read right now without blocking.
func (r *Ring[T]) ToRead() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedToRead()
}

// ToWrite returns an approximation of the number of elements that can
// be written right now without blocking.
func (r *Ring[T]) ToWrite() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedToWrite()
}

// ReadPartial reads whatever is present, up to len(dst), without
// blocking.
func (r *Ring[T]) ReadPartial(dst []T) int {
	r.mu.Lock()
	n := r.lockedRead(dst)
	r.mu.Unlock()
	if n > 0 {
		r.canWrite.Broadcast()
	}
	return n
}

// ReadSome blocks until at least one element is available or the
// buffer is closed, then reads as many as are currently available up
// to len(dst).
func (r *Ring[T]) ReadSome(dst []T) int {
	for {
		r.mu.Lock()
		for !r.lockedCanRead() && !r.closed {
			r.canRead.Wait()
		}
		if r.closed && !r.lockedCanRead() {
			r.mu.Unlock()
			return 0
		}
		n := r.lockedRead(dst)
		r.mu.Unlock()
		if n > 0 {
			r.canWrite.Broadcast()
			return n
		}
	}
}

// ReadFull blocks until len(dst) elements have been read or the buffer
// is closed. Returns the number of elements actually read.
func (r *Ring[T]) ReadFull(dst []T) int {
	total := 0
	for total < len(dst) {
		r.mu.Lock()
		for !r.lockedCanRead() && !r.closed {
			r.canRead.Wait()
		}
		if r.closed && !r.lockedCanRead() {
			r.mu.Unlock()
			break
		}
		n := r.lockedRead(dst[total:])
		r.mu.Unlock()
		if n > 0 {
			r.canWrite.Broadcast()
		}
		total += n
	}
	return total
}

// SkipFull discards count elements, blocking like ReadFull. Returns
// the number of elements actually skipped.
func (r *Ring[T]) SkipFull(count int) int {
	total := 0
	for total < count {
		r.mu.Lock()
		for !r.lockedCanRead() && !r.closed {
			r.canRead.Wait()
		}
		if r.closed && !r.lockedCanRead() {
			r.mu.Unlock()
			break
		}
		n := r.lockedSkip(count - total)
		r.mu.Unlock()
		if n > 0 {
			r.canWrite.Broadcast()
		}
		total += n
	}
	return total
}

// Get reads a single element, blocking until one is available. The
// second return is false only if the buffer was closed and drained.
func (r *Ring[T]) Get() (T, bool) {
	var zero T
	r.mu.Lock()
	for !r.lockedCanRead() && !r.closed {
		r.canRead.Wait()
	}
	if r.closed && !r.lockedCanRead() {
		r.mu.Unlock()
		return zero, false
	}
	v := r.buf[r.tail]
	r.buf[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.buf)
	r.mu.Unlock()
	r.canWrite.Broadcast()
	return v, true
}

// WritePartial writes whatever fits, up to len(src), without blocking.
func (r *Ring[T]) WritePartial(src []T) int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	n := r.lockedWrite(src)
	r.mu.Unlock()
	if n > 0 {
		r.canRead.Broadcast()
	}
	return n
}

// WriteFull blocks until all of src has been written or the buffer is
// closed. Returns the number of elements actually written.
func (r *Ring[T]) WriteFull(src []T) int {
	total := 0
	for total < len(src) {
		r.mu.Lock()
		for !r.lockedCanWrite() && !r.closed {
			r.canWrite.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			break
		}
		n := r.lockedWrite(src[total:])
		r.mu.Unlock()
		if n > 0 {
			r.canRead.Broadcast()
		}
		total += n
	}
	return total
}

// WriteTimed tries to write all of src before the given wall-clock
// instant. Returns the number of elements actually written; it may
// return earlier with a short count but never blocks meaningfully past
// the deadline.
func (r *Ring[T]) WriteTimed(src []T, deadline time.Time) int {
	total := 0
	for total < len(src) {
		if !time.Now().Before(deadline) {
			break
		}
		// Wake ourselves up at the deadline; Cond has no native
		// deadline support.
		timer := time.AfterFunc(time.Until(deadline), func() {
			r.canWrite.Broadcast()
		})
		r.mu.Lock()
		for !r.lockedCanWrite() && !r.closed && time.Now().Before(deadline) {
			r.canWrite.Wait()
		}
		if r.closed || !r.lockedCanWrite() {
			r.mu.Unlock()
			timer.Stop()
			break
		}
		n := r.lockedWrite(src[total:])
		r.mu.Unlock()
		timer.Stop()
		if n > 0 {
			r.canRead.Broadcast()
		}
		total += n
	}
	return total
}

// Put writes a single element, blocking until written. Returns false
// only if the buffer was closed first.
func (r *Ring[T]) Put(v T) bool {
	return r.WriteFull([]T{v}) > 0
}

// PutNoWait tries to write a single element without blocking.
func (r *Ring[T]) PutNoWait(v T) bool {
	return r.WritePartial([]T{v}) > 0
}

// Close closes the buffer and wakes all waiters. Remaining values can
// still be read; subsequent writes fail silently.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.canRead.Broadcast()
	r.canWrite.Broadcast()
}

// Closed reports whether the buffer is closed and drained, i.e. no
// more values will ever be readable.
func (r *Ring[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed && r.head == r.tail
}

// ClosedToWrites reports whether the buffer no longer accepts writes.
func (r *Ring[T]) ClosedToWrites() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
