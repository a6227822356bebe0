// ABOUTME: Per-output PCM channel carrying bytes interleaved with metadata rows
// ABOUTME: The byte ring and the row queue are locked independently but coordinated
package pcmbuf

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/fclock"
	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/publisher"
)

// rowQueueSize bounds the number of queued track changes per buffer.
const rowQueueSize = 8

// row is one queued track change: the command that caused it, the
// track metadata, and the number of PCM bytes credited to it so far.
type row struct {
	command  json.RawMessage
	metadata *metadata.Metadata
	pcmBytes int
}

// Options tunes one PCM buffer.
type Options struct {
	// Skip enables the sample-rate drop policy: writes get a
	// wall-clock deadline and overruns drop bytes instead of
	// blocking the whole splitter.
	Skip bool
	// SkipMargin is added to the deadline when Skip is on.
	SkipMargin time.Duration
	// ShouldRun suppresses overrun logging during shutdown. May be
	// nil.
	ShouldRun func() bool
}

// Buffer is one output's PCM channel. The splitter writes PCM bytes
// and metadata rows; the output's encoder reads them back in FIFO
// order, with each row acting as a boundary the reader must cross
// explicitly through ReadMetadata.
type Buffer struct {
	ring   *buffer.Ring[byte]
	format pcm.Format
	index  int
	pub    *publisher.Publisher
	log    *slog.Logger

	skip       bool
	skipMargin time.Duration
	shouldRun  func() bool
	clock      *fclock.Clock
	firstPCM   bool

	mu      sync.Mutex
	hasPCM  *sync.Cond
	rows    [rowQueueSize + 1]row
	rowHead int
	rowTail int
	pcmLeft int
	closed  bool
}

// New creates a PCM buffer of size bytes for output index.
func New(index int, format pcm.Format, size int, pub *publisher.Publisher,
	log *slog.Logger, opts Options) *Buffer {
	b := &Buffer{
		ring:       buffer.NewRing[byte](size),
		format:     format,
		index:      index,
		pub:        pub,
		log:        log,
		skip:       opts.Skip,
		skipMargin: opts.SkipMargin,
		shouldRun:  opts.ShouldRun,
		clock:      fclock.New(format.Rate),
		firstPCM:   true,
	}
	b.hasPCM = sync.NewCond(&b.mu)
	return b
}

// Format returns the PCM format carried by the buffer.
func (b *Buffer) Format() pcm.Format { return b.format }

func (b *Buffer) rowsQueued() bool {
	return b.rowHead != b.rowTail
}

func (b *Buffer) rowsFull() bool {
	return (b.rowHead+1)%len(b.rows) == b.rowTail
}

// ReadMetadata returns the next queued track change, but only once the
// current track's PCM has been fully drained. Returns nil otherwise.
// Crossing the boundary acknowledges the command for this output.
func (b *Buffer) ReadMetadata() (*metadata.Metadata, json.RawMessage) {
	b.mu.Lock()
	if !b.rowsQueued() || b.pcmLeft > 0 {
		b.mu.Unlock()
		return nil, nil
	}
	index := b.rowTail
	b.rowTail = (b.rowTail + 1) % len(b.rows)
	b.pcmLeft = b.rows[index].pcmBytes
	meta := b.rows[index].metadata
	command := b.rows[index].command
	b.rows[index] = row{}
	b.mu.Unlock()
	b.hasPCM.Broadcast()

	if b.pub != nil {
		b.pub.AcknowledgeEncoderCommand(b.index, command)
	}
	return meta, command
}

// ReadPCM blocks until PCM for the current track is available, a track
// boundary is hit, or the buffer is closed. Reads at most the current
// track's remaining bytes, aligned to whole frames. Returns 0 at a
// boundary (call ReadMetadata) and 0 at end of stream (Closed is then
// true).
func (b *Buffer) ReadPCM(dst []byte) int {
	b.mu.Lock()
	if b.pcmLeft == 0 {
		for b.pcmLeft == 0 && !b.rowsQueued() && !b.closed {
			b.hasPCM.Wait()
		}
		if b.pcmLeft == 0 && !b.rowsQueued() && b.closed {
			b.mu.Unlock()
			return 0
		}
	}
	canRead := min(b.pcmLeft, len(dst))
	canRead -= canRead % b.format.BytesPerFrame()
	if canRead == 0 {
		b.mu.Unlock()
		return 0
	}
	b.pcmLeft -= canRead
	b.mu.Unlock()
	return b.ring.ReadFull(dst[:canRead])
}

// WriteMetadata queues a track change row. If the row queue is full,
// the call sleeps up to a second and then drops the row if it is still
// full.
func (b *Buffer) WriteMetadata(command json.RawMessage, meta *metadata.Metadata) {
	if b.Closed() {
		return
	}
	b.mu.Lock()
	if b.rowsFull() {
		b.mu.Unlock()
		time.Sleep(time.Second)
		b.mu.Lock()
		if b.rowsFull() {
			b.mu.Unlock()
			b.log.Warn("metadata queue full, dropping track change",
				"output", b.index)
			return
		}
	}
	index := b.rowHead
	b.rowHead = (b.rowHead + 1) % len(b.rows)
	b.rows[index] = row{command: command, metadata: meta}
	b.mu.Unlock()
	b.hasPCM.Broadcast()
}

// WritePCM appends PCM bytes, crediting them to the most recently
// queued row, or to the current track if no row is queued. Under the
// drop policy a stalled reader causes a short write that is logged as
// an overrun; otherwise the call blocks until everything is buffered.
func (b *Buffer) WritePCM(data []byte) {
	if b.Closed() {
		return
	}
	if b.firstPCM {
		b.firstPCM = false
		b.clock.Reset()
	}

	frames := int64(len(data) / b.format.BytesPerFrame())
	var written int

	if b.skip {
		until := b.clock.WouldSleepUntil(frames).Add(b.skipMargin)
		before := time.Now()
		written = b.ring.WriteTimed(data, until)
		if written < len(data) && (b.shouldRun == nil || b.shouldRun()) {
			b.log.Warn("buffer overrun",
				"output", b.index,
				"written", written,
				"size", len(data),
				"waited", time.Since(before))
		}
	} else {
		written = b.ring.WriteFull(data)
	}

	// Credit the full frame count even when bytes were dropped; the
	// clock paces real time, not delivered bytes.
	if frames > 0 {
		b.clock.Update(frames)
	}

	if written == 0 {
		return
	}
	b.mu.Lock()
	if b.rowsQueued() {
		index := b.rowHead - 1
		if index < 0 {
			index = len(b.rows) - 1
		}
		b.rows[index].pcmBytes += written
	} else {
		b.pcmLeft += written
	}
	b.mu.Unlock()
	b.hasPCM.Broadcast()
}

// Close closes the buffer; readers drain what remains and then see end
// of stream.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.ring.Close()
	b.hasPCM.Broadcast()
}

// Closed reports whether the buffer has been closed to writes.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
