// ABOUTME: Fan-out of one decoder's PCM stream to every output's PCM buffer
// ABOUTME: Chopped writes bound the worst-case blocking per buffer
package pcmbuf

import (
	"encoding/json"
	"log/slog"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/publisher"
)

// Sink is what a decoder job writes into: a metadata marker per track
// followed by that track's PCM bytes.
type Sink interface {
	Metadata(command json.RawMessage, meta metadata.Metadata)
	PCM(data []byte)
}

// Splitter distributes one decoder's output to all per-output PCM
// buffers. Buffers are registered in configuration order; a skipped
// output still consumes an index so encoder indices stay stable.
type Splitter struct {
	buffers []*Buffer
	format  pcm.Format
	size    int
	pub     *publisher.Publisher
	log     *slog.Logger
	chop    int
	next    int
}

// NewSplitter creates a splitter producing buffers of size bytes in
// the given format.
func NewSplitter(format pcm.Format, size int, pub *publisher.Publisher,
	log *slog.Logger) *Splitter {
	return &Splitter{
		format: format,
		size:   size,
		pub:    pub,
		log:    log,
		chop:   format.Rate / 4 * format.BytesPerFrame(),
	}
}

// AddBuffer registers the next output's PCM buffer and returns it.
func (s *Splitter) AddBuffer(opts Options) *Buffer {
	b := New(s.next, s.format, s.size, s.pub, s.log, opts)
	s.next++
	s.buffers = append(s.buffers, b)
	return b
}

// SkipBuffer consumes an output index without creating a buffer.
func (s *Splitter) SkipBuffer() {
	s.next++
}

// Metadata acknowledges the command for the decoder stage and fans the
// track change out to every buffer. The same metadata pointer is
// shared across buffers.
func (s *Splitter) Metadata(command json.RawMessage, meta metadata.Metadata) {
	if s.pub != nil {
		s.pub.AcknowledgeDecoderCommand(command)
	}
	shared := meta.Clone()
	for _, b := range s.buffers {
		b.WriteMetadata(command, &shared)
	}
}

// PCM fans PCM bytes out to every buffer in chop-sized blocks so slow
// buffers can catch up between blocks.
func (s *Splitter) PCM(data []byte) {
	for len(data) > 0 {
		block := min(len(data), s.chop)
		for _, b := range s.buffers {
			b.WritePCM(data[:block])
		}
		data = data[block:]
	}
}

// Close closes every buffer.
func (s *Splitter) Close() {
	for _, b := range s.buffers {
		b.Close()
	}
}
