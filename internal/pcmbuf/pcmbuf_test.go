// ABOUTME: Tests for the PCM buffer and splitter
// ABOUTME: Covers row boundaries, crediting, drop policy and fan-out order
package pcmbuf

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
)

var testFormat = pcm.Format{Sample: pcm.S16, Rate: 44100, Channels: pcm.Stereo}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestBuffer(size int) *Buffer {
	return New(0, testFormat, size, nil, discard(), Options{})
}

func meta(pairs ...string) *metadata.Metadata {
	var m metadata.Metadata
	for i := 0; i+1 < len(pairs); i += 2 {
		m = append(m, metadata.Pair{Key: pairs[i], Value: pairs[i+1]})
	}
	return &m
}

func TestMetadataBeforePCM(t *testing.T) {
	b := newTestBuffer(1024)

	// No boundary queued yet.
	m, _ := b.ReadMetadata()
	assert.Nil(t, m)

	b.WriteMetadata([]byte(`{"cmd":"play"}`), meta("title", "Song A"))
	b.WritePCM(make([]byte, 16))

	m, cmd := b.ReadMetadata()
	require.NotNil(t, m)
	title, _ := m.Get("title")
	assert.Equal(t, "Song A", title)
	assert.JSONEq(t, `{"cmd":"play"}`, string(cmd))

	dst := make([]byte, 64)
	assert.Equal(t, 16, b.ReadPCM(dst))
}

func TestRowBoundaryBlocksPCM(t *testing.T) {
	b := newTestBuffer(1024)
	b.WriteMetadata([]byte(`{"cmd":"a"}`), meta())
	b.WritePCM(make([]byte, 8))
	b.WriteMetadata([]byte(`{"cmd":"b"}`), meta())
	b.WritePCM(make([]byte, 12))

	// Cross into track A.
	m, _ := b.ReadMetadata()
	require.NotNil(t, m)

	dst := make([]byte, 64)
	assert.Equal(t, 8, b.ReadPCM(dst))

	// Track A drained; reads stop at the boundary until the next
	// ReadMetadata.
	assert.Equal(t, 0, b.ReadPCM(dst))
	m, _ = b.ReadMetadata()
	require.NotNil(t, m)
	assert.Equal(t, 12, b.ReadPCM(dst))
}

func TestReadMetadataRefusedMidTrack(t *testing.T) {
	b := newTestBuffer(1024)
	b.WriteMetadata([]byte(`{"cmd":"a"}`), meta())
	b.WritePCM(make([]byte, 8))
	b.WriteMetadata([]byte(`{"cmd":"b"}`), meta())

	m, _ := b.ReadMetadata()
	require.NotNil(t, m)

	// Track A still has PCM left; the next boundary is not served.
	m, _ = b.ReadMetadata()
	assert.Nil(t, m)

	dst := make([]byte, 8)
	require.Equal(t, 8, b.ReadPCM(dst))
	m, _ = b.ReadMetadata()
	assert.NotNil(t, m)
}

func TestPCMWithoutMetadataRow(t *testing.T) {
	// Bytes written with no row queued belong to the current track.
	b := newTestBuffer(1024)
	b.WritePCM(make([]byte, 20))
	dst := make([]byte, 64)
	assert.Equal(t, 20, b.ReadPCM(dst))
}

func TestReadPCMFrameAligned(t *testing.T) {
	b := newTestBuffer(1024)
	b.WritePCM(make([]byte, 16))
	// A 6-byte destination holds one 4-byte frame.
	dst := make([]byte, 6)
	assert.Equal(t, 4, b.ReadPCM(dst))
}

func TestReadPCMBlocksUntilData(t *testing.T) {
	b := newTestBuffer(1024)
	done := make(chan int)
	go func() {
		dst := make([]byte, 16)
		done <- b.ReadPCM(dst)
	}()

	time.Sleep(10 * time.Millisecond)
	b.WritePCM(make([]byte, 16))
	select {
	case n := <-done:
		assert.Equal(t, 16, n)
	case <-time.After(time.Second):
		t.Fatal("ReadPCM did not wake on write")
	}
}

func TestCloseEndsStream(t *testing.T) {
	b := newTestBuffer(1024)
	b.WritePCM(make([]byte, 8))
	b.Close()

	dst := make([]byte, 64)
	assert.Equal(t, 8, b.ReadPCM(dst))
	assert.Equal(t, 0, b.ReadPCM(dst))
	assert.True(t, b.Closed())

	// Writes after close are ignored.
	b.WritePCM(make([]byte, 8))
	assert.Equal(t, 0, b.ReadPCM(dst))
}

func TestCloseWakesBlockedReader(t *testing.T) {
	b := newTestBuffer(1024)
	done := make(chan int)
	go func() {
		dst := make([]byte, 16)
		done <- b.ReadPCM(dst)
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("ReadPCM did not wake on close")
	}
}

func TestDropPolicyShortWrite(t *testing.T) {
	// A tiny buffer with the drop policy: a stalled reader forces a
	// short write instead of blocking forever.
	b := New(0, testFormat, 8, nil, discard(),
		Options{Skip: true, SkipMargin: 10 * time.Millisecond})

	b.WritePCM(make([]byte, 8))
	start := time.Now()
	b.WritePCM(make([]byte, 8)) // no room; must return after the deadline
	assert.Less(t, time.Since(start), 5*time.Second)

	dst := make([]byte, 8)
	assert.Equal(t, 8, b.ReadPCM(dst))
}

func TestSplitterFanOut(t *testing.T) {
	s := NewSplitter(testFormat, 1024, nil, discard())
	b1 := s.AddBuffer(Options{})
	s.SkipBuffer()
	b2 := s.AddBuffer(Options{})
	assert.Equal(t, 0, b1.index)
	assert.Equal(t, 2, b2.index)

	s.Metadata([]byte(`{"cmd":"x"}`), metadata.Metadata{{Key: "k", Value: "v"}})
	s.PCM(make([]byte, 40))
	s.Close()

	for _, b := range []*Buffer{b1, b2} {
		m, _ := b.ReadMetadata()
		require.NotNil(t, m)
		v, _ := m.Get("k")
		assert.Equal(t, "v", v)
		dst := make([]byte, 64)
		assert.Equal(t, 40, b.ReadPCM(dst))
	}
}

func TestSplitterChopsLargeWrites(t *testing.T) {
	f := pcm.Format{Sample: pcm.S16, Rate: 8, Channels: pcm.Mono}
	// chop = 8/4 * 2 = 4 bytes
	s := NewSplitter(f, 1024, nil, discard())
	b := s.AddBuffer(Options{})
	s.PCM(make([]byte, 10))
	s.Close()

	total := 0
	dst := make([]byte, 64)
	for {
		n := b.ReadPCM(dst)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, 10, total)
}
