// ABOUTME: Tests for the broca registry and the discard, file and shout sinks
// ABOUTME: The shout broca runs against a fake Icecast source endpoint
package broca

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/lifecycle"
	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/publisher"
)

// memWriteQueue collects published lines.
type memWriteQueue struct {
	mu    sync.Mutex
	lines []string
}

func (q *memWriteQueue) WriteLine(line []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lines = append(q.lines, string(line))
	return nil
}

func (q *memWriteQueue) Close() error { return nil }

func (q *memWriteQueue) all() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.lines...)
}

func testBase(ring *buffer.PacketRing, pub *publisher.Publisher) Base {
	return Base{
		Source:    ring,
		Format:    pcm.EncodedStreamFormat{Codec: pcm.CodecOggOpus},
		FrameRate: 48000,
		Env: Env{
			Log:       slog.New(slog.DiscardHandler),
			Publisher: pub,
			Index:     3,
		},
	}
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"discard", "file", "playback", "shout"} {
		assert.Contains(t, Types(), name)
	}
	_, err := New("carrier-pigeon", nil, Base{})
	assert.Error(t, err)
}

func TestDiscardAcknowledgesCommands(t *testing.T) {
	wq := &memWriteQueue{}
	pub := publisher.New([]*publisher.PublishQueue{
		publisher.NewPublishQueue(wq, slog.New(slog.DiscardHandler)),
	})
	pub.Start()

	ring := buffer.NewPacketRing(4096)
	cmd := []byte(`{"cmd":"play","param":"x"}`)
	ring.WritePacket(buffer.OriginalCommand|buffer.OutOfBandMetadata, 0,
		metadata.EncodeOOBCommand(cmd))
	ring.WritePacket(buffer.StartOfTrack, 100, make([]byte, 400))
	ring.Close()

	b, err := New("discard", nil, testBase(ring, pub))
	require.NoError(t, err)
	counter := lifecycle.NewCounter(1)
	Run(b, counter)
	counter.Acquire()

	pub.Close()
	pub.Stop()

	lines := wq.all()
	require.Len(t, lines, 1)
	var ack struct {
		Type    string          `json:"type"`
		Source  string          `json:"source"`
		Index   int             `json:"index"`
		Command json.RawMessage `json:"command"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ack))
	assert.Equal(t, "acknowledge", ack.Type)
	assert.Equal(t, "broca", ack.Source)
	assert.Equal(t, 3, ack.Index)
	assert.JSONEq(t, string(cmd), string(ack.Command))
}

func TestDiscardDrainsEverything(t *testing.T) {
	ring := buffer.NewPacketRing(4096)
	for i := 0; i < 5; i++ {
		ring.WritePacket(0, 10, make([]byte, 40))
	}
	ring.Close()

	b, err := New("discard", []byte(`{"log": true}`), testBase(ring, nil))
	require.NoError(t, err)
	b.Run()
	assert.True(t, ring.Closed())
}

func TestFileBroca(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	ring := buffer.NewPacketRing(4096)
	ring.WritePacket(buffer.MetadataPacket|buffer.OutOfBandMetadata, 0,
		metadata.EncodeOOB(metadata.Metadata{{Key: "title", Value: "x"}}))
	ring.WritePacket(buffer.OriginalCommand|buffer.OutOfBandMetadata, 0,
		metadata.EncodeOOBCommand([]byte(`{"cmd":"play"}`)))
	ring.WritePacket(buffer.StartOfTrack, 4, []byte("abcdefgh"))
	ring.WritePacket(0, 4, []byte("ijklmnop"))
	ring.Close()

	cfg := fmt.Sprintf(`{"file": %q}`, path)
	b, err := New("file", []byte(cfg), testBase(ring, nil))
	require.NoError(t, err)
	b.Run()

	// Only the stream packets land in the file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", string(data))
}

func TestFileBrocaStringConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	ring := buffer.NewPacketRing(64)
	ring.WritePacket(0, 1, []byte("zz"))
	ring.Close()

	b, err := New("file", []byte(fmt.Sprintf("%q", path)), testBase(ring, nil))
	require.NoError(t, err)
	b.Run()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "zz", string(data))
}

func TestFileBrocaAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	ring := buffer.NewPacketRing(64)
	ring.WritePacket(0, 1, []byte("new"))
	ring.Close()

	cfg := fmt.Sprintf(`{"file": %q, "append": true}`, path)
	b, err := New("file", []byte(cfg), testBase(ring, nil))
	require.NoError(t, err)
	b.Run()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "oldnew", string(data))
}

func TestFileBrocaBadConfig(t *testing.T) {
	_, err := New("file", []byte(`{}`), testBase(nil, nil))
	assert.Error(t, err)
	_, err = New("file", []byte(`{"file": "/no/such/dir/at/all/x"}`),
		testBase(nil, nil))
	assert.Error(t, err)
}

func TestShoutConfigValidation(t *testing.T) {
	base := testBase(nil, nil)
	for _, cfg := range []string{
		`{}`,
		`{"host": "h", "port": 8000, "mount": "/m", "user": "u"}`,
		`{"host": "h", "port": 0, "mount": "/m", "user": "u", "password": "p"}`,
	} {
		_, err := New("shout", []byte(cfg), base)
		assert.Error(t, err, cfg)
	}

	// Raw PCM cannot be pushed to an Icecast mount.
	pcmBase := testBase(nil, nil)
	pcmBase.Format = pcm.PCMStreamFormat{
		Format: pcm.Format{Sample: pcm.S16, Rate: 44100, Channels: pcm.Stereo},
	}
	_, err := New("shout",
		[]byte(`{"host": "h", "port": 8000, "mount": "m", "user": "u", "password": "p"}`),
		pcmBase)
	assert.Error(t, err)
}

// fakeIcecast accepts one source connection and records its body.
type fakeIcecast struct {
	ln      net.Listener
	mu      sync.Mutex
	headers []string
	body    []byte
	done    chan struct{}
}

func newFakeIcecast(t *testing.T) *fakeIcecast {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeIcecast{ln: ln, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeIcecast) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		s.mu.Lock()
		s.headers = append(s.headers, line)
		s.mu.Unlock()
	}
	conn.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))

	body, _ := io.ReadAll(r)
	s.mu.Lock()
	s.body = body
	s.mu.Unlock()
}

func (s *fakeIcecast) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeIcecast) header(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.headers {
		if strings.HasPrefix(h, prefix) {
			return h
		}
	}
	return ""
}

func TestShoutStreams(t *testing.T) {
	srv := newFakeIcecast(t)

	ring := buffer.NewPacketRing(4096)
	ring.WritePacket(buffer.StartOfTrack, 960, []byte("OggS page one "))
	ring.WritePacket(0, 960, []byte("OggS page two"))
	ring.Close()

	cfg := fmt.Sprintf(`{
		"host": "127.0.0.1", "port": %d, "mount": "stream.ogg",
		"user": "source", "password": "hackme", "name": "Test",
		"selfsync": true, "selfsyncthreshold": 100
	}`, srv.port())
	b, err := New("shout", []byte(cfg), testBase(ring, nil))
	require.NoError(t, err)
	b.Run()

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not see the stream end")
	}

	assert.Equal(t, "PUT /stream.ogg HTTP/1.1", srv.header("PUT "))
	assert.Equal(t, "Content-Type: application/ogg",
		srv.header("Content-Type:"))
	assert.Equal(t, "Ice-Name: Test", srv.header("Ice-Name:"))
	assert.NotEmpty(t, srv.header("Authorization: Basic "))
	assert.Equal(t, "OggS page one OggS page two", string(srv.body))
}
