// ABOUTME: Tests for the decoder registry, generators and shared helpers
// ABOUTME: File decoders are exercised through their param validation
package decoder

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
)

var testEnv = Env{
	Log:    slog.New(slog.DiscardHandler),
	Format: pcm.Format{Sample: pcm.S16, Rate: 44100, Channels: pcm.Stereo},
}

// memSink records everything a job produces.
type memSink struct {
	commands []json.RawMessage
	meta     []metadata.Metadata
	pcm      []byte
}

func (s *memSink) Metadata(command json.RawMessage, meta metadata.Metadata) {
	s.commands = append(s.commands, command)
	s.meta = append(s.meta, meta)
}

func (s *memSink) PCM(data []byte) {
	s.pcm = append(s.pcm, data...)
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"silence", "tone", "mp3", "wav", "vorbis", "flac"} {
		assert.Contains(t, Types(), name)
		d, err := New(name, nil, testEnv)
		require.NoError(t, err)
		assert.NotNil(t, d)
	}
	_, err := New("theremin", nil, testEnv)
	assert.Error(t, err)
}

func TestSilenceJob(t *testing.T) {
	d, err := New("silence", nil, testEnv)
	require.NoError(t, err)

	cmd := json.RawMessage(`{"cmd":"quiet","param":0.5}`)
	job, err := d.CreateJob([]byte(`0.5`), cmd)
	require.NoError(t, err)

	sink := &memSink{}
	job.Init()
	job.Run(sink)

	require.Len(t, sink.commands, 1)
	assert.JSONEq(t, string(cmd), string(sink.commands[0]))
	// Half a second of s16 stereo at 44100.
	assert.Equal(t, 22050*4, len(sink.pcm))
	for _, b := range sink.pcm {
		assert.Zero(t, b)
	}
}

func TestSilenceJobBadParam(t *testing.T) {
	d, err := New("silence", nil, testEnv)
	require.NoError(t, err)
	_, err = d.CreateJob([]byte(`"loud"`), nil)
	assert.Error(t, err)
	_, err = d.CreateJob([]byte(`-1`), nil)
	assert.Error(t, err)
}

func TestToneJob(t *testing.T) {
	d, err := New("tone", nil, testEnv)
	require.NoError(t, err)

	job, err := d.CreateJob(
		[]byte(`{"duration": 0.1, "frequency": 1000, "amplitude": 1}`), nil)
	require.NoError(t, err)

	sink := &memSink{}
	job.Init()
	job.Run(sink)

	require.Len(t, sink.meta, 1)
	title, _ := sink.meta[0].Get("title")
	assert.Equal(t, "1000 Hz tone", title)
	require.Equal(t, 4410*4, len(sink.pcm))

	// The signal must actually oscillate near full scale.
	var peak int16
	for i := 0; i+1 < len(sink.pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(sink.pcm[i:]))
		if v > peak {
			peak = v
		}
	}
	assert.Greater(t, peak, int16(30000))
}

func TestToneJobNumberParam(t *testing.T) {
	d, err := New("tone", nil, testEnv)
	require.NoError(t, err)
	job, err := d.CreateJob([]byte(`0.01`), nil)
	require.NoError(t, err)
	sink := &memSink{}
	job.Init()
	job.Run(sink)
	assert.Equal(t, 441*4, len(sink.pcm))
}

func TestToneJobBadParams(t *testing.T) {
	d, err := New("tone", nil, testEnv)
	require.NoError(t, err)
	for _, param := range []string{
		`{"duration": 0}`,
		`{"duration": 1, "frequency": 0}`,
		`{"duration": 1, "frequency": 30000}`,
		`{"duration": 1, "amplitude": 2}`,
		`"beep"`,
	} {
		_, err := d.CreateJob([]byte(param), nil)
		assert.Error(t, err, param)
	}
}

func TestParseFileParam(t *testing.T) {
	path, err := parseFileParam([]byte(`"/music/a.mp3"`))
	require.NoError(t, err)
	assert.Equal(t, "/music/a.mp3", path)

	path, err = parseFileParam([]byte(`{"file": "/music/b.mp3"}`))
	require.NoError(t, err)
	assert.Equal(t, "/music/b.mp3", path)

	_, err = parseFileParam([]byte(`""`))
	assert.Error(t, err)
	_, err = parseFileParam([]byte(`{}`))
	assert.Error(t, err)
	_, err = parseFileParam([]byte(`42`))
	assert.Error(t, err)
}

func TestFallbackMetadata(t *testing.T) {
	m := fallbackMetadata("/music/Some Song.flac")
	title, ok := m.Get("title")
	require.True(t, ok)
	assert.Equal(t, "Some Song", title)
}

func TestPipeMonoToStereo(t *testing.T) {
	sink := &memSink{}
	pipe, err := newPCMPipe(testEnv, sink, 44100, 1)
	require.NoError(t, err)

	pipe.write([]int16{100, 200, 300})
	require.Equal(t, 3*2*2, len(sink.pcm))
	for i, want := range []int16{100, 100, 200, 200, 300, 300} {
		got := int16(binary.LittleEndian.Uint16(sink.pcm[2*i:]))
		assert.Equal(t, want, got)
	}
}

func TestPipeStereoToMono(t *testing.T) {
	env := testEnv
	env.Format.Channels = pcm.Mono
	sink := &memSink{}
	pipe, err := newPCMPipe(env, sink, 44100, 2)
	require.NoError(t, err)

	pipe.write([]int16{100, 300, -100, -300})
	require.Equal(t, 2*2, len(sink.pcm))
	assert.Equal(t, int16(200), int16(binary.LittleEndian.Uint16(sink.pcm)))
	assert.Equal(t, int16(-200), int16(binary.LittleEndian.Uint16(sink.pcm[2:])))
}

func TestPipeUsesConfiguredResampler(t *testing.T) {
	env := testEnv
	env.ResamplerType = "windowed-sinc"

	// Equal rates bypass the resampler entirely.
	_, err := newPCMPipe(env, &memSink{}, 44100, 2)
	assert.NoError(t, err)

	// A rate mismatch must build the configured type, not the default.
	_, err = newPCMPipe(env, &memSink{}, 22050, 2)
	assert.Error(t, err)

	env.ResamplerType = "linear"
	_, err = newPCMPipe(env, &memSink{}, 22050, 2)
	assert.NoError(t, err)
}

func TestScaleToInt16(t *testing.T) {
	// Signed samples keep silence at zero regardless of depth.
	assert.Equal(t, int16(0), scaleToInt16(0, 8))
	assert.Equal(t, int16(-32768), scaleToInt16(-128, 8))
	assert.Equal(t, int16(32512), scaleToInt16(127, 8))
	assert.Equal(t, int16(1234), scaleToInt16(1234, 16))
	assert.Equal(t, int16(1234), scaleToInt16(1234<<8, 24))
}

func TestWavSampleUnsigned8(t *testing.T) {
	assert.Equal(t, int16(0), wavSample(128, 8))
	assert.Equal(t, int16(-32768), wavSample(0, 8))
	assert.Equal(t, int16(32512), wavSample(255, 8))
	assert.Equal(t, int16(1234), wavSample(1234, 16))
}

func TestToneIsSine(t *testing.T) {
	env := Env{
		Log:    slog.New(slog.DiscardHandler),
		Format: pcm.Format{Sample: pcm.S16, Rate: 8000, Channels: pcm.Mono},
	}
	d, err := New("tone", nil, env)
	require.NoError(t, err)
	job, err := d.CreateJob(
		[]byte(`{"duration": 0.002, "frequency": 1000, "amplitude": 0.5}`), nil)
	require.NoError(t, err)

	sink := &memSink{}
	job.Init()
	job.Run(sink)
	require.Equal(t, 16*2, len(sink.pcm))

	for i := 0; i < 16; i++ {
		want := 0.5 * math.Sin(2*math.Pi*1000*float64(i)/8000)
		got := float64(int16(binary.LittleEndian.Uint16(sink.pcm[2*i:]))) / 32767
		assert.InDelta(t, want, got, 0.001)
	}
}
