// ABOUTME: Realtime playback broca on the default audio device
// ABOUTME: Feeds the packet ring into an oto player as signed 16-bit PCM
package broca

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/pcm"
)

func init() {
	Register("playback", newPlaybackBroca)
}

type playbackBroca struct {
	Base
	format pcm.Format
}

func newPlaybackBroca(cfg json.RawMessage, base Base) (Broca, error) {
	pf, ok := base.Format.(pcm.PCMStreamFormat)
	if !ok {
		return nil, fmt.Errorf("playback broca needs a PCM stream format")
	}
	return &playbackBroca{Base: base, format: pf.Format}, nil
}

// pcmStream adapts the packet ring into the io.Reader oto consumes,
// converting samples to the signed 16-bit format the player is opened
// with. Out-of-band packets are skipped by the direct read API.
type pcmStream struct {
	ring    *buffer.PacketRing
	format  pcm.Format
	raw     []byte
	samples []int16
}

func (s *pcmStream) Read(p []byte) (int, error) {
	if s.format.Sample == pcm.S16 {
		n := s.ring.ReadDirectSome(p[:len(p)-len(p)%2])
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}

	width := s.format.Sample.BytesPerSample()
	count := len(p) / 2
	if need := count * width; cap(s.raw) < need {
		s.raw = make([]byte, need)
		s.samples = make([]int16, count)
	}
	n := s.ring.ReadDirectSome(s.raw[:count*width])
	n -= n % width
	if n == 0 {
		return 0, io.EOF
	}
	decoded := pcm.BytesToInt16(s.samples[:n/width], s.raw[:n], s.format.Sample)
	for i := 0; i < decoded; i++ {
		p[2*i] = byte(s.samples[i])
		p[2*i+1] = byte(s.samples[i] >> 8)
	}
	return decoded * 2, nil
}

func (b *playbackBroca) Run() {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   b.format.Rate,
		ChannelCount: b.format.Channels.Count(),
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		b.Env.Log.Error("playback device open failed", "error", err)
		return
	}
	<-ready

	player := ctx.NewPlayer(&pcmStream{ring: b.Source, format: b.format})
	player.Play()
	for player.IsPlaying() && b.shouldRun() {
		time.Sleep(500 * time.Millisecond)
	}
	if err := player.Close(); err != nil {
		b.Env.Log.Warn("playback close failed", "error", err)
	}
}
