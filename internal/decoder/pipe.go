// ABOUTME: Shared conversion path from decoded int16 audio to the output format
// ABOUTME: Channel mapping, rate conversion and sample format encoding
package decoder

import (
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
	"github.com/ziplantil/exocaster/internal/resampler"
)

// pcmPipe adapts a decoder's native int16 output to the pipeline's
// PCM format: channel mapping first, then rate conversion, then
// sample encoding.
type pcmPipe struct {
	env   Env
	sink  pcmbuf.Sink
	rs    resampler.Resampler
	srcCh int
	dstCh int

	mapped    []int16
	resampled []int16
	encoded   []byte
}

func newPCMPipe(env Env, sink pcmbuf.Sink, srcRate, srcChannels int) (*pcmPipe, error) {
	dstCh := env.Format.Channels.Count()
	rs, err := resampler.New(env.ResamplerType, env.ResamplerConfig,
		dstCh, srcRate, env.Format.Rate)
	if err != nil {
		return nil, err
	}
	return &pcmPipe{
		env:   env,
		sink:  sink,
		rs:    rs,
		srcCh: srcChannels,
		dstCh: dstCh,
	}, nil
}

// mapChannels converts interleaved src frames to the target channel
// count: mono duplicates, stereo downmixes by averaging.
func (p *pcmPipe) mapChannels(src []int16) []int16 {
	if p.srcCh == p.dstCh {
		return src
	}
	frames := len(src) / p.srcCh
	p.mapped = p.mapped[:0]
	switch {
	case p.srcCh == 1 && p.dstCh == 2:
		for i := 0; i < frames; i++ {
			s := src[i]
			p.mapped = append(p.mapped, s, s)
		}
	case p.srcCh == 2 && p.dstCh == 1:
		for i := 0; i < frames; i++ {
			l, r := int(src[2*i]), int(src[2*i+1])
			p.mapped = append(p.mapped, int16((l+r)/2))
		}
	default:
		// More than two source channels: keep the first dstCh.
		for i := 0; i < frames; i++ {
			for ch := 0; ch < p.dstCh; ch++ {
				p.mapped = append(p.mapped, src[i*p.srcCh+ch])
			}
		}
	}
	return p.mapped
}

// write pushes one chunk of interleaved int16 frames downstream.
func (p *pcmPipe) write(src []int16) {
	mapped := p.mapChannels(src)
	p.resampled = p.rs.Process(p.resampled[:0], mapped)
	if len(p.resampled) == 0 {
		return
	}
	need := len(p.resampled) * p.env.Format.Sample.BytesPerSample()
	if cap(p.encoded) < need {
		p.encoded = make([]byte, need)
	}
	p.encoded = p.encoded[:need]
	pcm.Int16ToBytes(p.encoded, p.resampled, p.env.Format.Sample)
	p.sink.PCM(p.encoded)
}
