// ABOUTME: Test tone decoder
// ABOUTME: Param is seconds or an object with duration, frequency and amplitude
package decoder

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

func init() {
	Register("tone", func(cfg json.RawMessage, env Env) (Decoder, error) {
		return &toneDecoder{env: env}, nil
	})
}

type toneDecoder struct {
	env Env
}

type toneParam struct {
	Duration  float64 `json:"duration"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
}

func (d *toneDecoder) CreateJob(param, command json.RawMessage) (Job, error) {
	p := toneParam{Frequency: 440, Amplitude: 0.5}
	if err := json.Unmarshal(param, &p.Duration); err != nil {
		if err := json.Unmarshal(param, &p); err != nil {
			return nil, fmt.Errorf("tone decoder: bad param: %w", err)
		}
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("tone decoder: duration must be positive")
	}
	if p.Frequency <= 0 || p.Frequency >= float64(d.env.Format.Rate)/2 {
		return nil, fmt.Errorf("tone decoder: frequency out of range")
	}
	if p.Amplitude < 0 || p.Amplitude > 1 {
		return nil, fmt.Errorf("tone decoder: amplitude out of range")
	}
	return &toneJob{env: d.env, command: command, param: p}, nil
}

type toneJob struct {
	env     Env
	command json.RawMessage
	param   toneParam
}

func (j *toneJob) Init() {}

func (j *toneJob) Run(sink pcmbuf.Sink) {
	format := j.env.Format
	frames := format.DurationToFrames(j.param.Duration)
	step := 2 * math.Pi * j.param.Frequency / float64(format.Rate)

	var block [8192]byte
	framesPerBlock := len(block) / format.BytesPerFrame()

	sink.Metadata(j.command, metadata.Metadata{
		{Key: "title", Value: fmt.Sprintf("%g Hz tone", j.param.Frequency)},
	})

	phase := 0.0
	for j.env.shouldRun() && frames > 0 {
		n := min(frames, framesPerBlock)
		rest := block[:]
		for i := 0; i < n; i++ {
			v := j.param.Amplitude * math.Sin(phase)
			phase += step
			for ch := 0; ch < format.Channels.Count(); ch++ {
				rest = pcm.WriteSample(rest, format.Sample, v)
			}
		}
		frames -= n
		sink.PCM(block[:n*format.BytesPerFrame()])
	}
}
