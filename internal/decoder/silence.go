// ABOUTME: Silence decoder
// ABOUTME: Param is a duration in seconds; emits zero-valued PCM
package decoder

import (
	"encoding/json"
	"fmt"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

func init() {
	Register("silence", func(cfg json.RawMessage, env Env) (Decoder, error) {
		return &silenceDecoder{env: env}, nil
	})
}

type silenceDecoder struct {
	env Env
}

func (d *silenceDecoder) CreateJob(param, command json.RawMessage) (Job, error) {
	var duration float64
	if err := json.Unmarshal(param, &duration); err != nil {
		return nil, fmt.Errorf("silence decoder: param must be a number: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("silence decoder: duration must be positive")
	}
	return &silenceJob{
		env:     d.env,
		command: command,
		frames:  d.env.Format.DurationToFrames(duration),
	}, nil
}

type silenceJob struct {
	env     Env
	command json.RawMessage
	frames  int
}

func (j *silenceJob) Init() {}

func (j *silenceJob) Run(sink pcmbuf.Sink) {
	var block [8192]byte
	framesPerBlock := len(block) / j.env.Format.BytesPerFrame()

	// Zero bytes are not digital silence in every sample format.
	rest := block[:]
	for i := 0; i < framesPerBlock*j.env.Format.Channels.Count(); i++ {
		rest = pcm.WriteSample(rest, j.env.Format.Sample, 0)
	}

	sink.Metadata(j.command, metadata.Metadata{})
	frames := j.frames
	for j.env.shouldRun() && frames > 0 {
		n := min(frames, framesPerBlock)
		frames -= n
		sink.PCM(block[:n*j.env.Format.BytesPerFrame()])
	}
}
