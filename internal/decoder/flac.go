// ABOUTME: FLAC file decoder over mewkiz/flac
// ABOUTME: VorbisComment blocks populate track metadata
package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

func init() {
	Register("flac", func(cfg json.RawMessage, env Env) (Decoder, error) {
		return &flacDecoder{env: env}, nil
	})
}

type flacDecoder struct {
	env Env
}

func (d *flacDecoder) CreateJob(param, command json.RawMessage) (Job, error) {
	path, err := parseFileParam(param)
	if err != nil {
		return nil, fmt.Errorf("flac decoder: %w", err)
	}
	return &flacJob{env: d.env, command: command, path: path}, nil
}

type flacJob struct {
	env     Env
	command json.RawMessage
	path    string

	stream *flac.Stream
	meta   metadata.Metadata
}

func (j *flacJob) Init() {
	stream, err := flac.ParseFile(j.path)
	if err != nil {
		j.env.Log.Warn("flac decoder: cannot open file",
			"file", j.path, "error", err)
		return
	}
	j.stream = stream
	j.meta = j.readTags()
}

// readTags collects VorbisComment tags, falling back to the file name.
func (j *flacJob) readTags() metadata.Metadata {
	m := fallbackMetadata(j.path)
	for _, block := range j.stream.Blocks {
		comment, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		for _, tag := range comment.Tags {
			key := strings.ToLower(tag[0])
			if key == "" || tag[1] == "" {
				continue
			}
			m.Set(key, tag[1])
		}
	}
	return m
}

func (j *flacJob) Run(sink pcmbuf.Sink) {
	if j.stream == nil {
		return
	}
	defer j.stream.Close()

	info := j.stream.Info
	rate := int(info.SampleRate)
	channels := int(info.NChannels)
	bits := int(info.BitsPerSample)

	pipe, err := newPCMPipe(j.env, sink, rate, channels)
	if err != nil {
		j.env.Log.Warn("flac decoder: cannot convert",
			"file", j.path, "error", err)
		return
	}
	sink.Metadata(j.command, j.meta)

	var samples []int16
	for j.env.shouldRun() {
		frame, err := j.stream.ParseNext()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				j.env.Log.Warn("flac decoder: read error",
					"file", j.path, "error", err)
			}
			return
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		n := len(frame.Subframes[0].Samples)
		samples = samples[:0]
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples,
					scaleToInt16(int(frame.Subframes[ch].Samples[i]), bits))
			}
		}
		pipe.write(samples)
	}
}
