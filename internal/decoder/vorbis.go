// ABOUTME: Ogg Vorbis file decoder over jfreymuth/oggvorbis
// ABOUTME: Decodes float32 frames and feeds them through the shared pipe
package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

func init() {
	Register("vorbis", func(cfg json.RawMessage, env Env) (Decoder, error) {
		return &vorbisDecoder{env: env}, nil
	})
}

type vorbisDecoder struct {
	env Env
}

func (d *vorbisDecoder) CreateJob(param, command json.RawMessage) (Job, error) {
	path, err := parseFileParam(param)
	if err != nil {
		return nil, fmt.Errorf("vorbis decoder: %w", err)
	}
	return &vorbisJob{env: d.env, command: command, path: path}, nil
}

type vorbisJob struct {
	env     Env
	command json.RawMessage
	path    string

	file *os.File
	dec  *oggvorbis.Reader
	meta metadata.Metadata
}

func (j *vorbisJob) Init() {
	f, err := os.Open(j.path)
	if err != nil {
		j.env.Log.Warn("vorbis decoder: cannot open file",
			"file", j.path, "error", err)
		return
	}
	dec, err := oggvorbis.NewReader(f)
	if err != nil {
		j.env.Log.Warn("vorbis decoder: cannot decode file",
			"file", j.path, "error", err)
		f.Close()
		return
	}
	j.file = f
	j.dec = dec
	j.meta = fallbackMetadata(j.path)
}

func (j *vorbisJob) Run(sink pcmbuf.Sink) {
	if j.dec == nil {
		return
	}
	defer j.file.Close()

	channels := j.dec.Channels()
	pipe, err := newPCMPipe(j.env, sink, j.dec.SampleRate(), channels)
	if err != nil {
		j.env.Log.Warn("vorbis decoder: cannot convert",
			"file", j.path, "error", err)
		return
	}
	sink.Metadata(j.command, j.meta)

	buf := make([]float32, 4096*channels)
	samples := make([]int16, 0, len(buf))
	for j.env.shouldRun() {
		n, err := j.dec.Read(buf)
		if n > 0 {
			samples = samples[:n]
			for i := 0; i < n; i++ {
				v := buf[i]
				if v > 1 {
					v = 1
				} else if v < -1 {
					v = -1
				}
				samples[i] = int16(v * 32767)
			}
			pipe.write(samples)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				j.env.Log.Warn("vorbis decoder: read error",
					"file", j.path, "error", err)
			}
			return
		}
	}
}
