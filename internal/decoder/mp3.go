// ABOUTME: MP3 file decoder over hajimehoshi/go-mp3
// ABOUTME: go-mp3 always yields 16-bit stereo at the source rate
package decoder

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

func init() {
	Register("mp3", func(cfg json.RawMessage, env Env) (Decoder, error) {
		return &mp3Decoder{env: env}, nil
	})
}

type mp3Decoder struct {
	env Env
}

func (d *mp3Decoder) CreateJob(param, command json.RawMessage) (Job, error) {
	path, err := parseFileParam(param)
	if err != nil {
		return nil, fmt.Errorf("mp3 decoder: %w", err)
	}
	return &mp3Job{env: d.env, command: command, path: path}, nil
}

type mp3Job struct {
	env     Env
	command json.RawMessage
	path    string

	file *os.File
	dec  *mp3.Decoder
	meta metadata.Metadata
}

func (j *mp3Job) Init() {
	f, err := os.Open(j.path)
	if err != nil {
		j.env.Log.Warn("mp3 decoder: cannot open file",
			"file", j.path, "error", err)
		return
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		j.env.Log.Warn("mp3 decoder: cannot decode file",
			"file", j.path, "error", err)
		f.Close()
		return
	}
	j.file = f
	j.dec = dec
	j.meta = fallbackMetadata(j.path)
}

func (j *mp3Job) Run(sink pcmbuf.Sink) {
	if j.dec == nil {
		return
	}
	defer j.file.Close()

	pipe, err := newPCMPipe(j.env, sink, j.dec.SampleRate(), 2)
	if err != nil {
		j.env.Log.Warn("mp3 decoder: cannot convert",
			"file", j.path, "error", err)
		return
	}
	sink.Metadata(j.command, j.meta)

	var buf [8192]byte
	samples := make([]int16, 0, len(buf)/2)
	for j.env.shouldRun() {
		n, err := io.ReadFull(j.dec, buf[:])
		// go-mp3 frames are 4-byte aligned; a trailing partial read
		// still decodes whole samples.
		n -= n % 4
		if n > 0 {
			samples = samples[:n/2]
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
			}
			pipe.write(samples)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				j.env.Log.Warn("mp3 decoder: read error",
					"file", j.path, "error", err)
			}
			return
		}
	}
}
