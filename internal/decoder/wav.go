// ABOUTME: WAV file decoder over go-audio/wav
// ABOUTME: LIST INFO tags populate track metadata when present
package decoder

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

func init() {
	Register("wav", func(cfg json.RawMessage, env Env) (Decoder, error) {
		return &wavDecoder{env: env}, nil
	})
}

type wavDecoder struct {
	env Env
}

func (d *wavDecoder) CreateJob(param, command json.RawMessage) (Job, error) {
	path, err := parseFileParam(param)
	if err != nil {
		return nil, fmt.Errorf("wav decoder: %w", err)
	}
	return &wavJob{env: d.env, command: command, path: path}, nil
}

type wavJob struct {
	env     Env
	command json.RawMessage
	path    string

	file *os.File
	dec  *wav.Decoder
	meta metadata.Metadata
}

func (j *wavJob) Init() {
	f, err := os.Open(j.path)
	if err != nil {
		j.env.Log.Warn("wav decoder: cannot open file",
			"file", j.path, "error", err)
		return
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		j.env.Log.Warn("wav decoder: not a valid WAV file", "file", j.path)
		f.Close()
		return
	}
	j.file = f
	j.dec = dec
	j.meta = j.readTags(f)
}

// readTags pulls LIST INFO metadata, falling back to the file name.
// The decoder is rewound afterwards so PCM reads start clean.
func (j *wavJob) readTags(f *os.File) metadata.Metadata {
	j.dec.ReadMetadata()
	m := fallbackMetadata(j.path)
	if info := j.dec.Metadata; info != nil {
		if info.Title != "" {
			m.Set("title", info.Title)
		}
		if info.Artist != "" {
			m.Set("artist", info.Artist)
		}
		if info.Product != "" {
			m.Set("album", info.Product)
		}
		if info.Genre != "" {
			m.Set("genre", info.Genre)
		}
	}
	f.Seek(0, 0)
	j.dec = wav.NewDecoder(f)
	return m
}

func (j *wavJob) Run(sink pcmbuf.Sink) {
	if j.dec == nil {
		return
	}
	defer j.file.Close()

	j.dec.ReadInfo()
	rate := int(j.dec.SampleRate)
	channels := int(j.dec.NumChans)
	bits := int(j.dec.BitDepth)
	if rate == 0 || channels == 0 {
		j.env.Log.Warn("wav decoder: bad format", "file", j.path)
		return
	}

	pipe, err := newPCMPipe(j.env, sink, rate, channels)
	if err != nil {
		j.env.Log.Warn("wav decoder: cannot convert",
			"file", j.path, "error", err)
		return
	}
	sink.Metadata(j.command, j.meta)

	buf := &audio.IntBuffer{
		Data:   make([]int, 4096*channels),
		Format: &audio.Format{NumChannels: channels, SampleRate: rate},
	}
	samples := make([]int16, 0, len(buf.Data))
	for j.env.shouldRun() {
		n, err := j.dec.PCMBuffer(buf)
		if n == 0 {
			if err != nil {
				j.env.Log.Warn("wav decoder: read error",
					"file", j.path, "error", err)
			}
			return
		}
		samples = samples[:n]
		for i := 0; i < n; i++ {
			samples[i] = wavSample(buf.Data[i], bits)
		}
		pipe.write(samples)
		if err != nil {
			return
		}
	}
}

// wavSample maps one sample from the decoder's buffer onto int16.
// WAV stores 8-bit samples unsigned.
func wavSample(v, bits int) int16 {
	if bits == 8 {
		v -= 128
	}
	return scaleToInt16(v, bits)
}

// scaleToInt16 maps a signed sample of the given bit depth onto int16.
func scaleToInt16(v, bits int) int16 {
	switch {
	case bits < 16:
		return int16(v << (16 - bits))
	case bits > 16:
		return int16(v >> (bits - 16))
	}
	return int16(v)
}
