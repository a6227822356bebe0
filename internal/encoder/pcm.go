// ABOUTME: Raw PCM passthrough encoder
// ABOUTME: Optionally logs a metadata dump at each track start
package encoder

import (
	"encoding/json"
	"log/slog"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
)

func init() {
	Register("pcm", newPCMEncoder)
}

type pcmEncoderConfig struct {
	Metadata bool `json:"metadata"`
}

type pcmEncoder struct {
	format   pcm.Format
	sink     PacketSink
	log      *slog.Logger
	metadata bool
}

func newPCMEncoder(cfg json.RawMessage, format pcm.Format, sink PacketSink,
	env Env) (Plugin, error) {
	var c pcmEncoderConfig
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, err
		}
	}
	return &pcmEncoder{
		format:   format,
		sink:     sink,
		log:      env.Log,
		metadata: c.Metadata,
	}, nil
}

func (e *pcmEncoder) StreamFormat() pcm.StreamFormat {
	return pcm.PCMStreamFormat{Format: e.format}
}

func (e *pcmEncoder) OutputFrameRate() int {
	return e.format.Rate
}

func (e *pcmEncoder) StartTrack(meta metadata.Metadata) {
	if e.metadata {
		e.log.Info("pcm metadata dump")
		for _, pair := range meta {
			e.log.Info("pcm metadata", "key", pair.Key, "value", pair.Value)
		}
	}
}

func (e *pcmEncoder) PCMBlock(frames int, data []byte) {
	e.sink.Packet(0, uint64(frames), data)
}

func (e *pcmEncoder) EndTrack() {}
