// ABOUTME: Ogg Opus encoder over hraban/opus
// ABOUTME: Resamples to 48 kHz and chains one logical stream per track
package encoder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/resampler"
)

func init() {
	Register("oggopus", newOggOpusEncoder)
}

// Opus operates at 48 kHz; 960-sample frames are 20 ms.
const (
	opusRate      = 48000
	opusFrameSize = 960
	opusPreSkip   = 312
	// packetsPerPage batches ~100 ms of audio per Ogg page.
	packetsPerPage = 5
)

const opusVendor = "exocaster"

type oggOpusConfig struct {
	Bitrate int `json:"bitrate"`
}

type oggOpusEncoder struct {
	format  pcm.Format
	sink    PacketSink
	env     Env
	bitrate int

	enc     *opus.Encoder
	rs      resampler.Resampler
	ogg     *oggWriter
	serial  uint32
	granule uint64

	pending   []int16  // resampled samples waiting for a full frame
	packets   [][]byte // encoded packets waiting for a page
	packetBuf []byte
	samples   []int16
	open      bool
}

func newOggOpusEncoder(cfg json.RawMessage, format pcm.Format, sink PacketSink,
	env Env) (Plugin, error) {
	var c oggOpusConfig
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, err
		}
	}
	channels := format.Channels.Count()
	if c.Bitrate == 0 {
		c.Bitrate = 64000 * channels
	}

	enc, err := opus.NewEncoder(opusRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("oggopus encoder: %w", err)
	}
	if err := enc.SetBitrate(c.Bitrate); err != nil {
		return nil, fmt.Errorf("oggopus encoder: bitrate: %w", err)
	}
	rs, err := resampler.New(env.ResamplerType, env.ResamplerConfig,
		channels, format.Rate, opusRate)
	if err != nil {
		return nil, fmt.Errorf("oggopus encoder: %w", err)
	}
	return &oggOpusEncoder{
		format:    format,
		sink:      sink,
		env:       env,
		bitrate:   c.Bitrate,
		enc:       enc,
		rs:        rs,
		packetBuf: make([]byte, 4000),
	}, nil
}

func (e *oggOpusEncoder) StreamFormat() pcm.StreamFormat {
	return pcm.EncodedStreamFormat{Codec: pcm.CodecOggOpus}
}

func (e *oggOpusEncoder) OutputFrameRate() int {
	return opusRate
}

func (e *oggOpusEncoder) opusHead() []byte {
	channels := e.format.Channels.Count()
	head := make([]byte, 0, 19)
	head = append(head, "OpusHead"...)
	head = append(head, 1, byte(channels))
	head = binary.LittleEndian.AppendUint16(head, opusPreSkip)
	head = binary.LittleEndian.AppendUint32(head, uint32(e.format.Rate))
	head = append(head, 0, 0) // output gain
	head = append(head, 0)    // channel mapping family
	return head
}

func (e *oggOpusEncoder) opusTags(meta metadata.Metadata) []byte {
	tags := make([]byte, 0, 64)
	tags = append(tags, "OpusTags"...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(opusVendor)))
	tags = append(tags, opusVendor...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(meta)))
	for _, pair := range meta {
		comment := pair.Key + "=" + pair.Value
		tags = binary.LittleEndian.AppendUint32(tags, uint32(len(comment)))
		tags = append(tags, comment...)
	}
	return tags
}

// StartTrack begins a new logical Ogg stream: header pages first, so
// the first packet of the track carries the container headers.
func (e *oggOpusEncoder) StartTrack(meta metadata.Metadata) {
	e.serial++
	e.ogg = newOggWriter(e.serial)
	e.granule = 0
	e.rs.Reset()
	e.pending = e.pending[:0]
	e.packets = e.packets[:0]
	e.open = true

	e.sink.Packet(0, 0, e.ogg.page(oggBOS, 0, [][]byte{e.opusHead()}))
	e.sink.Packet(0, 0, e.ogg.page(0, 0, [][]byte{e.opusTags(meta)}))
}

func (e *oggOpusEncoder) flushPage(eos bool) {
	if len(e.packets) == 0 && !eos {
		return
	}
	headerType := byte(0)
	if eos {
		headerType = oggEOS
	}
	frames := uint64(len(e.packets)) * opusFrameSize
	e.sink.Packet(0, frames, e.ogg.page(headerType, e.granule, e.packets))
	e.packets = e.packets[:0]
}

func (e *oggOpusEncoder) encodeFrames(flush bool) {
	channels := e.format.Channels.Count()
	frame := opusFrameSize * channels
	for len(e.pending) >= frame {
		n, err := e.enc.Encode(e.pending[:frame], e.packetBuf)
		if err != nil {
			e.env.Log.Warn("oggopus encode failed", "error", err)
			e.pending = e.pending[:0]
			return
		}
		e.pending = e.pending[frame:]
		e.granule += opusFrameSize
		e.packets = append(e.packets, append([]byte(nil), e.packetBuf[:n]...))
		if len(e.packets) >= packetsPerPage {
			e.flushPage(false)
		}
	}
	if flush {
		e.flushPage(false)
	}
}

func (e *oggOpusEncoder) PCMBlock(frames int, data []byte) {
	if !e.open {
		return
	}
	channels := e.format.Channels.Count()
	need := frames * channels
	if cap(e.samples) < need {
		e.samples = make([]int16, need)
	}
	e.samples = e.samples[:need]
	pcm.BytesToInt16(e.samples, data, e.format.Sample)

	e.pending = e.rs.Process(e.pending, e.samples)
	e.encodeFrames(false)
}

// EndTrack pads the final frame with silence and closes the logical
// stream with an end-of-stream page.
func (e *oggOpusEncoder) EndTrack() {
	if !e.open {
		return
	}
	channels := e.format.Channels.Count()
	if rem := len(e.pending) % (opusFrameSize * channels); rem > 0 {
		pad := opusFrameSize*channels - rem
		for i := 0; i < pad; i++ {
			e.pending = append(e.pending, 0)
		}
	}
	e.encodeFrames(false)
	e.flushPage(true)
	e.open = false
}
