// ABOUTME: Encoder plugin interface, registry and the per-output driver
// ABOUTME: The driver owns the PCM source, packet sinks and track changes
package encoder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ziplantil/exocaster/internal/barrier"
	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

// scratchSize is the per-driver PCM read buffer.
const scratchSize = 4096

// underrunLogThreshold is how long a PCM read may block before the
// wait is logged as a probable underrun.
const underrunLogThreshold = 500 * time.Millisecond

// PacketSink receives the packets a plugin emits.
type PacketSink interface {
	Packet(flags uint32, frameCount uint64, data []byte)
}

// Plugin is one codec. StartTrack and EndTrack bracket each track;
// PCMBlock encodes one frame-aligned block. Output goes to the
// PacketSink the plugin was built with.
type Plugin interface {
	// StreamFormat describes the emitted byte stream.
	StreamFormat() pcm.StreamFormat
	// OutputFrameRate is the rate brocas pace this stream at.
	OutputFrameRate() int
	StartTrack(meta metadata.Metadata)
	PCMBlock(frames int, data []byte)
	EndTrack()
}

// Env carries the context every encoder factory may need.
type Env struct {
	Log             *slog.Logger
	ResamplerType   string
	ResamplerConfig json.RawMessage
}

// Factory builds a plugin from its raw config section. The plugin
// writes everything it produces to sink.
type Factory func(cfg json.RawMessage, format pcm.Format, sink PacketSink, env Env) (Plugin, error)

var registry = map[string]Factory{}

// Register adds an encoder type. Called from init.
func Register(name string, f Factory) {
	registry[name] = f
}

// Types lists the registered encoder types, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options tunes one driver.
type Options struct {
	// SendMetadata emits an out-of-band metadata packet at each
	// track start.
	SendMetadata bool
	// SendCommand emits an out-of-band copy of the original command
	// at each track start, for brocas to acknowledge.
	SendCommand bool
	// ShouldRun is polled each loop iteration. May be nil.
	ShouldRun func() bool
}

// Driver runs one output: it drains the output's PCM buffer through
// the plugin and fans the resulting packets out to every broca's
// packet ring.
type Driver struct {
	source *pcmbuf.Buffer
	sinks  []*buffer.PacketRing
	plugin Plugin
	holder *barrier.Holder
	log    *slog.Logger
	opts   Options

	token        uint32
	startOfTrack bool
}

// NewDriver creates a driver and its plugin. b may be nil when the
// output has no barrier group.
func NewDriver(typ string, cfg json.RawMessage, source *pcmbuf.Buffer,
	b *barrier.Barrier, log *slog.Logger, env Env, opts Options) (*Driver, error) {
	f, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown encoder type %q", typ)
	}
	d := &Driver{
		source: source,
		holder: barrier.Hold(b),
		log:    log,
		opts:   opts,
	}
	plugin, err := f(cfg, source.Format(), d, env)
	if err != nil {
		d.holder.Release()
		return nil, err
	}
	d.plugin = plugin
	return d, nil
}

// Plugin returns the codec instance behind the driver.
func (d *Driver) Plugin() Plugin { return d.plugin }

// SetSendOptions resolves the out-of-band packet policy. Must be
// called before Run; the defaults depend on the plugin's stream
// format, which only exists after the driver is built.
func (d *Driver) SetSendOptions(sendMetadata, sendCommand bool) {
	d.opts.SendMetadata = sendMetadata
	d.opts.SendCommand = sendCommand
}

// AddSink attaches one broca's packet ring.
func (d *Driver) AddSink(ring *buffer.PacketRing) {
	d.sinks = append(d.sinks, ring)
}

func (d *Driver) shouldRun() bool {
	return d.opts.ShouldRun == nil || d.opts.ShouldRun()
}

// Packet implements PacketSink. The first packet of each track gets
// the start-of-track flag.
func (d *Driver) Packet(flags uint32, frameCount uint64, data []byte) {
	if d.startOfTrack {
		flags |= buffer.StartOfTrack
		d.startOfTrack = false
	}
	for _, sink := range d.sinks {
		sink.WritePacket(flags, frameCount, data)
	}
}

// oob writes an out-of-band packet without consuming the
// start-of-track flag.
func (d *Driver) oob(flags uint32, data []byte) {
	for _, sink := range d.sinks {
		sink.WritePacket(flags|buffer.OutOfBandMetadata, 0, data)
	}
}

func (d *Driver) trackChange(meta *metadata.Metadata, command json.RawMessage, track bool) {
	if track {
		d.plugin.EndTrack()
	}
	// Outputs sharing a barrier group emit the new track's first
	// packet within a tight window of each other.
	d.token++
	d.holder.Sync(d.token)
	d.plugin.StartTrack(*meta)
	d.startOfTrack = true

	if d.opts.SendMetadata {
		d.oob(buffer.MetadataPacket, metadata.EncodeOOB(*meta))
	}
	if d.opts.SendCommand && command != nil {
		d.oob(buffer.OriginalCommand, metadata.EncodeOOBCommand(command))
	}
}

// Run drains the PCM buffer until it closes, then closes every sink.
// It releases the driver's barrier slot on exit.
func (d *Driver) Run() {
	defer d.holder.Release()

	var scratch [scratchSize]byte
	track := false
	bytesPerFrame := d.source.Format().BytesPerFrame()

	for d.shouldRun() {
		meta, command := d.source.ReadMetadata()
		if meta != nil {
			d.trackChange(meta, command, track)
			track = true
		}

		t0 := time.Now()
		n := d.source.ReadPCM(scratch[:])
		if n > 0 {
			if waited := time.Since(t0); waited >= underrunLogThreshold {
				d.log.Warn("buffer underrun?", "waited", waited)
			}
			d.plugin.PCMBlock(n/bytesPerFrame, scratch[:n])
		} else if d.source.Closed() {
			break
		}
	}

	if track {
		d.plugin.EndTrack()
	}
	for _, sink := range d.sinks {
		sink.Close()
	}
}
