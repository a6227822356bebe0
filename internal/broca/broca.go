// ABOUTME: Broca (broadcaster) plugin interface and registry
// ABOUTME: Brocas drain packet rings into files, sound devices or servers
package broca

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/lifecycle"
	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/publisher"
)

// chunkSize is the per-broca streaming buffer.
const chunkSize = 4096

// Broca is one sink loop. Run drains the packet ring until it closes
// or the process terminates.
type Broca interface {
	Run()
}

// Env carries the context every broca shares.
type Env struct {
	Log       *slog.Logger
	Publisher *publisher.Publisher
	Index     int
	// ShouldRun is polled at chunk boundaries. May be nil.
	ShouldRun func() bool
}

// Base holds what every broca needs: the packet ring it drains, the
// stream format the upstream encoder emits, the encoder's output frame
// rate for pacing, and the shared environment.
type Base struct {
	Source    *buffer.PacketRing
	Format    pcm.StreamFormat
	FrameRate int
	Env       Env
}

func (b *Base) shouldRun() bool {
	return b.Env.ShouldRun == nil || b.Env.ShouldRun()
}

// acknowledgeCommand consumes an out-of-band command packet and
// publishes the broca-level acknowledgement for it.
func (b *Base) acknowledgeCommand(pr *buffer.PacketRead) {
	payload := make([]byte, pr.Left())
	pr.ReadFull(payload)
	raw, err := metadata.DecodeOOBCommand(payload)
	if err != nil {
		b.Env.Log.Warn("bad command packet", "error", err)
		return
	}
	if b.Env.Publisher != nil {
		b.Env.Publisher.AcknowledgeBrocaCommand(b.Env.Index, raw)
	}
}

// Factory builds a broca from its raw config section.
type Factory func(cfg json.RawMessage, base Base) (Broca, error)

var registry = map[string]Factory{}

// Register adds a broca type. Called from init.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds a broca by type name.
func New(typ string, cfg json.RawMessage, base Base) (Broca, error) {
	f, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown broca type %q", typ)
	}
	return f(cfg, base)
}

// Types lists the registered broca types, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the broca and releases one live-broca token when it
// returns, so the server's shutdown phase can count it.
func Run(b Broca, counter *lifecycle.Counter) {
	defer counter.Release()
	b.Run()
}
