// ABOUTME: Sample rate conversion for encoders whose codec needs a fixed rate
// ABOUTME: Registry of resampler types; linear interpolation is the default
package resampler

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Resampler converts interleaved int16 audio from one frame rate to
// another. Process is streaming: fractional positions carry across
// calls so chunk boundaries are seamless.
type Resampler interface {
	// Process appends converted frames to dst and returns the
	// extended slice. src must hold whole frames.
	Process(dst, src []int16) []int16
	// Reset discards carried state, e.g. at a track boundary.
	Reset()
}

// Factory builds a resampler from its raw config section.
type Factory func(cfg json.RawMessage, channels, inRate, outRate int) (Resampler, error)

var registry = map[string]Factory{}

// Register adds a resampler type. Called from init.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds a resampler by type name. An empty name selects the
// default linear resampler. Equal rates yield a passthrough.
func New(typ string, cfg json.RawMessage, channels, inRate, outRate int) (Resampler, error) {
	if inRate == outRate {
		return passthrough{}, nil
	}
	if typ == "" {
		typ = "linear"
	}
	f, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown resampler type %q", typ)
	}
	return f(cfg, channels, inRate, outRate)
}

// Types lists the registered resampler types, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type passthrough struct{}

func (passthrough) Process(dst, src []int16) []int16 {
	return append(dst, src...)
}

func (passthrough) Reset() {}
