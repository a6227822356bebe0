// ABOUTME: Decoder plugin interface and registry
// ABOUTME: Command names map to decoders that turn params into PCM jobs
package decoder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ziplantil/exocaster/internal/jobqueue"
	"github.com/ziplantil/exocaster/internal/pcm"
	"github.com/ziplantil/exocaster/internal/pcmbuf"
)

// Job is one decode unit: Init may open inputs and gather metadata,
// Run publishes the metadata marker and streams PCM into the sink.
type Job = jobqueue.Job[pcmbuf.Sink]

// Env carries the context every decoder factory and job needs.
type Env struct {
	Log    *slog.Logger
	Format pcm.Format
	// Resampler selection for sources whose rate differs from
	// Format.Rate. An empty type picks the default.
	ResamplerType   string
	ResamplerConfig json.RawMessage
	// ShouldRun is polled at block boundaries; jobs return early
	// when it reports false. May be nil.
	ShouldRun func() bool
}

func (e Env) shouldRun() bool {
	return e.ShouldRun == nil || e.ShouldRun()
}

// Decoder builds jobs out of command params. CreateJob returns an
// error for an unusable param; the command is then logged and
// discarded without tearing anything down.
type Decoder interface {
	CreateJob(param, command json.RawMessage) (Job, error)
}

// Factory builds a decoder from its raw config section.
type Factory func(cfg json.RawMessage, env Env) (Decoder, error)

var registry = map[string]Factory{}

// Register adds a decoder type. Called from init.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds a decoder by type name.
func New(typ string, cfg json.RawMessage, env Env) (Decoder, error) {
	f, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown decoder type %q", typ)
	}
	return f(cfg, env)
}

// Types lists the registered decoder types, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
