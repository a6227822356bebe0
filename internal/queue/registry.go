// ABOUTME: Queue transport registry
// ABOUTME: Maps config type names to read and write queue factories
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// Env carries the context every queue factory may need.
type Env struct {
	Log        *slog.Logger
	InstanceID string
}

// ReadFactory builds a read queue from its raw config section.
type ReadFactory func(cfg json.RawMessage, env Env) (ReadQueue, error)

// WriteFactory builds a write queue from its raw config section.
type WriteFactory func(cfg json.RawMessage, env Env) (WriteQueue, error)

var (
	readRegistry  = map[string]ReadFactory{}
	writeRegistry = map[string]WriteFactory{}
)

// RegisterRead adds a read queue type. Called from init.
func RegisterRead(name string, f ReadFactory) {
	readRegistry[name] = f
}

// RegisterWrite adds a write queue type. Called from init.
func RegisterWrite(name string, f WriteFactory) {
	writeRegistry[name] = f
}

// NewReadQueue builds a read queue by type name.
func NewReadQueue(typ string, cfg json.RawMessage, env Env) (ReadQueue, error) {
	f, ok := readRegistry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown read queue type %q", typ)
	}
	return f(cfg, env)
}

// NewWriteQueue builds a write queue by type name.
func NewWriteQueue(typ string, cfg json.RawMessage, env Env) (WriteQueue, error) {
	f, ok := writeRegistry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown write queue type %q", typ)
	}
	return f(cfg, env)
}

// ReadTypes lists the registered read queue types, sorted.
func ReadTypes() []string {
	names := make([]string, 0, len(readRegistry))
	for name := range readRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteTypes lists the registered write queue types, sorted.
func WriteTypes() []string {
	names := make([]string, 0, len(writeRegistry))
	for name := range writeRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
