// ABOUTME: File output broca
// ABOUTME: Streams the packet payload bytes into a file, skipping metadata
package broca

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ziplantil/exocaster/internal/buffer"
)

func init() {
	Register("file", newFileBroca)
}

type fileBrocaConfig struct {
	File   string `json:"file"`
	Append bool   `json:"append"`
}

type fileBroca struct {
	Base
	f *os.File
	w *bufio.Writer
}

func newFileBroca(cfg json.RawMessage, base Base) (Broca, error) {
	var c fileBrocaConfig
	if len(cfg) > 0 && cfg[0] == '"' {
		if err := json.Unmarshal(cfg, &c.File); err != nil {
			return nil, fmt.Errorf("file broca: %w", err)
		}
	} else if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, fmt.Errorf("file broca: %w", err)
		}
	}
	if c.File == "" {
		return nil, fmt.Errorf("file broca needs a file path")
	}

	flags := os.O_WRONLY | os.O_CREATE
	if c.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(c.File, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file broca: %w", err)
	}
	return &fileBroca{Base: base, f: f, w: bufio.NewWriter(f)}, nil
}

func (b *fileBroca) Run() {
	defer b.f.Close()

	var chunk [chunkSize]byte
	for b.shouldRun() {
		pr, ok := b.Source.ReadPacket()
		if !ok {
			break
		}
		if pr.Header.Flags&buffer.MetadataPacket != 0 {
			pr.SkipFull()
			continue
		}
		if pr.Header.Flags&buffer.OriginalCommand != 0 {
			b.acknowledgeCommand(&pr)
			continue
		}

		for pr.HasData() && b.shouldRun() {
			n := pr.ReadSome(chunk[:])
			if n == 0 {
				if b.Source.Closed() {
					break
				}
				continue
			}
			if _, err := b.w.Write(chunk[:n]); err != nil {
				b.Env.Log.Error("file broca write failed", "error", err)
				return
			}
		}
	}
	if err := b.w.Flush(); err != nil {
		b.Env.Log.Error("file broca flush failed", "error", err)
	}
}
