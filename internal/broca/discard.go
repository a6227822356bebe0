// ABOUTME: Discard broca for testing and dry runs
// ABOUTME: Drops every packet, optionally logging and pacing at real time
package broca

import (
	"encoding/json"

	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/fclock"
)

func init() {
	Register("discard", newDiscardBroca)
}

type discardConfig struct {
	Log  bool `json:"log"`
	Wait bool `json:"wait"`
}

type discardBroca struct {
	Base
	logPackets bool
	wait       bool
	clock      *fclock.Clock
}

func newDiscardBroca(cfg json.RawMessage, base Base) (Broca, error) {
	var c discardConfig
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, err
		}
	}
	return &discardBroca{
		Base:       base,
		logPackets: c.Log,
		wait:       c.Wait,
		clock:      fclock.New(base.FrameRate),
	}, nil
}

func (b *discardBroca) Run() {
	b.clock.Reset()
	for b.shouldRun() {
		pr, ok := b.Source.ReadPacket()
		if !ok {
			break
		}
		if pr.Header.Flags&buffer.OriginalCommand != 0 {
			b.acknowledgeCommand(&pr)
			continue
		}

		wait := b.wait && !pr.Header.OutOfBand()
		if b.logPackets {
			b.Env.Log.Info("discarding packet",
				"bytes", pr.Header.DataSize,
				"frames", pr.Header.FrameCount,
				"wait", wait)
		}

		pr.SkipFull()
		if b.Source.Closed() {
			return
		}

		if wait {
			b.clock.Update(int64(pr.Header.FrameCount))
			b.clock.SleepIf(10)
		}
	}
}
