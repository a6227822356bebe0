// ABOUTME: Acknowledgement event publisher
// ABOUTME: Fans events out to publish queues over small best-effort rings
package publisher

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/queue"
)

// eventRingSize bounds each publish queue's backlog. Puts beyond it
// drop silently; acknowledgements are best-effort.
const eventRingSize = 8

// NoEncoder marks a decoder-side acknowledgement, which carries no
// index on the wire.
const NoEncoder = -1

type event struct {
	source string
	index  int
	cmd    json.RawMessage
}

type ackDocument struct {
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	Index   *int            `json:"index,omitempty"`
	Command json.RawMessage `json:"command"`
}

func (e event) serialize() ([]byte, error) {
	doc := ackDocument{Type: "acknowledge", Source: e.source, Command: e.cmd}
	if e.index != NoEncoder {
		idx := e.index
		doc.Index = &idx
	}
	return json.Marshal(doc)
}

// PublishQueue pairs one write queue with its own event ring and
// serializer goroutine.
type PublishQueue struct {
	ring *buffer.Ring[event]
	wq   queue.WriteQueue
	log  *slog.Logger
}

// NewPublishQueue wraps a write queue.
func NewPublishQueue(wq queue.WriteQueue, log *slog.Logger) *PublishQueue {
	return &PublishQueue{
		ring: buffer.NewRing[event](eventRingSize),
		wq:   wq,
		log:  log,
	}
}

func (q *PublishQueue) run() {
	for {
		ev, ok := q.ring.Get()
		if !ok {
			break
		}
		line, err := ev.serialize()
		if err != nil {
			q.log.Warn("publish event serialization failed", "error", err)
			continue
		}
		if err := q.wq.WriteLine(line); err != nil {
			q.log.Warn("publish write failed", "error", err)
		}
	}
}

// Publisher distributes acknowledgement events to all publish queues.
// Publishing never blocks; events beyond a queue's backlog are dropped.
type Publisher struct {
	queues []*PublishQueue
	wg     sync.WaitGroup
}

// New creates a publisher over the given queues. An empty queue list
// is valid; every publish becomes a no-op.
func New(queues []*PublishQueue) *Publisher {
	return &Publisher{queues: queues}
}

// Start launches one serializer goroutine per publish queue.
func (p *Publisher) Start() {
	for _, q := range p.queues {
		p.wg.Add(1)
		go func(q *PublishQueue) {
			defer p.wg.Done()
			q.run()
		}(q)
	}
}

// Close stops accepting events. Queued events still drain.
func (p *Publisher) Close() {
	for _, q := range p.queues {
		q.ring.Close()
	}
}

// Stop waits for the serializer goroutines to drain and closes the
// underlying write queues.
func (p *Publisher) Stop() {
	p.wg.Wait()
	for _, q := range p.queues {
		if err := q.wq.Close(); err != nil {
			q.log.Warn("publish queue close failed", "error", err)
		}
	}
}

func (p *Publisher) publish(ev event) {
	for _, q := range p.queues {
		q.ring.PutNoWait(ev)
	}
}

// AcknowledgeDecoderCommand reports a command reaching the decoder.
func (p *Publisher) AcknowledgeDecoderCommand(cmd json.RawMessage) {
	p.publish(event{source: "decoder", index: NoEncoder, cmd: cmd})
}

// AcknowledgeEncoderCommand reports a command reaching an encoder.
func (p *Publisher) AcknowledgeEncoderCommand(index int, cmd json.RawMessage) {
	p.publish(event{source: "encoder", index: index, cmd: cmd})
}

// AcknowledgeBrocaCommand reports a command reaching a broca.
func (p *Publisher) AcknowledgeBrocaCommand(index int, cmd json.RawMessage) {
	p.publish(event{source: "broca", index: index, cmd: cmd})
}
