// ABOUTME: Queue transport interfaces and the command read layer
// ABOUTME: One JSON document per line in both directions
package queue

import (
	"encoding/json"
	"fmt"
)

// ReadQueue is a source of newline-delimited documents. ReadLine
// blocks until a full line is available and returns io.EOF once the
// transport ends. Close unblocks a pending ReadLine.
type ReadQueue interface {
	ReadLine() ([]byte, error)
	Close() error
}

// WriteQueue is a sink of newline-delimited documents. WriteLine
// appends the line terminator itself.
type WriteQueue interface {
	WriteLine([]byte) error
	Close() error
}

// Command is one parsed command object from the shell queue. Raw
// preserves the original document so acknowledgements can echo it
// byte for byte.
type Command struct {
	Cmd   string
	Param json.RawMessage
	Raw   json.RawMessage
}

// ParseCommand decodes one command document. The only required field
// is "cmd"; everything else is kept opaque in Param and Raw.
func ParseCommand(line []byte) (Command, error) {
	var doc struct {
		Cmd   string          `json:"cmd"`
		Param json.RawMessage `json:"param"`
	}
	if err := json.Unmarshal(line, &doc); err != nil {
		return Command{}, fmt.Errorf("command: %w", err)
	}
	if doc.Cmd == "" {
		return Command{}, fmt.Errorf("command: missing 'cmd' field")
	}
	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	return Command{Cmd: doc.Cmd, Param: doc.Param, Raw: raw}, nil
}

// CommandQueue reads commands off a ReadQueue.
type CommandQueue struct {
	rq ReadQueue
}

// NewCommandQueue wraps a read queue.
func NewCommandQueue(rq ReadQueue) *CommandQueue {
	return &CommandQueue{rq: rq}
}

// NextCommand blocks for the next command. Returns io.EOF when the
// transport ends; a malformed document is returned as an error with
// the transport still usable, so the caller can log and continue.
func (q *CommandQueue) NextCommand() (Command, error) {
	line, err := q.rq.ReadLine()
	if err != nil {
		return Command{}, err
	}
	return ParseCommand(line)
}

// Close closes the underlying transport.
func (q *CommandQueue) Close() error {
	return q.rq.Close()
}
