// ABOUTME: Standard stream queue transports
// ABOUTME: Commands in on stdin, events out on stdout
package queue

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
)

func init() {
	RegisterRead("stdio", newStdinQueue)
	RegisterWrite("stdio", newStdoutQueue)
}

type stdinQueue struct {
	r *bufio.Reader
}

func newStdinQueue(cfg json.RawMessage, env Env) (ReadQueue, error) {
	return &stdinQueue{r: bufio.NewReader(os.Stdin)}, nil
}

func (q *stdinQueue) ReadLine() ([]byte, error) {
	line, err := q.r.ReadBytes('\n')
	if len(line) > 0 && err == nil {
		return line[:len(line)-1], nil
	}
	if len(line) > 0 {
		return line, nil
	}
	return nil, err
}

// Close leaves os.Stdin open; the process may not own it.
func (q *stdinQueue) Close() error { return nil }

type stdoutQueue struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newStdoutQueue(cfg json.RawMessage, env Env) (WriteQueue, error) {
	return &stdoutQueue{w: bufio.NewWriter(os.Stdout)}, nil
}

func (q *stdoutQueue) WriteLine(line []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.w.Write(line); err != nil {
		return err
	}
	if err := q.w.WriteByte('\n'); err != nil {
		return err
	}
	return q.w.Flush()
}

func (q *stdoutQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.w.Flush()
}
