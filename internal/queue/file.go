// ABOUTME: File-backed queue transports
// ABOUTME: Config is a plain path string or an object with a file key
package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

func init() {
	RegisterRead("file", newFileReadQueue)
	RegisterWrite("file", newFileWriteQueue)
}

type fileQueueConfig struct {
	File   string `json:"file"`
	Append bool   `json:"append"`
}

func parseFileConfig(cfg json.RawMessage) (fileQueueConfig, error) {
	var path string
	if err := json.Unmarshal(cfg, &path); err == nil {
		return fileQueueConfig{File: path}, nil
	}
	var c fileQueueConfig
	if err := json.Unmarshal(cfg, &c); err != nil {
		return c, fmt.Errorf("'file' queue config: %w", err)
	}
	if c.File == "" {
		return c, fmt.Errorf("'file' queue config needs 'file'")
	}
	return c, nil
}

type fileReadQueue struct {
	f *os.File
	r *bufio.Reader
}

func newFileReadQueue(cfg json.RawMessage, env Env) (ReadQueue, error) {
	c, err := parseFileConfig(cfg)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(c.File)
	if err != nil {
		return nil, fmt.Errorf("file queue: %w", err)
	}
	return &fileReadQueue{f: f, r: bufio.NewReader(f)}, nil
}

func (q *fileReadQueue) ReadLine() ([]byte, error) {
	line, err := q.r.ReadBytes('\n')
	if len(line) > 0 && err == nil {
		return line[:len(line)-1], nil
	}
	if len(line) > 0 {
		// Final line without a terminator still counts.
		return line, nil
	}
	return nil, err
}

func (q *fileReadQueue) Close() error {
	return q.f.Close()
}

type fileWriteQueue struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func newFileWriteQueue(cfg json.RawMessage, env Env) (WriteQueue, error) {
	c, err := parseFileConfig(cfg)
	if err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if c.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(c.File, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file queue: %w", err)
	}
	return &fileWriteQueue{f: f, w: bufio.NewWriter(f)}, nil
}

func (q *fileWriteQueue) WriteLine(line []byte) error {
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

func (q *fileWriteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.w.Flush(); err != nil {
		q.f.Close()
		return err
	}
	return q.f.Close()
}
