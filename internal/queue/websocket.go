// ABOUTME: WebSocket queue transports over gorilla/websocket
// ABOUTME: One JSON document per text message, reconnecting with backoff
package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

func init() {
	RegisterRead("websocket", newWebsocketReadQueue)
	RegisterWrite("websocket", newWebsocketWriteQueue)
}

const (
	wsBackoffStart = time.Second
	wsBackoffMax   = 60 * time.Second
)

type websocketConfig struct {
	URL string `json:"url"`
}

// wsConn is the shared dial/reconnect state of both queue directions.
type wsConn struct {
	url    string
	log    *slog.Logger
	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
}

func newWsConn(cfg json.RawMessage, env Env) (*wsConn, error) {
	var raw string
	if err := json.Unmarshal(cfg, &raw); err != nil {
		var c websocketConfig
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, fmt.Errorf("'websocket' queue config: %w", err)
		}
		raw = c.URL
	}
	if raw == "" {
		return nil, fmt.Errorf("'websocket' queue config needs 'url'")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("'websocket' queue config: %w", err)
	}
	q := u.Query()
	q.Set("instance", env.InstanceID)
	u.RawQuery = q.Encode()

	w := &wsConn{url: u.String(), log: env.Log}
	if err := w.dial(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *wsConn) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		return fmt.Errorf("websocket queue: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return nil
}

// reconnect redials with exponential backoff until it succeeds or the
// queue is closed.
func (w *wsConn) reconnect() bool {
	backoff := wsBackoffStart
	for !w.closed.Load() {
		if err := w.dial(); err == nil {
			return true
		} else if w.log != nil {
			w.log.Warn("websocket queue reconnect failed",
				"url", w.url, "error", err, "retry", backoff)
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > wsBackoffMax {
			backoff = wsBackoffMax
		}
	}
	return false
}

func (w *wsConn) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *wsConn) Close() error {
	w.closed.Store(true)
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

type websocketReadQueue struct {
	*wsConn
}

func newWebsocketReadQueue(cfg json.RawMessage, env Env) (ReadQueue, error) {
	c, err := newWsConn(cfg, env)
	if err != nil {
		return nil, err
	}
	return &websocketReadQueue{wsConn: c}, nil
}

func (q *websocketReadQueue) ReadLine() ([]byte, error) {
	for {
		conn := q.current()
		if conn == nil || q.closed.Load() {
			return nil, io.EOF
		}
		_, msg, err := conn.ReadMessage()
		if err == nil {
			return msg, nil
		}
		if q.closed.Load() {
			return nil, io.EOF
		}
		conn.Close()
		if !q.reconnect() {
			return nil, io.EOF
		}
	}
}

type websocketWriteQueue struct {
	*wsConn
	wmu sync.Mutex
}

func newWebsocketWriteQueue(cfg json.RawMessage, env Env) (WriteQueue, error) {
	c, err := newWsConn(cfg, env)
	if err != nil {
		return nil, err
	}
	return &websocketWriteQueue{wsConn: c}, nil
}

func (q *websocketWriteQueue) WriteLine(line []byte) error {
	q.wmu.Lock()
	defer q.wmu.Unlock()
	for {
		conn := q.current()
		if conn == nil || q.closed.Load() {
			return io.EOF
		}
		err := conn.WriteMessage(websocket.TextMessage, line)
		if err == nil {
			return nil
		}
		if q.closed.Load() {
			return io.EOF
		}
		conn.Close()
		if !q.reconnect() {
			return io.EOF
		}
	}
}
