// ABOUTME: Icecast source-client broca over the HTTP PUT protocol
// ABOUTME: Reconnects with backoff and pushes ICY title updates out of band
package broca

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ziplantil/exocaster/internal/buffer"
	"github.com/ziplantil/exocaster/internal/fclock"
	"github.com/ziplantil/exocaster/internal/metadata"
	"github.com/ziplantil/exocaster/internal/pcm"
)

func init() {
	Register("shout", newShoutBroca)
}

const (
	shoutDialTimeout  = 10 * time.Second
	shoutMaxOpenDelay = 60 * time.Second
	// shoutSendTries bounds retries of one chunk on a live connection.
	shoutSendTries = 3
)

type shoutConfig struct {
	Host              string  `json:"host"`
	Port              int     `json:"port"`
	Mount             string  `json:"mount"`
	User              string  `json:"user"`
	Password          string  `json:"password"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	Genre             string  `json:"genre"`
	URL               string  `json:"url"`
	Public            bool    `json:"public"`
	SelfSync          bool    `json:"selfsync"`
	SelfSyncThreshold float64 `json:"selfsyncthreshold"`
}

type shoutBroca struct {
	Base
	cfg       shoutConfig
	mime      string
	auth      string
	clock     *fclock.Clock
	threshold int64
}

func newShoutBroca(cfg json.RawMessage, base Base) (Broca, error) {
	c := shoutConfig{SelfSyncThreshold: 0.1}
	if err := json.Unmarshal(cfg, &c); err != nil {
		return nil, fmt.Errorf("shout broca: %w", err)
	}
	switch {
	case c.Host == "":
		return nil, fmt.Errorf("shout broca needs 'host'")
	case c.Port <= 0 || c.Port > 65535:
		return nil, fmt.Errorf("shout broca needs a valid 'port'")
	case c.Mount == "":
		return nil, fmt.Errorf("shout broca needs 'mount'")
	case c.User == "":
		return nil, fmt.Errorf("shout broca needs 'user'")
	case c.Password == "":
		return nil, fmt.Errorf("shout broca needs 'password'")
	}
	if !strings.HasPrefix(c.Mount, "/") {
		c.Mount = "/" + c.Mount
	}

	ef, ok := base.Format.(pcm.EncodedStreamFormat)
	if !ok {
		return nil, fmt.Errorf("shout broca needs an encoded stream format")
	}

	var threshold int64
	if c.SelfSync {
		threshold = int64(c.SelfSyncThreshold * float64(base.FrameRate))
	}
	return &shoutBroca{
		Base: base,
		cfg:  c,
		mime: ef.Codec.MIME(),
		auth: base64.StdEncoding.EncodeToString(
			[]byte(c.User + ":" + c.Password)),
		clock:     fclock.New(base.FrameRate),
		threshold: threshold,
	}, nil
}

// connect opens the source connection: an HTTP/1.1 PUT whose body is
// the stream itself. The server answers before the body starts, which
// is what tells the backoff loop the mount was accepted.
func (b *shoutBroca) connect() (net.Conn, error) {
	addr := net.JoinHostPort(b.cfg.Host, fmt.Sprint(b.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, shoutDialTimeout)
	if err != nil {
		return nil, err
	}

	public := "0"
	if b.cfg.Public {
		public = "1"
	}
	var req strings.Builder
	fmt.Fprintf(&req, "PUT %s HTTP/1.1\r\n", b.cfg.Mount)
	fmt.Fprintf(&req, "Host: %s\r\n", addr)
	fmt.Fprintf(&req, "Authorization: Basic %s\r\n", b.auth)
	fmt.Fprintf(&req, "Content-Type: %s\r\n", b.mime)
	fmt.Fprintf(&req, "Ice-Public: %s\r\n", public)
	for _, h := range []struct{ name, value string }{
		{"Ice-Name", b.cfg.Name},
		{"Ice-Description", b.cfg.Description},
		{"Ice-Genre", b.cfg.Genre},
		{"Ice-URL", b.cfg.URL},
	} {
		if h.value != "" {
			fmt.Fprintf(&req, "%s: %s\r\n", h.name, h.value)
		}
	}
	req.WriteString("Expect: 100-continue\r\n\r\n")

	conn.SetDeadline(time.Now().Add(shoutDialTimeout))
	if _, err := conn.Write([]byte(req.String())); err != nil {
		conn.Close()
		return nil, err
	}
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !strings.Contains(status, " 100 ") && !strings.Contains(status, " 200 ") {
		conn.Close()
		return nil, fmt.Errorf("mount refused: %s", strings.TrimSpace(status))
	}
	conn.SetDeadline(time.Time{})
	return conn, nil
}

func (b *shoutBroca) send(conn net.Conn, chunk []byte) bool {
	for try := 0; try < shoutSendTries; try++ {
		n, err := conn.Write(chunk)
		if err == nil {
			return true
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			chunk = chunk[n:]
			continue
		}
		b.Env.Log.Warn("shout send failed", "error", err)
		return false
	}
	b.Env.Log.Warn("shout send failed", "error", "retries exhausted")
	return false
}

// updateTitle pushes "artist - title" to the admin metadata endpoint,
// which is how Icecast takes ICY title updates for a live source.
func (b *shoutBroca) updateTitle(pr *buffer.PacketRead) {
	payload := make([]byte, pr.Left())
	pr.ReadFull(payload)
	meta, err := metadata.DecodeOOB(payload)
	if err != nil {
		b.Env.Log.Warn("shout metadata packet unreadable", "error", err)
		return
	}
	artist, _ := meta.Get("artist")
	title, _ := meta.Get("title")

	q := url.Values{}
	q.Set("mode", "updinfo")
	q.Set("mount", b.cfg.Mount)
	q.Set("song", artist+" - "+title)
	endpoint := fmt.Sprintf("http://%s/admin/metadata?%s",
		net.JoinHostPort(b.cfg.Host, fmt.Sprint(b.cfg.Port)), q.Encode())

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		b.Env.Log.Warn("shout metadata update failed", "error", err)
		return
	}
	req.SetBasicAuth(b.cfg.User, b.cfg.Password)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		b.Env.Log.Warn("shout metadata update failed", "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.Env.Log.Warn("shout metadata update refused",
			"status", resp.StatusCode)
	}
}

func (b *shoutBroca) Run() {
	var chunk [chunkSize]byte
	openDelay := time.Second
	quitting := false

	for b.shouldRun() && !quitting {
		conn, err := b.connect()
		if err != nil {
			b.Env.Log.Warn("shout connect failed",
				"host", b.cfg.Host, "mount", b.cfg.Mount, "error", err)
			time.Sleep(openDelay)
			openDelay = min(openDelay*2, shoutMaxOpenDelay)
			continue
		}
		b.Env.Log.Info("shout connected",
			"host", b.cfg.Host, "mount", b.cfg.Mount)
		openDelay = time.Second
		b.clock.Reset()

	inner:
		for b.shouldRun() {
			pr, ok := b.Source.ReadPacket()
			if !ok {
				quitting = true
				break
			}
			if pr.Header.Flags&buffer.MetadataPacket != 0 {
				b.updateTitle(&pr)
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
						quitting = true
						break
					}
					continue
				}
				if !b.send(conn, chunk[:n]) {
					time.Sleep(time.Second)
					break inner
				}
			}

			// Keep the push at real time so the server's own buffer
			// does not overrun.
			b.clock.Update(int64(pr.Header.FrameCount))
			b.clock.SleepIf(b.threshold)
		}
		conn.Close()
	}
}
