package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/helio/solwind/internal/metrics"
)

// writeTimeout bounds each individual SSE write so a stalled client
// cannot pin a handler goroutine forever.
const writeTimeout = 10 * time.Second

// client wraps a single SSE connection's write path.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger

	// Per-stream bandwidth budget in bytes per second, 0 = unlimited.
	limit       int
	windowStart time.Time
	windowBytes int
	sleep       func(time.Duration)
}

// sendJSON marshals v and writes it as one SSE data frame.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.sendRaw(data)
}

// sendRaw writes pre-marshaled JSON as an SSE data frame and flushes.
func (c *client) sendRaw(data []byte) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("set write deadline failed", "remote_ip", c.ip, "error", err)
	}

	n, err := fmt.Fprintf(c.w, "data: %s\n\n", data)
	if err != nil {
		return err
	}
	c.flusher.Flush()

	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(n))
	c.throttle(n)

	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		c.logger.Debug("clear write deadline failed", "remote_ip", c.ip, "error", err)
	}
	return nil
}

// sendKeepalive writes an SSE comment frame to keep idle connections open.
func (c *client) sendKeepalive() error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("set write deadline failed", "remote_ip", c.ip, "error", err)
	}

	n, err := fmt.Fprint(c.w, ": keepalive\n\n")
	if err != nil {
		return err
	}
	c.flusher.Flush()

	metrics.AddStreamBytes(int64(n))
	c.throttle(n)

	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		c.logger.Debug("clear write deadline failed", "remote_ip", c.ip, "error", err)
	}
	return nil
}

// throttle counts n against the per-second byte budget and sleeps out the
// remainder of the window once the budget is spent.
func (c *client) throttle(n int) {
	if c.limit <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowBytes = 0
	}
	c.windowBytes += n
	if c.windowBytes < c.limit {
		return
	}
	if remaining := time.Second - now.Sub(c.windowStart); remaining > 0 {
		c.sleep(remaining)
	}
	c.windowStart = time.Now()
	c.windowBytes = 0
}
