package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/src/lib/auth"
)

// Client state. A closing connection passes through draining while the
// writer flushes already-queued frames (session_ended, shutdown) to the wire.
const (
	StateOpen     = "open"
	StateDraining = "draining"
	StateClosed   = "closed"
)

// drainTimeout bounds how long Close waits for the writer to empty the queue
// before the socket is torn down regardless.
const drainTimeout = 250 * time.Millisecond

// Client is one WebSocket connection: identity, the set of attached sessions,
// and a bounded send queue drained by a single writer goroutine.
//
// Backpressure policy: when the queue is at its high-water mark, additional
// stdout frames are dropped with a counter bump; control frames evict the
// oldest queued stdout frame instead of being dropped. A connection that
// stays saturated past the grace period is forcibly closed.
type Client struct {
	id   string
	user auth.User

	sock  *websocket.Conn
	write func(ServerMessage) error

	mu             sync.Mutex
	queue          []ServerMessage
	state          string
	saturatedSince time.Time
	dropped        uint64

	highWater int
	grace     time.Duration

	notify chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	onClose   func(*Client, string)

	attachMu sync.Mutex
	attached map[string]struct{}
}

// NewClient wraps an upgraded WebSocket connection. onClose runs exactly once
// when the connection is torn down, after the writer has stopped.
func NewClient(user auth.User, sock *websocket.Conn, highWater int, grace time.Duration, onClose func(*Client, string)) *Client {
	c := &Client{
		id:        uuid.NewString(),
		user:      user,
		sock:      sock,
		state:     StateOpen,
		highWater: highWater,
		grace:     grace,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		onClose:   onClose,
		attached:  make(map[string]struct{}),
	}
	c.write = c.writeFrame
	go c.writeLoop()
	return c
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// User returns the authenticated identity behind the connection.
func (c *Client) User() auth.User { return c.user }

// State returns the connection state.
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dropped returns the number of frames dropped to backpressure.
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Send enqueues a frame for delivery. It never blocks; it reports whether the
// frame was accepted.
func (c *Client) Send(msg ServerMessage) bool {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return false
	}

	if len(c.queue) < c.highWater {
		c.queue = append(c.queue, msg)
		c.saturatedSince = time.Time{}
		c.mu.Unlock()
		c.kick()
		return true
	}

	// Saturated. Control frames take the slot of the oldest stdout frame;
	// stdout frames are dropped.
	if msg.Control() {
		evicted := false
		for i := range c.queue {
			if !c.queue[i].Control() {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				c.dropped++
				evicted = true
				break
			}
		}
		// All-control queue: exceed the mark rather than lose a control frame.
		c.queue = append(c.queue, msg)
		if !evicted {
			logrus.WithField("conn", c.id).Warn("send queue over high-water with control frames")
		}
		c.mu.Unlock()
		c.kick()
		return true
	}

	c.dropped++
	forceClose := false
	if c.saturatedSince.IsZero() {
		c.saturatedSince = time.Now()
	} else if time.Since(c.saturatedSince) > c.grace {
		forceClose = true
	}
	c.mu.Unlock()

	if forceClose {
		logrus.WithField("conn", c.id).Warnf("connection saturated for over %v, closing", c.grace)
		c.Close("backpressure")
	}
	return false
}

func (c *Client) kick() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if err := c.write(msg); err != nil {
				logrus.WithField("conn", c.id).Debugf("write failed: %v", err)
				c.Close("write_failed")
				return
			}
		}
	}
}

func (c *Client) writeFrame(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down: no new frames are accepted, the writer
// gets a bounded window to drain what is already queued, then the socket
// goes away. Idempotent; the first caller's reason wins.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDraining
		c.mu.Unlock()
		c.kick()

		deadline := time.Now().Add(drainTimeout)
		for time.Now().Before(deadline) {
			c.mu.Lock()
			pending := len(c.queue)
			c.mu.Unlock()
			if pending == 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		c.mu.Lock()
		c.state = StateClosed
		c.queue = nil
		c.mu.Unlock()
		close(c.done)
		if c.sock != nil {
			_ = c.sock.Close()
		}
		if c.onClose != nil {
			c.onClose(c, reason)
		}
	})
}

// Done is closed when the connection has been torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// AddAttachment records membership on the connection side. Attachment is
// symmetric: the session side tracks this connection too.
func (c *Client) AddAttachment(sessionID string) {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	c.attached[sessionID] = struct{}{}
}

// RemoveAttachment drops membership on the connection side.
func (c *Client) RemoveAttachment(sessionID string) {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	delete(c.attached, sessionID)
}

// AttachedSessions lists the sessions this connection is attached to.
func (c *Client) AttachedSessions() []string {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	out := make([]string, 0, len(c.attached))
	for id := range c.attached {
		out = append(out, id)
	}
	return out
}
