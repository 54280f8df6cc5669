package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/src/handler/ws"
	"github.com/termserve/termserve/src/lib/auth"
)

// Conn is the session-side view of an attached client connection. *ws.Client
// implements it; the scheduler supplies a pseudo-connection.
type Conn interface {
	ID() string
	User() auth.User
	// Send enqueues a frame without blocking and reports acceptance.
	Send(msg ws.ServerMessage) bool
	AddAttachment(sessionID string)
	RemoveAttachment(sessionID string)
}

// Attachment protocol states. Buffering holds live output in the pending
// queue while the client fetches history; Live forwards directly; Dropped is
// terminal (overflow or detach).
type attachState int

const (
	attachBuffering attachState = iota
	attachLive
	attachDropped
)

// attachment is the per-(session, conn) protocol state.
type attachment struct {
	conn         Conn
	marker       uint64
	state        attachState
	pending      [][]byte
	pendingBytes int
	graceTimer   *time.Timer
	attachedAt   time.Time
}

// broadcaster fans session output out to attached connections, honoring each
// attachment's history-sync gate. All hand-off is non-blocking; a slow
// connection's frames are dropped by its own queue, never buffered here.
type broadcaster struct {
	sessionID  string
	maxPending int

	mu          sync.Mutex
	attachments map[string]*attachment
}

func newBroadcaster(sessionID string, maxPending int) *broadcaster {
	return &broadcaster{
		sessionID:   sessionID,
		maxPending:  maxPending,
		attachments: make(map[string]*attachment),
	}
}

// add registers a connection. live skips the buffering phase entirely (the
// client was told not to load history, so there is nothing to wait for).
// The caller invokes this under the OutputLog append lock so that marker is
// exact: every byte at seq >= marker flows through this attachment and no
// byte below it does.
func (b *broadcaster) add(conn Conn, marker uint64, live bool) *attachment {
	att := &attachment{
		conn:       conn,
		marker:     marker,
		attachedAt: time.Now(),
	}
	if live {
		att.state = attachLive
	}
	b.mu.Lock()
	b.attachments[conn.ID()] = att
	b.mu.Unlock()
	return att
}

// publish distributes one output chunk. Called under the OutputLog append
// lock; must not block. Returns connections whose pending queue overflowed so
// the session can finish detaching them outside the fan-out loop.
func (b *broadcaster) publish(data []byte) []Conn {
	b.mu.Lock()
	defer b.mu.Unlock()

	var overflowed []Conn
	for id, att := range b.attachments {
		switch att.state {
		case attachDropped:
			continue
		case attachBuffering:
			if att.pendingBytes+len(data) > b.maxPending {
				// Whole-queue drop: the client must re-attach and take a
				// fresh marker.
				att.state = attachDropped
				att.pending = nil
				att.pendingBytes = 0
				att.stopGrace()
				delete(b.attachments, id)
				overflowed = append(overflowed, att.conn)
				continue
			}
			chunk := make([]byte, len(data))
			copy(chunk, data)
			att.pending = append(att.pending, chunk)
			att.pendingBytes += len(data)
		case attachLive:
			att.conn.Send(ws.Stdout(b.sessionID, data, false))
		}
	}
	return overflowed
}

// markLoaded opens an attachment's live gate: the pending queue is flushed in
// order, then subsequent output is forwarded directly. Idempotent; a second
// history_loaded is a no-op. Returns false when the connection is unknown.
func (b *broadcaster) markLoaded(connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	att, ok := b.attachments[connID]
	if !ok {
		return false
	}
	if att.state != attachBuffering {
		return true
	}
	att.stopGrace()
	for _, chunk := range att.pending {
		att.conn.Send(ws.Stdout(b.sessionID, chunk, true))
	}
	att.pending = nil
	att.pendingBytes = 0
	att.state = attachLive
	return true
}

// remove discards an attachment and its pending queue.
func (b *broadcaster) remove(connID string) (Conn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	att, ok := b.attachments[connID]
	if !ok {
		return nil, false
	}
	att.state = attachDropped
	att.pending = nil
	att.pendingBytes = 0
	att.stopGrace()
	delete(b.attachments, connID)
	return att.conn, true
}

// removeAll drains every attachment, returning the connections that were
// attached. Used on session termination.
func (b *broadcaster) removeAll() []Conn {
	b.mu.Lock()
	defer b.mu.Unlock()

	conns := make([]Conn, 0, len(b.attachments))
	for id, att := range b.attachments {
		att.state = attachDropped
		att.pending = nil
		att.stopGrace()
		delete(b.attachments, id)
		conns = append(conns, att.conn)
	}
	return conns
}

// attached reports whether the connection is currently attached.
func (b *broadcaster) attached(connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.attachments[connID]
	return ok
}

// count returns the number of attached connections.
func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.attachments)
}

// conns returns the currently attached connections.
func (b *broadcaster) conns() []Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Conn, 0, len(b.attachments))
	for _, att := range b.attachments {
		out = append(out, att.conn)
	}
	return out
}

// setGrace installs the history-load grace timer on an attachment.
func (b *broadcaster) setGrace(connID string, d time.Duration, expired func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	att, ok := b.attachments[connID]
	if !ok || att.state != attachBuffering {
		return
	}
	att.graceTimer = time.AfterFunc(d, expired)
}

func (att *attachment) stopGrace() {
	if att.graceTimer != nil {
		att.graceTimer.Stop()
		att.graceTimer = nil
	}
}

// graceExpired is the documented history-timeout policy: open the gate and
// flush whatever buffered, so the client keeps a contiguous live suffix from
// its marker. The abandoned history prefix is the client's loss, duplicates
// are impossible.
func (b *broadcaster) graceExpired(connID string) {
	b.mu.Lock()
	att, ok := b.attachments[connID]
	stillBuffering := ok && att.state == attachBuffering
	b.mu.Unlock()
	if !stillBuffering {
		return
	}
	logrus.WithFields(logrus.Fields{
		"session": b.sessionID,
		"conn":    connID,
	}).Warn("history_loaded not received within grace, opening live gate")
	b.markLoaded(connID)
}
