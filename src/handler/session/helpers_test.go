package session

import (
	"sync"
	"testing"
	"time"

	"github.com/termserve/termserve/src/handler/ws"
	"github.com/termserve/termserve/src/lib/auth"
)

// fakeConn records every frame a session sends it.
type fakeConn struct {
	id   string
	user auth.User

	mu       sync.Mutex
	frames   []ws.ServerMessage
	attached map[string]struct{}
}

func newFakeConn(id string, user auth.User) *fakeConn {
	return &fakeConn{id: id, user: user, attached: make(map[string]struct{})}
}

func (f *fakeConn) ID() string      { return f.id }
func (f *fakeConn) User() auth.User { return f.user }

func (f *fakeConn) Send(msg ws.ServerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, msg)
	return true
}

func (f *fakeConn) AddAttachment(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[sessionID] = struct{}{}
}

func (f *fakeConn) RemoveAttachment(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attached, sessionID)
}

func (f *fakeConn) all() []ws.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ws.ServerMessage, len(f.frames))
	copy(out, f.frames)
	return out
}

// stdout concatenates the payloads of all stdout frames received so far.
func (f *fakeConn) stdout() string {
	var out string
	for _, m := range f.all() {
		if m.Type == ws.TypeStdout {
			out += m.Data
		}
	}
	return out
}

func (f *fakeConn) lastType() string {
	frames := f.all()
	if len(frames) == 0 {
		return ""
	}
	return frames[len(frames)-1].Type
}

func (f *fakeConn) countType(typ string) int {
	n := 0
	for _, m := range f.all() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var (
	alice = auth.User{Username: "alice"}
	bob   = auth.User{Username: "bob"}
	root  = auth.User{Username: "root", Permissions: auth.Permissions{ManageAllSessions: true}}
)
