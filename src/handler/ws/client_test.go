package ws

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// newQueueClient builds a client whose writer is a plain function, so tests
// can control drain behavior.
func newQueueClient(highWater int, grace time.Duration, write func(ServerMessage) error) *Client {
	c := &Client{
		id:        "test",
		state:     StateOpen,
		highWater: highWater,
		grace:     grace,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		attached:  make(map[string]struct{}),
	}
	c.write = write
	return c
}

func TestClientQueueDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c := newQueueClient(16, time.Minute, func(m ServerMessage) error {
		mu.Lock()
		got = append(got, m.Data)
		mu.Unlock()
		return nil
	})
	go c.writeLoop()
	defer c.Close("test")

	for _, s := range []string{"a", "b", "c", "d"} {
		if !c.Send(Stdout("s", []byte(s), false)) {
			t.Fatalf("Send(%s) rejected", s)
		}
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames delivered", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range []string{"a", "b", "c", "d"} {
		if got[i] != s {
			t.Fatalf("frame %d = %q, expected %q", i, got[i], s)
		}
	}
}

func TestClientBackpressureDropsStdout(t *testing.T) {
	// No writer loop: the queue never drains.
	c := newQueueClient(3, time.Minute, func(ServerMessage) error { return nil })

	for i := 0; i < 3; i++ {
		if !c.Send(Stdout("s", []byte("x"), false)) {
			t.Fatalf("Send %d rejected below high-water", i)
		}
	}
	if c.Send(Stdout("s", []byte("overflow"), false)) {
		t.Fatal("stdout accepted above high-water")
	}
	if c.Dropped() != 1 {
		t.Fatalf("dropped = %d, expected 1", c.Dropped())
	}
}

func TestClientControlFramesEvictStdout(t *testing.T) {
	c := newQueueClient(2, time.Minute, func(ServerMessage) error { return nil })

	c.Send(Stdout("s", []byte("old"), false))
	c.Send(Stdout("s", []byte("new"), false))

	// The control frame replaces the oldest stdout chunk.
	if !c.Send(SessionEnded("s", 0, "now")) {
		t.Fatal("control frame rejected under backpressure")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 2 {
		t.Fatalf("queue length %d, expected 2", len(c.queue))
	}
	if c.queue[0].Data != "new" || c.queue[1].Type != TypeSessionEnded {
		t.Fatalf("queue = [%s %s], expected [stdout:new session_ended]", c.queue[0].Data, c.queue[1].Type)
	}
}

func TestClientSaturationGraceForcesClose(t *testing.T) {
	closed := make(chan string, 1)
	c := newQueueClient(1, 30*time.Millisecond, func(ServerMessage) error { return nil })
	c.onClose = func(_ *Client, reason string) { closed <- reason }

	c.Send(Stdout("s", []byte("fill"), false))
	c.Send(Stdout("s", []byte("drop1"), false)) // starts the saturation clock
	time.Sleep(50 * time.Millisecond)
	c.Send(Stdout("s", []byte("drop2"), false)) // past grace: force close

	select {
	case reason := <-closed:
		if reason != "backpressure" {
			t.Fatalf("close reason %q, expected backpressure", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("saturated conn never closed")
	}
	if c.State() != StateClosed {
		t.Fatalf("state %s, expected closed", c.State())
	}
}

func TestClientCloseDrainsQueuedFrames(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c := newQueueClient(8, time.Minute, func(m ServerMessage) error {
		time.Sleep(20 * time.Millisecond) // slow wire
		mu.Lock()
		got = append(got, m.Data)
		mu.Unlock()
		return nil
	})
	go c.writeLoop()

	for _, s := range []string{"1", "2", "3"} {
		if !c.Send(Stdout("s", []byte(s), false)) {
			t.Fatalf("Send(%s) rejected", s)
		}
	}

	closed := make(chan struct{})
	go func() {
		c.Close("test")
		close(closed)
	}()

	// The connection passes through draining while the writer flushes.
	sawDraining := false
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.State() == StateDraining {
			sawDraining = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawDraining {
		t.Fatal("never observed draining state during close")
	}
	if c.Send(Stdout("s", []byte("late"), false)) {
		t.Fatal("Send accepted while draining")
	}

	<-closed
	if c.State() != StateClosed {
		t.Fatalf("state %s after close, expected closed", c.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("%d frames flushed during drain, expected 3", len(got))
	}
}

func TestClientSendAfterCloseRejected(t *testing.T) {
	c := newQueueClient(4, time.Minute, func(ServerMessage) error { return nil })
	c.Close("test")
	if c.Send(Pong(1)) {
		t.Fatal("Send accepted after close")
	}
}

func TestClientAttachmentSet(t *testing.T) {
	c := newQueueClient(4, time.Minute, func(ServerMessage) error { return nil })
	c.AddAttachment("s1")
	c.AddAttachment("s2")
	c.RemoveAttachment("s1")

	got := c.AttachedSessions()
	if len(got) != 1 || got[0] != "s2" {
		t.Fatalf("attached = %v, expected [s2]", got)
	}
}

func TestServerMessageFraming(t *testing.T) {
	t.Run("AttachedCarriesZeroMarker", func(t *testing.T) {
		data, err := json.Marshal(Attached("s", 0, false))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		// marker 0 must be visible on the wire, not omitted.
		for _, field := range []string{`"history_marker":0`, `"history_byte_offset":0`, `"should_load_history":false`} {
			if !strings.Contains(string(data), field) {
				t.Fatalf("frame %s missing %s", data, field)
			}
		}
	})

	t.Run("ControlClassification", func(t *testing.T) {
		if Stdout("s", []byte("x"), false).Control() {
			t.Fatal("stdout classified as control")
		}
		for _, m := range []ServerMessage{Attached("s", 1, true), Detached("s"), SessionEnded("s", 0, "t"), Error("s", "C", "m"), Pong(1), Shutdown()} {
			if !m.Control() {
				t.Fatalf("%s not classified as control", m.Type)
			}
		}
	})
}
