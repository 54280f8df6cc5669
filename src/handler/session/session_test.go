package session

import (
	"strings"
	"testing"
	"time"

	"github.com/termserve/termserve/src/handler/ws"
	"github.com/termserve/termserve/src/lib/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.AttachGrace = 2 * time.Second
	return cfg
}

func startSession(t *testing.T, cfg *config.Config, spec Spec) *Session {
	t.Helper()
	s, err := New(spec, alice, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if !s.Terminated() {
			s.Terminate(root)
			waitFor(t, 5*time.Second, "session teardown", s.Terminated)
		}
	})
	return s
}

// Single client clean replay: a short-lived session's full output is served
// through the attach/history protocol after the process has exited.
func TestSessionCleanReplayAfterExit(t *testing.T) {
	cfg := testConfig(t)
	s := startSession(t, cfg, Spec{
		Argv:        []string{"sh", "-c", "printf ABCDE"},
		SaveHistory: true,
		LoadHistory: true,
	})

	waitFor(t, 5*time.Second, "process exit", s.Terminated)
	waitFor(t, 5*time.Second, "output flushed", func() bool {
		return s.OutputSeq() == 5
	})

	conn := newFakeConn("c1", alice)
	marker, shouldLoad, err := s.Attach(conn)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if marker != 5 || !shouldLoad {
		t.Fatalf("Attach = marker %d shouldLoad %v, expected 5 true", marker, shouldLoad)
	}

	frames := conn.all()
	if len(frames) == 0 || frames[0].Type != ws.TypeAttached {
		t.Fatalf("first frame %+v, expected attached", frames)
	}
	if *frames[0].HistoryMarker != 5 || *frames[0].HistoryByteOffset != 5 {
		t.Fatalf("attached frame markers = %d/%d, expected 5/5", *frames[0].HistoryMarker, *frames[0].HistoryByteOffset)
	}

	history, err := s.Log().ReadRange(0, marker-1)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(history) != "ABCDE" {
		t.Fatalf("history = %q, expected ABCDE", history)
	}

	if err := s.HistoryLoaded(conn); err != nil {
		t.Fatalf("HistoryLoaded: %v", err)
	}
	if conn.lastType() != ws.TypeSessionEnded {
		t.Fatalf("last frame %s, expected session_ended", conn.lastType())
	}
	for _, m := range conn.all() {
		if m.Type == ws.TypeSessionEnded && *m.ExitCode != 0 {
			t.Fatalf("exit code %d, expected 0", *m.ExitCode)
		}
	}
	if s.IsAttached("c1") {
		t.Fatal("replay attachment not released after session_ended")
	}
}

// Reconnect mid-stream: a second attach sees a marker covering everything the
// first client consumed plus what it missed, and the combined history + live
// stream has no gap and no duplicate.
func TestSessionReconnectMidStream(t *testing.T) {
	cfg := testConfig(t)
	s := startSession(t, cfg, Spec{
		Argv:        []string{"cat"},
		Interactive: true,
		SaveHistory: true,
		LoadHistory: true,
	})

	connA := newFakeConn("a", alice)
	markerA, _, err := s.Attach(connA)
	if err != nil {
		t.Fatalf("Attach A: %v", err)
	}
	if markerA != 0 {
		t.Fatalf("first marker = %d, expected 0", markerA)
	}
	if err := s.HistoryLoaded(connA); err != nil {
		t.Fatalf("HistoryLoaded A: %v", err)
	}

	if err := s.WriteStdin([]byte("hello\n")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	waitFor(t, 5*time.Second, "echo output", func() bool {
		return s.OutputSeq() > 0
	})

	// A drops; more output happens while nobody is attached.
	s.Detach(connA)
	before := s.OutputSeq()
	if err := s.WriteStdin([]byte("world\n")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	waitFor(t, 5*time.Second, "more output", func() bool {
		return s.OutputSeq() > before
	})

	connB := newFakeConn("b", alice)
	markerB, shouldLoad, err := s.Attach(connB)
	if err != nil {
		t.Fatalf("Attach B: %v", err)
	}
	if !shouldLoad {
		t.Fatal("reconnect should load history")
	}
	if markerB < before {
		t.Fatalf("reconnect marker %d below %d", markerB, before)
	}

	history, err := s.Log().ReadRange(0, markerB-1)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if uint64(len(history)) != markerB {
		t.Fatalf("history length %d, marker %d", len(history), markerB)
	}
	if err := s.HistoryLoaded(connB); err != nil {
		t.Fatalf("HistoryLoaded B: %v", err)
	}

	if err := s.WriteStdin([]byte("again\n")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	waitFor(t, 5*time.Second, "live output to B", func() bool {
		return strings.Contains(connB.stdout(), "again")
	})

	// No gap, no duplicate: history + everything B saw live equals the
	// canonical stream.
	waitFor(t, 5*time.Second, "stream settled", func() bool {
		full, err := s.Log().ReadRange(0, s.OutputSeq()-1)
		if err != nil {
			return false
		}
		return string(history)+connB.stdout() == string(full)
	})
}

func TestSessionVisibilityEnforcement(t *testing.T) {
	cfg := testConfig(t)

	t.Run("PrivateRejectsOthers", func(t *testing.T) {
		s := startSession(t, cfg, Spec{
			Argv:        []string{"cat"},
			Interactive: true,
			Visibility:  VisibilityPrivate,
		})
		if _, _, err := s.Attach(newFakeConn("b", bob)); err != ErrForbidden {
			t.Fatalf("bob attach to private session: %v, expected Forbidden", err)
		}
		if _, _, err := s.Attach(newFakeConn("r", root)); err != nil {
			t.Fatalf("admin attach to private session: %v", err)
		}
	})

	t.Run("SharedReadonlyAllowsAttachRejectsWrite", func(t *testing.T) {
		s := startSession(t, cfg, Spec{
			Argv:        []string{"cat"},
			Interactive: true,
			Visibility:  VisibilitySharedReadonly,
		})
		conn := newFakeConn("b", bob)
		if _, _, err := s.Attach(conn); err != nil {
			t.Fatalf("bob attach to shared_readonly session: %v", err)
		}
		if s.CanWrite(bob) {
			t.Fatal("bob may write to shared_readonly session")
		}
		if !s.CanWrite(alice) || !s.CanWrite(root) {
			t.Fatal("owner/admin write to shared_readonly session denied")
		}

		// Bob still receives output produced by the owner.
		if err := s.WriteStdin([]byte("x\n")); err != nil {
			t.Fatalf("WriteStdin: %v", err)
		}
		waitFor(t, 5*time.Second, "stdout to readonly viewer", func() bool {
			return len(conn.stdout()) > 0
		})
	})

	t.Run("PublicAllowsAuthenticatedWrite", func(t *testing.T) {
		s := startSession(t, cfg, Spec{
			Argv:        []string{"cat"},
			Interactive: true,
			Visibility:  VisibilityPublic,
		})
		if !s.CanWrite(bob) {
			t.Fatal("bob may not write to public session")
		}
	})
}

func TestSessionEndedIsLastFrame(t *testing.T) {
	cfg := testConfig(t)
	s := startSession(t, cfg, Spec{
		Argv:        []string{"cat"},
		Interactive: true,
	})

	conn := newFakeConn("c", alice)
	if _, _, err := s.Attach(conn); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := s.Terminate(alice); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	waitFor(t, 5*time.Second, "termination", s.Terminated)
	waitFor(t, 5*time.Second, "session_ended", func() bool {
		return conn.countType(ws.TypeSessionEnded) == 1
	})

	// Nothing may follow session_ended.
	time.Sleep(100 * time.Millisecond)
	if conn.lastType() != ws.TypeSessionEnded {
		t.Fatalf("frame after session_ended: %s", conn.lastType())
	}

	if err := s.Terminate(alice); err != ErrAlreadyTerminated {
		t.Fatalf("second Terminate: %v, expected AlreadyTerminated", err)
	}
}

func TestSessionDetachClient(t *testing.T) {
	cfg := testConfig(t)
	s := startSession(t, cfg, Spec{
		Argv:       []string{"cat"},
		Visibility: VisibilityPublic,
	})

	target := newFakeConn("t", bob)
	if _, _, err := s.Attach(target); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := s.DetachClient(bob, target.ID()); err != ErrForbidden {
		t.Fatalf("non-owner detach_client: %v, expected Forbidden", err)
	}
	if err := s.DetachClient(alice, target.ID()); err != nil {
		t.Fatalf("owner detach_client: %v", err)
	}
	if target.lastType() != ws.TypeDetached {
		t.Fatalf("target last frame %s, expected detached", target.lastType())
	}
	// Source behavior preserved: detaching a conn that is not attached errors.
	if err := s.DetachClient(alice, target.ID()); err != ErrNotAttached {
		t.Fatalf("detach_client on detached target: %v, expected NotAttached", err)
	}
}

func TestSessionReattachMarkerMonotonic(t *testing.T) {
	cfg := testConfig(t)
	s := startSession(t, cfg, Spec{
		Argv:        []string{"sh", "-c", "printf 0123456789; exec cat"},
		Interactive: true,
		SaveHistory: true,
		LoadHistory: true,
	})
	waitFor(t, 5*time.Second, "banner output", func() bool {
		return s.OutputSeq() >= 10
	})

	conn := newFakeConn("c", alice)
	first, _, err := s.Attach(conn)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s.Detach(conn)
	second, _, err := s.Attach(conn)
	if err != nil {
		t.Fatalf("re-Attach: %v", err)
	}
	if second < first {
		t.Fatalf("second marker %d below first %d", second, first)
	}
}

func TestActivityTracker(t *testing.T) {
	base := time.Now()

	t.Run("RecordsAfterMinBytes", func(t *testing.T) {
		a := newActivityTracker(time.Second, 250*time.Millisecond, 32)
		if a.observe(16, base) {
			t.Fatal("recorded below min_active_bytes")
		}
		if !a.observe(16, base.Add(10*time.Millisecond)) {
			t.Fatal("not recorded at min_active_bytes")
		}
		if a.observe(100, base.Add(20*time.Millisecond)) {
			t.Fatal("recorded twice within one burst")
		}
	})

	t.Run("ResizeSuppression", func(t *testing.T) {
		a := newActivityTracker(time.Second, 250*time.Millisecond, 32)
		a.noteResize(base)
		if a.observe(64, base.Add(100*time.Millisecond)) {
			t.Fatal("recorded inside resize suppression window")
		}
		if !a.observe(64, base.Add(400*time.Millisecond)) {
			t.Fatal("not recorded after suppression window")
		}
	})

	t.Run("InactiveAfterThreshold", func(t *testing.T) {
		a := newActivityTracker(time.Second, 250*time.Millisecond, 32)
		a.observe(64, base)
		if got := a.state(base.Add(500 * time.Millisecond)); got != ActivityActive {
			t.Fatalf("state = %s, expected active", got)
		}
		if got := a.state(base.Add(2 * time.Second)); got != ActivityInactive {
			t.Fatalf("state = %s, expected inactive", got)
		}
		// A new burst after the gap records again.
		if a.observe(16, base.Add(3*time.Second)) {
			t.Fatal("recorded with only 16 fresh bytes")
		}
		if !a.observe(16, base.Add(3*time.Second+time.Millisecond)) {
			t.Fatal("new burst not recorded")
		}
	})
}
