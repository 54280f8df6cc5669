package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestInputRouterStdinPreconditions(t *testing.T) {
	cfg := testConfig(t)
	reg := NewRegistry(cfg)
	defer reg.Shutdown(context.Background())
	router := NewInputRouter(reg, cfg)

	interactive, err := reg.Create(Spec{
		Argv:        []string{"cat"},
		Interactive: true,
		Visibility:  VisibilitySharedReadonly,
	}, alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	frozen, err := reg.Create(Spec{
		Argv:       []string{"cat"},
		Visibility: VisibilityPublic,
	}, alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	owner := newFakeConn("owner", alice)
	if _, _, err := interactive.Attach(owner); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	t.Run("UnknownSession", func(t *testing.T) {
		if err := router.HandleStdin(owner, "missing", []byte("x")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("got %v, expected SessionNotFound", err)
		}
	})

	t.Run("NotAttached", func(t *testing.T) {
		loose := newFakeConn("loose", alice)
		if err := router.HandleStdin(loose, interactive.ID, []byte("x")); !errors.Is(err, ErrNotAttached) {
			t.Fatalf("got %v, expected NotAttached", err)
		}
	})

	t.Run("NotInteractive", func(t *testing.T) {
		conn := newFakeConn("v", bob)
		if _, _, err := frozen.Attach(conn); err != nil {
			t.Fatalf("Attach: %v", err)
		}
		if err := router.HandleStdin(conn, frozen.ID, []byte("x")); !errors.Is(err, ErrNotInteractive) {
			t.Fatalf("got %v, expected NotInteractive", err)
		}
	})

	t.Run("ReadonlyViewerForbidden", func(t *testing.T) {
		viewer := newFakeConn("viewer", bob)
		if _, _, err := interactive.Attach(viewer); err != nil {
			t.Fatalf("Attach: %v", err)
		}
		if err := router.HandleStdin(viewer, interactive.ID, []byte("x")); !errors.Is(err, ErrForbidden) {
			t.Fatalf("got %v, expected Forbidden", err)
		}
	})

	t.Run("OwnerWriteReachesPTY", func(t *testing.T) {
		if err := router.HandleStdin(owner, interactive.ID, []byte("ok\n")); err != nil {
			t.Fatalf("owner stdin rejected: %v", err)
		}
		waitFor(t, 5*time.Second, "echo", func() bool {
			return strings.Contains(owner.stdout(), "ok")
		})
	})
}

func TestClampSize(t *testing.T) {
	nan := func() float64 {
		var zero float64
		return zero / zero
	}()

	cases := []struct {
		name       string
		cols, rows float64
		wantC      uint16
		wantR      uint16
	}{
		{"Normal", 120, 40, 120, 40},
		{"BelowFloor", 10, 3, 40, 10},
		{"AtFloor", 40, 10, 40, 10},
		{"Zero", 0, 0, 80, 24},
		{"Negative", -5, -1, 40, 10},
		{"NaN", nan, nan, 80, 24},
		{"Huge", 1e9, 1e9, 65535, 65535},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, r := clampSize(tc.cols, tc.rows)
			if c != tc.wantC || r != tc.wantR {
				t.Fatalf("clampSize(%v, %v) = %d x %d, expected %d x %d", tc.cols, tc.rows, c, r, tc.wantC, tc.wantR)
			}
		})
	}
}

func TestInputRouterResizeRules(t *testing.T) {
	cfg := testConfig(t)
	reg := NewRegistry(cfg)
	defer reg.Shutdown(context.Background())
	router := NewInputRouter(reg, cfg)

	sess, err := reg.Create(Spec{
		Argv:        []string{"cat"},
		Interactive: true,
		Visibility:  VisibilityPublic,
		Cols:        80,
		Rows:        24,
	}, alice)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	conn := newFakeConn("c", alice)

	// Not attached: silently ignored, size unchanged.
	router.HandleResize(conn, sess.ID, 120, 50)
	if c, r := sess.pty.Size(); c != 80 || r != 24 {
		t.Fatalf("resize applied while detached: %dx%d", c, r)
	}

	if _, _, err := sess.Attach(conn); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	router.HandleResize(conn, sess.ID, 120, 50)
	if c, r := sess.pty.Size(); c != 120 || r != 50 {
		t.Fatalf("resize not applied: %dx%d", c, r)
	}

	// Clamped floor.
	router.HandleResize(conn, sess.ID, 1, 1)
	if c, r := sess.pty.Size(); c != 40 || r != 10 {
		t.Fatalf("resize floor not enforced: %dx%d", c, r)
	}
}

func TestPTYResizeEqualIsNoop(t *testing.T) {
	cfg := testConfig(t)
	s := startSession(t, cfg, Spec{
		Argv: []string{"cat"},
		Cols: 100,
		Rows: 30,
	})

	if err := s.pty.Resize(100, 30); err != nil {
		t.Fatalf("equal resize errored: %v", err)
	}
	if c, r := s.pty.Size(); c != 100 || r != 30 {
		t.Fatalf("size changed on equal resize: %dx%d", c, r)
	}
}
