package session

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/termserve/termserve/src/lib/config"
)

// Resize clamp floors and fallbacks.
const (
	minCols     = 40
	minRows     = 10
	defaultCols = 80
	defaultRows = 24
)

// InputRouter is the single admission point for client input. Stdin is
// checked against attachment, interactivity and the visibility write rule;
// resize is additionally gated by a global and a per-session ops limiter.
// Stdin itself is never rate limited so pastes go through at frame-size
// granularity.
type InputRouter struct {
	reg    *Registry
	cfg    *config.Config
	global *rate.Limiter

	mu         sync.Mutex
	perSession map[string]*rate.Limiter
}

// NewInputRouter builds the router over the registry.
func NewInputRouter(reg *Registry, cfg *config.Config) *InputRouter {
	return &InputRouter{
		reg:        reg,
		cfg:        cfg,
		global:     rate.NewLimiter(rate.Limit(cfg.GlobalOpsPerSecond), int(cfg.GlobalOpsPerSecond)),
		perSession: make(map[string]*rate.Limiter),
	}
}

// HandleStdin validates and forwards raw bytes to a session's PTY.
func (r *InputRouter) HandleStdin(conn Conn, sessionID string, data []byte) error {
	sess, err := r.reg.Get(sessionID)
	if err != nil {
		return err
	}
	// The scheduler's pseudo-connection injects input without an attachment;
	// everyone else must be attached.
	if !sess.IsAttached(conn.ID()) && !conn.User().Permissions.Broadcast {
		return ErrNotAttached
	}
	if !sess.Spec.Interactive {
		return ErrNotInteractive
	}
	if !sess.CanWrite(conn.User()) {
		return ErrForbidden
	}
	return sess.WriteStdin(data)
}

// HandleResize validates, clamps and applies a window size change. Most
// failure modes are silently ignored: resizes race detaches, disconnects and
// termination by nature, and a stale resize is never worth an error frame.
func (r *InputRouter) HandleResize(conn Conn, sessionID string, cols, rows float64) {
	sess, err := r.reg.Get(sessionID)
	if err != nil {
		return
	}
	if !sess.IsAttached(conn.ID()) {
		return
	}
	// No attached clients means nothing is rendering; ignore so a hidden
	// session cannot be shrunk.
	if sess.ConnectedClients() == 0 {
		return
	}
	if !r.global.Allow() || !r.sessionLimiter(sessionID).Allow() {
		logrus.WithField("session", sessionID).Debug("resize dropped by ops limiter")
		return
	}

	c, rws := clampSize(cols, rows)
	if err := sess.ResizePTY(c, rws); err != nil {
		logrus.WithField("session", sessionID).Debugf("resize failed: %v", err)
	}
}

// clampSize coerces non-finite and zero (unset) values to the defaults and
// enforces the minimum window; negative values are clamped to the floor.
func clampSize(cols, rows float64) (uint16, uint16) {
	if math.IsNaN(cols) || math.IsInf(cols, 0) || cols == 0 {
		cols = defaultCols
	}
	if math.IsNaN(rows) || math.IsInf(rows, 0) || rows == 0 {
		rows = defaultRows
	}
	if cols < minCols {
		cols = minCols
	}
	if rows < minRows {
		rows = minRows
	}
	if cols > math.MaxUint16 {
		cols = math.MaxUint16
	}
	if rows > math.MaxUint16 {
		rows = math.MaxUint16
	}
	return uint16(cols), uint16(rows)
}

func (r *InputRouter) sessionLimiter(sessionID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.perSession[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.cfg.PerSessionOpsPerSecond), int(r.cfg.PerSessionOpsPerSecond))
		r.perSession[sessionID] = lim
	}
	return lim
}

// forgetSession drops the per-session limiter once a session is evicted.
func (r *InputRouter) forgetSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perSession, sessionID)
}
