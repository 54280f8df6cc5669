package session

import (
	"sync"
	"time"
)

// Activity states.
const (
	ActivityActive   = "active"
	ActivityInactive = "inactive"
)

// activityTracker derives a session's active/inactive state from its output
// stream. Output while inactive flips to active immediately, but the
// transition is only recorded once enough contiguous bytes arrive, and
// transitions inside the post-resize suppression window are ignored (resizes
// trigger full-screen redraws that are not user-visible activity).
type activityTracker struct {
	mu sync.Mutex

	inactivityThreshold time.Duration
	resizeSuppression   time.Duration
	minActiveBytes      int

	lastOutputAt time.Time
	lastResizeAt time.Time

	burstBytes int
	recorded   bool

	// lastRecordedAt is the timestamp of the last recorded active transition,
	// exposed as the session's last_activity_at.
	lastRecordedAt time.Time
}

func newActivityTracker(inactivity, suppression time.Duration, minBytes int) *activityTracker {
	return &activityTracker{
		inactivityThreshold: inactivity,
		resizeSuppression:   suppression,
		minActiveBytes:      minBytes,
	}
}

// observe accounts n bytes of output at now. It returns true when this
// observation records a new active transition.
func (a *activityTracker) observe(n int, now time.Time) bool {
	if n <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastOutputAt.IsZero() && now.Sub(a.lastOutputAt) > a.inactivityThreshold {
		// New burst after an inactive gap.
		a.burstBytes = 0
		a.recorded = false
	}
	a.lastOutputAt = now
	a.burstBytes += n

	if a.recorded || a.burstBytes < a.minActiveBytes {
		return false
	}
	if !a.lastResizeAt.IsZero() && now.Sub(a.lastResizeAt) < a.resizeSuppression {
		return false
	}
	a.recorded = true
	a.lastRecordedAt = now
	return true
}

// noteResize opens the suppression window.
func (a *activityTracker) noteResize(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastResizeAt = now
}

// state reports active/inactive at now.
func (a *activityTracker) state(now time.Time) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastOutputAt.IsZero() || now.Sub(a.lastOutputAt) > a.inactivityThreshold {
		return ActivityInactive
	}
	return ActivityActive
}

// lastActivity returns the last recorded active transition time.
func (a *activityTracker) lastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRecordedAt
}
