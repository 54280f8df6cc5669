package schedule

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/src/handler/session"
	"github.com/termserve/termserve/src/handler/ws"
	"github.com/termserve/termserve/src/lib/auth"
	"github.com/termserve/termserve/src/lib/config"
)

// Scheduler owns the scheduled-input rules of every session. Fires are
// dispatched through the InputRouter under a pseudo-connection carrying the
// session owner's identity, so the normal admission path (interactivity,
// write ACL) still applies.
type Scheduler struct {
	cfg   *config.Config
	reg   *session.Registry
	input *session.InputRouter

	mu     sync.Mutex
	rules  map[string]*Rule
	timers map[string]*time.Timer
	// sent counts synthesized messages per session over its lifetime.
	sent map[string]int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler builds the scheduler and hooks session termination so rules
// never outlive their session.
func NewScheduler(reg *session.Registry, input *session.InputRouter, cfg *config.Config) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		reg:    reg,
		input:  input,
		rules:  make(map[string]*Rule),
		timers: make(map[string]*time.Timer),
		sent:   make(map[string]int),
		stopCh: make(chan struct{}),
	}
	reg.OnTerminated(func(sess *session.Session) {
		s.DropSession(sess.ID)
	})
	return s
}

// Stop cancels all timers. Rules already snapshotted stay on disk.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Add registers a rule on a running session and arms its timer.
func (s *Scheduler) Add(sessionID string, rule Rule) (*Rule, error) {
	sess, err := s.reg.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Terminated() {
		return nil, session.ErrAlreadyTerminated
	}
	if !sess.Spec.Interactive {
		return nil, session.ErrNotInteractive
	}

	rule.SessionID = sess.ID
	if err := rule.validate(s.cfg.MaxBytesPerRuleData); err != nil {
		return nil, err
	}
	rule.RuleID = uuid.NewString()
	rule.NextRunAt = time.Now().Add(time.Duration(rule.DelayMS) * time.Millisecond)

	s.mu.Lock()
	if s.countForSessionLocked(sess.ID) >= s.cfg.MaxRulesPerSession {
		s.mu.Unlock()
		return nil, session.ErrScheduleCapExceeded.WithMessage("at most %d rules per session", s.cfg.MaxRulesPerSession)
	}
	if s.sent[sess.ID] >= s.cfg.MaxMessagesPerSession {
		s.mu.Unlock()
		return nil, session.ErrScheduleCapExceeded.WithMessage("session reached its %d scheduled message cap", s.cfg.MaxMessagesPerSession)
	}
	r := rule
	s.rules[r.RuleID] = &r
	s.armLocked(&r)
	s.mu.Unlock()

	s.snapshot(sess)
	logrus.WithFields(logrus.Fields{
		"session": sess.ID,
		"rule":    r.RuleID,
		"type":    r.Type,
	}).Info("scheduled rule added")
	return &r, nil
}

// Remove cancels and deletes a rule.
func (s *Scheduler) Remove(ruleID string) error {
	s.mu.Lock()
	r, ok := s.rules[ruleID]
	if !ok {
		s.mu.Unlock()
		return session.ErrRuleNotFound
	}
	s.removeLocked(ruleID)
	s.mu.Unlock()

	if sess, err := s.reg.Get(r.SessionID); err == nil {
		s.snapshot(sess)
	}
	return nil
}

// SetPaused pauses or resumes a rule. Paused interval rules keep their timer
// cadence but skip delivery.
func (s *Scheduler) SetPaused(ruleID string, paused bool) error {
	s.mu.Lock()
	r, ok := s.rules[ruleID]
	if !ok {
		s.mu.Unlock()
		return session.ErrRuleNotFound
	}
	r.Paused = paused
	s.mu.Unlock()

	if sess, err := s.reg.Get(r.SessionID); err == nil {
		s.snapshot(sess)
	}
	return nil
}

// Get returns a rule by id.
func (s *Scheduler) Get(ruleID string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return Rule{}, session.ErrRuleNotFound
	}
	return *r, nil
}

// ListForSession returns a session's rules.
func (s *Scheduler) ListForSession(sessionID string) []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, 0)
	for _, r := range s.rules {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	return out
}

// DropSession discards all rules of a session (terminated or evicted).
func (s *Scheduler) DropSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rules {
		if r.SessionID == sessionID {
			s.removeLocked(id)
		}
	}
	delete(s.sent, sessionID)
}

func (s *Scheduler) countForSessionLocked(sessionID string) int {
	n := 0
	for _, r := range s.rules {
		if r.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (s *Scheduler) removeLocked(ruleID string) {
	if t, ok := s.timers[ruleID]; ok {
		t.Stop()
		delete(s.timers, ruleID)
	}
	delete(s.rules, ruleID)
}

func (s *Scheduler) armLocked(r *Rule) {
	d := time.Until(r.NextRunAt)
	if d < 0 {
		d = 0
	}
	id := r.RuleID
	s.timers[id] = time.AfterFunc(d, func() { s.fire(id) })
}

// fire runs one rule occurrence: resolve the session, apply the activity
// policy, synthesize the input, then reschedule or retire the rule.
func (s *Scheduler) fire(ruleID string) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.mu.Lock()
	r, ok := s.rules[ruleID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rule := *r
	s.mu.Unlock()

	sess, err := s.reg.Get(rule.SessionID)
	if err != nil || sess.Terminated() {
		s.mu.Lock()
		s.removeLocked(ruleID)
		s.mu.Unlock()
		return
	}

	delivered := false
	if !rule.Paused {
		delivered = s.deliver(sess, rule)
	}

	s.mu.Lock()
	r, ok = s.rules[ruleID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if delivered {
		r.fired++
		s.sent[rule.SessionID]++
	}
	retire := r.Type == TypeOneShot ||
		(r.StopAfter > 0 && r.fired >= r.StopAfter) ||
		s.sent[rule.SessionID] >= s.cfg.MaxMessagesPerSession
	if retire {
		s.removeLocked(ruleID)
	} else {
		r.NextRunAt = time.Now().Add(time.Duration(r.DelayMS) * time.Millisecond)
		s.armLocked(r)
	}
	s.mu.Unlock()

	s.snapshot(sess)
}

// deliver applies the activity policy and writes the rule's payload through
// the input router. Returns whether anything was written.
func (s *Scheduler) deliver(sess *session.Session, rule Rule) bool {
	switch rule.Options.ActivityPolicy {
	case PolicySuppress:
		if sess.ActivityState() == session.ActivityActive {
			logrus.WithFields(logrus.Fields{
				"session": sess.ID,
				"rule":    rule.RuleID,
			}).Debug("fire suppressed, session active")
			return false
		}
	case PolicyDefer:
		if !s.waitInactive(sess) {
			logrus.WithFields(logrus.Fields{
				"session": sess.ID,
				"rule":    rule.RuleID,
			}).Debug("defer wait expired, sending anyway")
		}
	}

	conn := &pseudoConn{
		id:   "scheduler:" + rule.RuleID,
		user: auth.User{Username: sess.CreatedBy, Permissions: auth.Permissions{Broadcast: true}},
	}

	var err error
	if rule.Options.SimulateTyping {
		err = s.typeOut(conn, sess.ID, rule)
	} else {
		err = s.input.HandleStdin(conn, sess.ID, rule.payload())
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session": sess.ID,
			"rule":    rule.RuleID,
		}).Warn("scheduled input rejected")
		return false
	}
	return true
}

// typeOut writes the data rune by rune with the configured delay, then the
// enter suffix in one final write.
func (s *Scheduler) typeOut(conn session.Conn, sessionID string, rule Rule) error {
	delay := time.Duration(rule.Options.TypingDelayMS) * time.Millisecond
	for _, ch := range rule.Data {
		if err := s.input.HandleStdin(conn, sessionID, []byte(string(ch))); err != nil {
			return err
		}
		select {
		case <-s.stopCh:
			return nil
		case <-time.After(delay):
		}
	}
	if rule.Options.Submit {
		enter := Rule{Options: rule.Options}
		return s.input.HandleStdin(conn, sessionID, enter.payload())
	}
	return nil
}

// waitInactive blocks until the session goes inactive or the defer bound
// expires. Reports whether inactivity was reached.
func (s *Scheduler) waitInactive(sess *session.Session) bool {
	deadline := time.Now().Add(s.cfg.ScheduleDeferMaxWait)
	for time.Now().Before(deadline) {
		if sess.Terminated() || sess.ActivityState() == session.ActivityInactive {
			return true
		}
		select {
		case <-s.stopCh:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

// pseudoConn is the scheduler's stand-in connection: owner identity, the
// broadcast permission, and nowhere for frames to go.
type pseudoConn struct {
	id   string
	user auth.User
}

func (p *pseudoConn) ID() string                 { return p.id }
func (p *pseudoConn) User() auth.User            { return p.user }
func (p *pseudoConn) Send(ws.ServerMessage) bool { return true }
func (p *pseudoConn) AddAttachment(string)       {}
func (p *pseudoConn) RemoveAttachment(string)    {}
