package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/termserve/termserve/src/handler/ws"
	"github.com/termserve/termserve/src/lib/auth"
	"github.com/termserve/termserve/src/lib/config"
)

// Registry is the process-wide index of live and recently terminated
// sessions. It owns their lifecycle end to end: creation, alias uniqueness,
// the cleanup sweep, and graceful shutdown.
type Registry struct {
	cfg *config.Config

	mu       sync.RWMutex
	sessions map[string]*Session
	aliases  map[string]string

	onTerminated []func(*Session)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry builds an empty registry and starts its cleanup loop.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		aliases:  make(map[string]string),
		stopCh:   make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// OnTerminated registers a hook invoked after a session transitions to
// terminated. The scheduler uses this to discard the session's rules.
func (r *Registry) OnTerminated(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTerminated = append(r.onTerminated, fn)
}

// Create allocates, registers and starts a session from a resolved spec.
func (r *Registry) Create(spec Spec, creator auth.User) (*Session, error) {
	if creator.Anonymous() {
		return nil, ErrUnauthenticated
	}

	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, ErrSessionLimit
	}
	if spec.Alias != "" {
		if _, taken := r.aliases[spec.Alias]; taken {
			r.mu.Unlock()
			return nil, ErrAliasTaken
		}
	}
	r.mu.Unlock()

	s, err := New(spec, creator, r.cfg)
	if err != nil {
		return nil, err
	}
	s.onTerminated = r.sessionTerminated

	r.mu.Lock()
	// Re-check under the lock; Create calls can race on the same alias.
	if spec.Alias != "" {
		if _, taken := r.aliases[spec.Alias]; taken {
			r.mu.Unlock()
			return nil, ErrAliasTaken
		}
		r.aliases[spec.Alias] = s.ID
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if err := s.Start(); err != nil {
		r.evict(s)
		return nil, err
	}
	return s, nil
}

// Get resolves a session by id or alias.
func (r *Registry) Get(idOrAlias string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[idOrAlias]; ok {
		return s, nil
	}
	if id, ok := r.aliases[idOrAlias]; ok {
		if s, ok := r.sessions[id]; ok {
			return s, nil
		}
	}
	return nil, ErrSessionNotFound
}

// List returns the sessions visible to the requester, optionally filtered by
// lifecycle state.
func (r *Registry) List(requester auth.User, stateFilter string) []Info {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		if !s.CanAttach(requester) {
			continue
		}
		info := s.Info()
		if stateFilter != "" && info.State != stateFilter {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sessionTerminated(s *Session) {
	r.mu.RLock()
	hooks := make([]func(*Session), len(r.onTerminated))
	copy(hooks, r.onTerminated)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(s)
	}
}

func (r *Registry) evict(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	if s.Alias != "" && r.aliases[s.Alias] == s.ID {
		delete(r.aliases, s.Alias)
	}
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanup(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// cleanup evicts terminated sessions whose retention period has elapsed. The
// on-disk logs stay behind for inspection; only the in-memory index entry
// goes.
func (r *Registry) cleanup(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if !s.Terminated() {
			continue
		}
		if now.Sub(s.EndedAt()) < r.cfg.Retention {
			continue
		}
		delete(r.sessions, id)
		if s.Alias != "" && r.aliases[s.Alias] == id {
			delete(r.aliases, s.Alias)
		}
		logrus.WithField("session", id).Info("evicted terminated session")
	}
}

// Shutdown notifies every attached connection, then terminates all running
// sessions in parallel (SIGTERM, SIGKILL after the kill grace).
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	notified := make(map[string]struct{})
	for _, s := range sessions {
		for _, conn := range s.bcast.conns() {
			if _, done := notified[conn.ID()]; done {
				continue
			}
			notified[conn.ID()] = struct{}{}
			conn.Send(ws.Shutdown())
		}
	}

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		if s.Terminated() {
			continue
		}
		g.Go(func() error {
			s.mu.Lock()
			pty := s.pty
			s.mu.Unlock()
			if pty != nil {
				pty.Terminate(r.cfg.KillGrace)
			} else {
				s.terminate(-1)
			}
			// Wait for the exit path to finish the state transition.
			for !s.Terminated() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(20 * time.Millisecond):
				}
			}
			return nil
		})
	}
	return g.Wait()
}
