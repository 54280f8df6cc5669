package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/src/handler/ws"
	"github.com/termserve/termserve/src/lib/auth"
	"github.com/termserve/termserve/src/lib/config"
)

// Visibility governs who may attach to and write into a session.
const (
	VisibilityPrivate        = "private"
	VisibilitySharedReadonly = "shared_readonly"
	VisibilityPublic         = "public"
)

// Session lifecycle states. The transition chain is one-way:
// created -> running -> terminated.
const (
	StateCreated    = "created"
	StateRunning    = "running"
	StateTerminated = "terminated"
)

// Spec is the fully resolved description a session is created from. Template
// rendering, workspace materialization and isolation mechanics all happen
// upstream; the runtime only honors the resulting argv/cwd/env.
type Spec struct {
	Argv        []string          `json:"argv" binding:"required"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cols        uint16            `json:"cols,omitempty"`
	Rows        uint16            `json:"rows,omitempty"`
	Interactive bool              `json:"interactive"`
	LoadHistory bool              `json:"load_history"`
	SaveHistory bool              `json:"save_history"`
	Visibility  string            `json:"visibility,omitempty"`
	Alias       string            `json:"alias,omitempty"`
	// Isolation is an opaque tag ({none, directory, container}); the argv the
	// spec carries already reflects it.
	Isolation string `json:"isolation,omitempty"`
}

// Session binds one PTY child process to its output log, history store and
// attached connections, and owns their shared lifecycle.
type Session struct {
	ID        string
	Alias     string
	CreatedBy string
	Spec      Spec

	cfg *config.Config
	dir string

	mu        sync.Mutex
	state     string
	createdAt time.Time
	endedAt   time.Time
	exitCode  int

	lastUserInputAt time.Time

	pty      *PTYProcess
	log      *OutputLog
	store    *HistoryStore
	bcast    *broadcaster
	activity *activityTracker

	// onTerminated lets the registry (and through it the scheduler) react to
	// the running -> terminated transition.
	onTerminated func(*Session)
}

// New allocates a session in the created state and prepares its on-disk
// layout. The PTY is not spawned until Start.
func New(spec Spec, creator auth.User, cfg *config.Config) (*Session, error) {
	if len(spec.Argv) == 0 {
		return nil, ErrInvalidParams.WithMessage("argv must not be empty")
	}
	if spec.Visibility == "" {
		spec.Visibility = VisibilityPrivate
	}
	switch spec.Visibility {
	case VisibilityPrivate, VisibilitySharedReadonly, VisibilityPublic:
	default:
		return nil, ErrInvalidParams.WithMessage("unknown visibility %q", spec.Visibility)
	}

	id := uuid.NewString()
	dir := filepath.Join(cfg.DataDir, "sessions", id)

	s := &Session{
		ID:        id,
		Alias:     spec.Alias,
		CreatedBy: creator.Username,
		Spec:      spec,
		cfg:       cfg,
		dir:       dir,
		state:     StateCreated,
		createdAt: time.Now(),
		bcast:     newBroadcaster(id, cfg.MaxPendingBytes),
		activity:  newActivityTracker(cfg.InactivityThreshold, cfg.ResizeSuppression, cfg.MinActiveBytes),
	}

	if spec.SaveHistory {
		store, err := OpenHistoryStore(dir)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	s.log = NewOutputLog(s.store, cfg.MemoryTailBytes, s.fanOut, s.durableUnhealthy)

	if err := s.writeMeta(); err != nil {
		logrus.WithError(err).WithField("session", id).Warn("failed to write session meta")
	}
	return s, nil
}

// Dir returns the session's on-disk directory.
func (s *Session) Dir() string { return s.dir }

// Start spawns the PTY child and moves the session to running.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return ErrInvalidParams.WithMessage("session already started")
	}
	s.mu.Unlock()

	pty, err := SpawnPTY(SpawnSpec{
		Argv: s.Spec.Argv,
		Dir:  s.Spec.Cwd,
		Env:  s.Spec.Env,
		Cols: s.Spec.Cols,
		Rows: s.Spec.Rows,
	}, s.cfg.InputWriteTimeout, s.handleOutput, s.handleExit)
	if err != nil {
		s.terminate(-1)
		return err
	}

	s.mu.Lock()
	s.pty = pty
	s.state = StateRunning
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session": s.ID,
		"argv":    s.Spec.Argv[0],
		"owner":   s.CreatedBy,
	}).Info("session started")
	return nil
}

// handleOutput runs on the PTY reader goroutine: account activity, then hand
// the chunk to the log (which advances seq and fans out under one lock).
func (s *Session) handleOutput(data []byte) {
	now := time.Now()
	if s.activity.observe(len(data), now) {
		logrus.WithField("session", s.ID).Debug("session became active")
	}
	s.log.Append(data)
}

// fanOut is the OutputLog append hook. Overflowed attachments are detached
// here, after the non-blocking distribution pass.
func (s *Session) fanOut(_ uint64, data []byte) {
	for _, conn := range s.bcast.publish(data) {
		conn.Send(ws.Error(s.ID, ErrPendingOverflow.Code, ErrPendingOverflow.Message))
		conn.Send(ws.Detached(s.ID))
		conn.RemoveAttachment(s.ID)
		logrus.WithFields(logrus.Fields{
			"session": s.ID,
			"conn":    conn.ID(),
		}).Warn("pending queue overflow, detached client")
	}
}

func (s *Session) handleExit(code int) {
	logrus.WithFields(logrus.Fields{
		"session":  s.ID,
		"exitCode": code,
	}).Info("session process exited")
	s.terminate(code)
}

// durableUnhealthy is invoked after repeated durable log failures. The
// session terminates rather than silently diverge from its replay log.
func (s *Session) durableUnhealthy(err error) {
	logrus.WithError(err).WithField("session", s.ID).Error("durable output log failing, terminating session")
	s.mu.Lock()
	pty := s.pty
	s.mu.Unlock()
	if pty != nil {
		pty.Kill()
	}
	s.terminate(-1)
}

// Terminate forcefully ends a running session (admin/owner action).
func (s *Session) Terminate(requester auth.User) error {
	if !s.CanManage(requester) {
		return ErrForbidden
	}
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrAlreadyTerminated
	}
	pty := s.pty
	s.mu.Unlock()

	if pty != nil {
		// The PTY exit path drives the state transition; Terminate only asks.
		go pty.Terminate(s.cfg.KillGrace)
		return nil
	}
	s.terminate(-1)
	return nil
}

// terminate performs the one-way transition to terminated: broadcast
// session_ended, detach everyone, close the durable log, persist meta.
// Idempotent; only the first caller does the work.
func (s *Session) terminate(code int) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	s.endedAt = time.Now()
	s.exitCode = code
	endedAt := s.endedAt
	s.mu.Unlock()

	for _, conn := range s.bcast.removeAll() {
		conn.Send(ws.SessionEnded(s.ID, code, endedAt.UTC().Format(time.RFC3339)))
		conn.RemoveAttachment(s.ID)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logrus.WithError(err).WithField("session", s.ID).Warn("failed to close output log")
		}
	}
	if err := s.writeMeta(); err != nil {
		logrus.WithError(err).WithField("session", s.ID).Warn("failed to write session meta")
	}
	if s.onTerminated != nil {
		s.onTerminated(s)
	}
}

// State returns the lifecycle state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminated reports whether the session has ended.
func (s *Session) Terminated() bool {
	return s.State() == StateTerminated
}

// EndedAt returns when the session terminated (zero while running).
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// CanAttach applies the visibility rules for read access.
func (s *Session) CanAttach(u auth.User) bool {
	if u.Admin() || u.Username == s.CreatedBy {
		return true
	}
	switch s.Spec.Visibility {
	case VisibilitySharedReadonly, VisibilityPublic:
		return !u.Anonymous()
	default:
		return false
	}
}

// CanWrite applies the visibility rules for stdin access.
func (s *Session) CanWrite(u auth.User) bool {
	if u.Admin() || u.Username == s.CreatedBy {
		return true
	}
	return s.Spec.Visibility == VisibilityPublic && !u.Anonymous()
}

// CanManage reports whether u may terminate the session or force-detach its
// clients.
func (s *Session) CanManage(u auth.User) bool {
	return u.Admin() || u.Username == s.CreatedBy
}

// Attach binds a connection to the session. The attached acknowledgement is
// enqueued and the attachment registered inside the same append-lock critical
// section, so the ack always precedes the first live stdout frame and the
// returned marker is exact. Re-attaching an already-attached connection
// replaces the attachment with a fresh marker.
func (s *Session) Attach(conn Conn) (marker uint64, shouldLoad bool, err error) {
	if !s.CanAttach(conn.User()) {
		if conn.User().Anonymous() {
			return 0, false, ErrUnauthenticated
		}
		return 0, false, ErrForbidden
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateTerminated && s.store == nil {
		// Nothing to replay and nothing live to stream.
		return 0, false, ErrAlreadyTerminated
	}

	if s.bcast.attached(conn.ID()) {
		s.Detach(conn)
	}

	s.log.Snapshot(func(seq uint64) {
		marker = seq
		shouldLoad = s.Spec.SaveHistory && s.Spec.LoadHistory && seq > 0
		conn.Send(ws.Attached(s.ID, marker, shouldLoad))
		s.bcast.add(conn, marker, !shouldLoad)
	})
	conn.AddAttachment(s.ID)

	if shouldLoad {
		connID := conn.ID()
		s.bcast.setGrace(connID, s.cfg.AttachGrace, func() {
			s.bcast.graceExpired(connID)
			s.finishReplayIfEnded(connID)
		})
	} else if s.Terminated() {
		// Terminated and nothing to fetch: the attachment is replay-only and
		// replay is already complete. Re-checked after registration so a
		// termination racing this attach cannot strand the connection.
		s.finishReplayIfEnded(conn.ID())
	}
	return marker, shouldLoad, nil
}

// HistoryLoaded opens the live gate for the connection, flushing anything
// buffered during the history fetch. A duplicate call is a no-op.
func (s *Session) HistoryLoaded(conn Conn) error {
	if !s.bcast.markLoaded(conn.ID()) {
		return ErrNotAttached
	}
	s.finishReplayIfEnded(conn.ID())
	return nil
}

// finishReplayIfEnded closes out a replay attachment to a terminated session:
// once history sync completes there will never be live output, so the
// connection gets its session_ended and is detached.
func (s *Session) finishReplayIfEnded(connID string) {
	s.mu.Lock()
	ended := s.state == StateTerminated
	code := s.exitCode
	endedAt := s.endedAt
	s.mu.Unlock()
	if !ended {
		return
	}
	if conn, ok := s.bcast.remove(connID); ok {
		conn.Send(ws.SessionEnded(s.ID, code, endedAt.UTC().Format(time.RFC3339)))
		conn.RemoveAttachment(s.ID)
	}
}

// Detach releases an attachment and its pending queue. Unknown connections
// are a no-op (detach can race disconnects).
func (s *Session) Detach(conn Conn) {
	if _, ok := s.bcast.remove(conn.ID()); ok {
		conn.RemoveAttachment(s.ID)
	}
}

// DetachClient force-detaches another connection (owner/admin only). The
// target receives a detached frame.
func (s *Session) DetachClient(requester auth.User, targetConnID string) error {
	if !s.CanManage(requester) {
		return ErrForbidden
	}
	conn, ok := s.bcast.remove(targetConnID)
	if !ok {
		return ErrNotAttached
	}
	conn.Send(ws.Detached(s.ID))
	conn.RemoveAttachment(s.ID)
	return nil
}

// IsAttached reports whether the connection is attached.
func (s *Session) IsAttached(connID string) bool {
	return s.bcast.attached(connID)
}

// ConnectedClients returns the number of attached connections.
func (s *Session) ConnectedClients() int {
	return s.bcast.count()
}

// WriteStdin forwards bytes to the PTY. Callers go through the InputRouter,
// which has already enforced admission.
func (s *Session) WriteStdin(data []byte) error {
	s.mu.Lock()
	pty := s.pty
	state := s.state
	s.mu.Unlock()
	if state != StateRunning || pty == nil {
		return ErrAlreadyTerminated
	}
	if err := pty.Write(data); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastUserInputAt = time.Now()
	s.mu.Unlock()
	return nil
}

// ResizePTY applies a clamped window size and opens the redraw suppression
// window on the activity tracker.
func (s *Session) ResizePTY(cols, rows uint16) error {
	s.mu.Lock()
	pty := s.pty
	state := s.state
	s.mu.Unlock()
	if state != StateRunning || pty == nil {
		return ErrAlreadyTerminated
	}
	s.activity.noteResize(time.Now())
	return pty.Resize(cols, rows)
}

// OutputSeq returns the session's current output seq.
func (s *Session) OutputSeq() uint64 {
	return s.log.SnapshotSeq()
}

// Log exposes the output log for range reads.
func (s *Session) Log() *OutputLog { return s.log }

// Store exposes the durable history store; nil when save_history is off.
func (s *Session) Store() *HistoryStore { return s.store }

// ActivityState reports active/inactive as of now.
func (s *Session) ActivityState() string {
	return s.activity.state(time.Now())
}

// Info is the JSON representation of a session.
type Info struct {
	SessionID        string    `json:"session_id"`
	Alias            string    `json:"alias,omitempty"`
	CreatedBy        string    `json:"created_by"`
	Visibility       string    `json:"visibility"`
	State            string    `json:"state"`
	Argv             []string  `json:"argv"`
	Cwd              string    `json:"cwd,omitempty"`
	Cols             uint16    `json:"cols"`
	Rows             uint16    `json:"rows"`
	Interactive      bool      `json:"interactive"`
	LoadHistory      bool      `json:"load_history"`
	SaveHistory      bool      `json:"save_history"`
	OutputSeq        uint64    `json:"output_seq"`
	ActivityState    string    `json:"activity_state"`
	LastActivityAt   string    `json:"last_activity_at,omitempty"`
	LastUserInputAt  string    `json:"last_user_input_at,omitempty"`
	ConnectedClients int       `json:"connected_clients"`
	CreatedAt        time.Time `json:"created_at"`
	EndedAt          *string   `json:"ended_at,omitempty"`
	ExitCode         *int      `json:"exit_code,omitempty"`
} // @name SessionInfo

// Info snapshots the session for API responses.
func (s *Session) Info() Info {
	s.mu.Lock()
	state := s.state
	createdAt := s.createdAt
	endedAt := s.endedAt
	exitCode := s.exitCode
	lastInput := s.lastUserInputAt
	cols, rows := s.Spec.Cols, s.Spec.Rows
	if s.pty != nil {
		cols, rows = s.pty.Size()
	}
	s.mu.Unlock()

	info := Info{
		SessionID:        s.ID,
		Alias:            s.Alias,
		CreatedBy:        s.CreatedBy,
		Visibility:       s.Spec.Visibility,
		State:            state,
		Argv:             s.Spec.Argv,
		Cwd:              s.Spec.Cwd,
		Cols:             cols,
		Rows:             rows,
		Interactive:      s.Spec.Interactive,
		LoadHistory:      s.Spec.LoadHistory,
		SaveHistory:      s.Spec.SaveHistory,
		OutputSeq:        s.OutputSeq(),
		ActivityState:    s.ActivityState(),
		ConnectedClients: s.ConnectedClients(),
		CreatedAt:        createdAt,
	}
	if last := s.activity.lastActivity(); !last.IsZero() {
		info.LastActivityAt = last.UTC().Format(time.RFC3339)
	}
	if !lastInput.IsZero() {
		info.LastUserInputAt = lastInput.UTC().Format(time.RFC3339)
	}
	if state == StateTerminated {
		ended := endedAt.UTC().Format(time.RFC3339)
		info.EndedAt = &ended
		info.ExitCode = &exitCode
	}
	return info
}
