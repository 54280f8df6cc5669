package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/src/handler/session"
	"github.com/termserve/termserve/src/lib"
)

// SessionsHandler exposes the session lifecycle and history range reads over
// HTTP.
type SessionsHandler struct {
	*BaseHandler
	registry *session.Registry
}

// NewSessionsHandler creates a new sessions handler over the registry.
func NewSessionsHandler(registry *session.Registry) *SessionsHandler {
	return &SessionsHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
	}
}

// HandleCreateSession handles POST requests to /sessions
// @Summary Create a session
// @Description Creates a PTY session from a fully resolved spec (argv, cwd, env, size, visibility).
// @Tags sessions
// @Accept json
// @Produce json
// @Param spec body session.Spec true "Resolved session spec"
// @Success 201 {object} session.Info "Created session"
// @Failure 400 {object} ErrorResponse "Invalid spec"
// @Failure 401 {object} ErrorResponse "No authenticated user"
// @Failure 409 {object} ErrorResponse "Alias already in use"
// @Failure 429 {object} ErrorResponse "Session limit exceeded"
// @Router /sessions [post]
func (h *SessionsHandler) HandleCreateSession(c *gin.Context) {
	var spec session.Spec
	if err := h.BindJSON(c, &spec); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	cwd, err := lib.FormatPath(spec.Cwd)
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	spec.Cwd = cwd

	sess, err := h.registry.Create(spec, CurrentUser(c))
	if err != nil {
		h.SendCodedError(c, err)
		return
	}
	h.SendJSON(c, http.StatusCreated, sess.Info())
}

// HandleListSessions handles GET requests to /sessions
// @Summary List sessions
// @Description Lists sessions visible to the requester, optionally filtered by state.
// @Tags sessions
// @Produce json
// @Param state query string false "Filter by lifecycle state" Enums(created, running, terminated)
// @Success 200 {array} session.Info "Visible sessions"
// @Router /sessions [get]
func (h *SessionsHandler) HandleListSessions(c *gin.Context) {
	infos := h.registry.List(CurrentUser(c), c.Query("state"))
	h.SendJSON(c, http.StatusOK, infos)
}

// HandleGetSession handles GET requests to /sessions/:id
// @Summary Get a session
// @Description Returns one session by id or alias.
// @Tags sessions
// @Produce json
// @Param id path string true "Session id or alias"
// @Success 200 {object} session.Info "Session"
// @Failure 403 {object} ErrorResponse "Not visible to the requester"
// @Failure 404 {object} ErrorResponse "No such session"
// @Router /sessions/{id} [get]
func (h *SessionsHandler) HandleGetSession(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.SendCodedError(c, err)
		return
	}
	if !sess.CanAttach(CurrentUser(c)) {
		h.SendCodedError(c, session.ErrForbidden)
		return
	}
	h.SendJSON(c, http.StatusOK, sess.Info())
}

// HandleTerminateSession handles DELETE requests to /sessions/:id
// @Summary Terminate a session
// @Description Ends the session process (SIGTERM, then SIGKILL). Owner or admin only.
// @Tags sessions
// @Produce json
// @Param id path string true "Session id or alias"
// @Success 200 {object} SuccessResponse "Termination initiated"
// @Failure 403 {object} ErrorResponse "Not the owner"
// @Failure 404 {object} ErrorResponse "No such session"
// @Failure 409 {object} ErrorResponse "Already terminated"
// @Router /sessions/{id} [delete]
func (h *SessionsHandler) HandleTerminateSession(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.SendCodedError(c, err)
		return
	}
	user := CurrentUser(c)
	if user.Anonymous() {
		h.SendCodedError(c, session.ErrUnauthenticated)
		return
	}
	if err := sess.Terminate(user); err != nil {
		h.SendCodedError(c, err)
		return
	}
	h.SendSuccess(c, "Session terminated")
}

// HandleSessionHistoryRaw handles GET requests to /sessions/:id/history/raw
// @Summary Read raw session history
// @Description Streams the session's output byte log. Supports a standard inclusive Range header; byte offsets are the protocol's seq values.
// @Tags sessions
// @Produce octet-stream
// @Param id path string true "Session id or alias"
// @Param Range header string false "bytes=a-b (inclusive)"
// @Success 200 {string} string "Full history"
// @Success 206 {string} string "Partial history"
// @Failure 404 {object} ErrorResponse "No such session or history disabled"
// @Failure 416 {object} ErrorResponse "Range out of bounds"
// @Router /sessions/{id}/history/raw [get]
func (h *SessionsHandler) HandleSessionHistoryRaw(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.SendCodedError(c, err)
		return
	}
	if !sess.CanAttach(CurrentUser(c)) {
		h.SendCodedError(c, session.ErrForbidden)
		return
	}
	store := sess.Store()
	if store == nil {
		h.SendError(c, http.StatusNotFound, session.ErrSessionNotFound.WithMessage("session has no saved history"))
		return
	}

	size := store.Size()
	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		c.Header("Content-Length", strconv.FormatUint(size, 10))
		c.Status(http.StatusOK)
		if size > 0 {
			if _, err := store.StreamRange(c.Writer, 0, size-1); err != nil {
				logrus.WithError(err).WithField("session", sess.ID).Warn("history stream failed")
			}
		}
		return
	}

	start, end, ok := parseByteRange(rangeHeader, size)
	if !ok {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		h.SendError(c, http.StatusRequestedRangeNotSatisfiable, session.ErrInvalidParams.WithMessage("unsatisfiable range %q", rangeHeader))
		return
	}

	// An empty log satisfies a from-zero range with an empty 206 so clients
	// can unconditionally fetch bytes=0-(M-1).
	if end < start {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.Header("Content-Length", "0")
		c.Status(http.StatusPartialContent)
		return
	}

	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.Header("Content-Length", strconv.FormatUint(end-start+1, 10))
	c.Status(http.StatusPartialContent)
	if _, err := store.StreamRange(c.Writer, start, end); err != nil {
		logrus.WithError(err).WithField("session", sess.ID).Warn("history stream failed")
	}
}

// parseByteRange parses a single inclusive "bytes=a-b" range against the
// current log size. Open-ended ("a-") and suffix ("-n") forms are accepted.
// ok=false means unsatisfiable (416). A satisfiable-but-empty result is
// returned as end < start.
func parseByteRange(header string, size uint64) (start, end uint64, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	spec = strings.TrimSpace(spec)

	// Suffix form: last n bytes.
	if rest, isSuffix := strings.CutPrefix(spec, "-"); isSuffix {
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		if n == 0 || size == 0 {
			return 1, 0, true
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, false
	}
	first, err := strconv.ParseUint(spec[:dash], 10, 64)
	if err != nil {
		return 0, 0, false
	}

	if first >= size {
		if first == 0 && size == 0 {
			// bytes=0-(M-1) with M == 0: empty but satisfiable.
			return 1, 0, true
		}
		return 0, 0, false
	}

	last := size - 1
	if tail := spec[dash+1:]; tail != "" {
		// A negative or malformed end reads as open-ended; the durable size
		// caps it either way.
		if v, err := strconv.ParseUint(tail, 10, 64); err == nil {
			if v < last {
				last = v
			}
		}
	}
	if last < first {
		return 1, 0, true
	}
	return first, last, true
}
