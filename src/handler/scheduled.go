package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termserve/termserve/src/handler/schedule"
	"github.com/termserve/termserve/src/handler/session"
	"github.com/termserve/termserve/src/lib/auth"
)

// ScheduledHandler exposes per-session scheduled-input rules over HTTP.
type ScheduledHandler struct {
	*BaseHandler
	registry  *session.Registry
	scheduler *schedule.Scheduler
}

// NewScheduledHandler creates a new scheduled-rules handler.
func NewScheduledHandler(registry *session.Registry, scheduler *schedule.Scheduler) *ScheduledHandler {
	return &ScheduledHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
		scheduler:   scheduler,
	}
}

// resolve loads the session and enforces the owner/admin rule shared by all
// scheduled-rule operations.
func (h *ScheduledHandler) resolve(c *gin.Context) (*session.Session, auth.User, bool) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.SendCodedError(c, err)
		return nil, auth.User{}, false
	}
	user := CurrentUser(c)
	if user.Anonymous() {
		h.SendCodedError(c, session.ErrUnauthenticated)
		return nil, auth.User{}, false
	}
	if !sess.CanManage(user) {
		h.SendCodedError(c, session.ErrForbidden)
		return nil, auth.User{}, false
	}
	return sess, user, true
}

// HandleListRules handles GET requests to /sessions/:id/scheduled
// @Summary List scheduled rules
// @Tags scheduled
// @Produce json
// @Param id path string true "Session id or alias"
// @Success 200 {array} schedule.Rule "Rules"
// @Failure 403 {object} ErrorResponse "Not the owner"
// @Failure 404 {object} ErrorResponse "No such session"
// @Router /sessions/{id}/scheduled [get]
func (h *ScheduledHandler) HandleListRules(c *gin.Context) {
	sess, _, ok := h.resolve(c)
	if !ok {
		return
	}
	h.SendJSON(c, http.StatusOK, h.scheduler.ListForSession(sess.ID))
}

// HandleAddRule handles POST requests to /sessions/:id/scheduled
// @Summary Add a scheduled rule
// @Description Registers a one-shot or interval input rule on a running interactive session.
// @Tags scheduled
// @Accept json
// @Produce json
// @Param id path string true "Session id or alias"
// @Param rule body schedule.Rule true "Rule (rule_id and next_run_at are assigned by the server)"
// @Success 201 {object} schedule.Rule "Created rule"
// @Failure 400 {object} ErrorResponse "Invalid rule"
// @Failure 403 {object} ErrorResponse "Not the owner"
// @Failure 404 {object} ErrorResponse "No such session"
// @Failure 429 {object} ErrorResponse "Schedule cap exceeded"
// @Router /sessions/{id}/scheduled [post]
func (h *ScheduledHandler) HandleAddRule(c *gin.Context) {
	sess, _, ok := h.resolve(c)
	if !ok {
		return
	}
	var rule schedule.Rule
	if err := h.BindJSON(c, &rule); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	created, err := h.scheduler.Add(sess.ID, rule)
	if err != nil {
		h.SendCodedError(c, err)
		return
	}
	h.SendJSON(c, http.StatusCreated, created)
}

// HandleRemoveRule handles DELETE requests to /sessions/:id/scheduled/:ruleId
// @Summary Remove a scheduled rule
// @Tags scheduled
// @Produce json
// @Param id path string true "Session id or alias"
// @Param ruleId path string true "Rule id"
// @Success 200 {object} SuccessResponse "Removed"
// @Failure 403 {object} ErrorResponse "Not the owner"
// @Failure 404 {object} ErrorResponse "No such session or rule"
// @Router /sessions/{id}/scheduled/{ruleId} [delete]
func (h *ScheduledHandler) HandleRemoveRule(c *gin.Context) {
	if _, _, ok := h.resolve(c); !ok {
		return
	}
	if err := h.scheduler.Remove(c.Param("ruleId")); err != nil {
		h.SendCodedError(c, err)
		return
	}
	h.SendSuccess(c, "Rule removed")
}

// HandlePauseRule handles POST requests to /sessions/:id/scheduled/:ruleId/pause
// @Summary Pause a scheduled rule
// @Tags scheduled
// @Produce json
// @Param id path string true "Session id or alias"
// @Param ruleId path string true "Rule id"
// @Success 200 {object} SuccessResponse "Paused"
// @Failure 404 {object} ErrorResponse "No such session or rule"
// @Router /sessions/{id}/scheduled/{ruleId}/pause [post]
func (h *ScheduledHandler) HandlePauseRule(c *gin.Context) {
	if _, _, ok := h.resolve(c); !ok {
		return
	}
	if err := h.scheduler.SetPaused(c.Param("ruleId"), true); err != nil {
		h.SendCodedError(c, err)
		return
	}
	h.SendSuccess(c, "Rule paused")
}

// HandleResumeRule handles POST requests to /sessions/:id/scheduled/:ruleId/resume
// @Summary Resume a paused scheduled rule
// @Tags scheduled
// @Produce json
// @Param id path string true "Session id or alias"
// @Param ruleId path string true "Rule id"
// @Success 200 {object} SuccessResponse "Resumed"
// @Failure 404 {object} ErrorResponse "No such session or rule"
// @Router /sessions/{id}/scheduled/{ruleId}/resume [post]
func (h *ScheduledHandler) HandleResumeRule(c *gin.Context) {
	if _, _, ok := h.resolve(c); !ok {
		return
	}
	if err := h.scheduler.SetPaused(c.Param("ruleId"), false); err != nil {
		h.SendCodedError(c, err)
		return
	}
	h.SendSuccess(c, "Rule resumed")
}
