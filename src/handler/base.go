package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termserve/termserve/src/handler/session"
	"github.com/termserve/termserve/src/lib/auth"
)

// BaseHandler provides common functionality for the API handlers
type BaseHandler struct {
	// Add any common fields here
}

// NewBaseHandler creates a new base handler
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error" example:"Error message"`
	Code  string `json:"code,omitempty" example:"SessionNotFound"`
} // @name ErrorResponse

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message" example:"Session terminated"`
} // @name SuccessResponse

// SendError sends a standardized error response
func (h *BaseHandler) SendError(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Code:  session.CodeOf(err),
	})
}

// SendCodedError maps a coded runtime error to its HTTP status.
func (h *BaseHandler) SendCodedError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var ce *session.CodedError
	if errors.As(err, &ce) {
		switch ce.Code {
		case session.ErrInvalidParams.Code:
			status = http.StatusBadRequest
		case session.ErrUnauthenticated.Code:
			status = http.StatusUnauthorized
		case session.ErrForbidden.Code:
			status = http.StatusForbidden
		case session.ErrSessionNotFound.Code, session.ErrRuleNotFound.Code:
			status = http.StatusNotFound
		case session.ErrAliasTaken.Code, session.ErrAlreadyTerminated.Code:
			status = http.StatusConflict
		case session.ErrSessionLimit.Code, session.ErrScheduleCapExceeded.Code, session.ErrRateLimited.Code:
			status = http.StatusTooManyRequests
		}
	}
	h.SendError(c, status, err)
}

// SendSuccess sends a standardized success response
func (h *BaseHandler) SendSuccess(c *gin.Context, message string) {
	c.JSON(http.StatusOK, SuccessResponse{
		Message: message,
	})
}

// SendJSON sends a JSON response with the given status code
func (h *BaseHandler) SendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// GetPathParam gets a path parameter and returns an error if it's invalid
func (h *BaseHandler) GetPathParam(c *gin.Context, param string) (string, error) {
	value := c.Param(param)
	if value == "" {
		return "", fmt.Errorf("missing required path parameter: %s", param)
	}
	return value, nil
}

// GetQueryParam gets a query parameter with a default value
func (h *BaseHandler) GetQueryParam(c *gin.Context, param string, defaultValue string) string {
	value := c.Query(param)
	if value == "" {
		return defaultValue
	}
	return value
}

// BindJSON binds the request body to a struct and returns an error if it fails
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// CurrentUser resolves the authenticated identity the fronting layer set on
// the request. The core never sees credentials, only the result.
func CurrentUser(c *gin.Context) auth.User {
	u := auth.User{Username: c.GetHeader("X-Auth-User")}
	if c.GetHeader("X-Auth-Admin") == "true" {
		u.Permissions.ManageAllSessions = true
	}
	return u
}

// HandleWelcome handles requests to the root endpoint
func (h *BaseHandler) HandleWelcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "termserve",
		"message": "Terminal session server. See /swagger for the API.",
	})
}
