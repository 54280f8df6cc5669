package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/termserve/termserve/docs" // Import generated docs
	"github.com/termserve/termserve/src/handler"
	"github.com/termserve/termserve/src/handler/schedule"
	"github.com/termserve/termserve/src/handler/session"
	"github.com/termserve/termserve/src/lib/config"
)

// Server bundles the runtime the handlers operate on. There are no ambient
// singletons; everything reachable from a request hangs off this value.
type Server struct {
	Config    *config.Config
	Registry  *session.Registry
	Input     *session.InputRouter
	Scheduler *schedule.Scheduler
}

// NewServer wires the session runtime together.
func NewServer(cfg *config.Config) *Server {
	registry := session.NewRegistry(cfg)
	input := session.NewInputRouter(registry, cfg)
	scheduler := schedule.NewScheduler(registry, input, cfg)
	scheduler.Restore()
	return &Server{
		Config:    cfg,
		Registry:  registry,
		Input:     input,
		Scheduler: scheduler,
	}
}

// SetupRouter configures all the routes for the session server
// If disableRequestLogging is true, the request log middleware will be skipped
// If enableProcessingTime is true, the Server-Timing header middleware will be added
func SetupRouter(s *Server, disableRequestLogging bool, enableProcessingTime bool) *gin.Engine {
	// Initialize the router
	r := gin.New()

	// Add recovery middleware
	r.Use(gin.Recovery())

	// Add middleware for CORS
	r.Use(corsMiddleware())

	// Add middleware to prevent caching
	r.Use(noStoreMiddleware())

	// Add processing time middleware if enabled
	if enableProcessingTime {
		r.Use(timingMiddleware())
	}

	// Add request log middleware unless disabled
	if !disableRequestLogging {
		r.Use(requestLogMiddleware())
	}

	// Swagger documentation route
	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(301, "/swagger/index.html")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Initialize handlers
	baseHandler := handler.NewBaseHandler()
	sessionsHandler := handler.NewSessionsHandler(s.Registry)
	scheduledHandler := handler.NewScheduledHandler(s.Registry, s.Scheduler)
	wsHandler := handler.NewWSHandler(s.Registry, s.Input, s.Config)
	systemHandler := handler.NewSystemHandler(s.Registry)

	// HEAD handler for checking endpoint existence
	head := headHandler()

	// Session routes
	r.GET("/sessions", sessionsHandler.HandleListSessions)
	r.HEAD("/sessions", head)
	r.POST("/sessions", sessionsHandler.HandleCreateSession)
	r.GET("/sessions/:id", sessionsHandler.HandleGetSession)
	r.HEAD("/sessions/:id", head)
	r.DELETE("/sessions/:id", sessionsHandler.HandleTerminateSession)
	r.GET("/sessions/:id/history/raw", sessionsHandler.HandleSessionHistoryRaw)
	r.HEAD("/sessions/:id/history/raw", head)

	// Scheduled-input routes
	r.GET("/sessions/:id/scheduled", scheduledHandler.HandleListRules)
	r.HEAD("/sessions/:id/scheduled", head)
	r.POST("/sessions/:id/scheduled", scheduledHandler.HandleAddRule)
	r.DELETE("/sessions/:id/scheduled/:ruleId", scheduledHandler.HandleRemoveRule)
	r.POST("/sessions/:id/scheduled/:ruleId/pause", scheduledHandler.HandlePauseRule)
	r.POST("/sessions/:id/scheduled/:ruleId/resume", scheduledHandler.HandleResumeRule)

	// WebSocket endpoint (one conn, many attachments)
	r.GET("/ws", wsHandler.HandleWS)

	// System routes
	r.GET("/health", systemHandler.HandleHealth)
	r.HEAD("/health", head)

	// Root welcome endpoint
	r.GET("/", baseHandler.HandleWelcome)

	return r
}

// headHandler returns a simple 200 OK for HEAD requests to check endpoint existence
func headHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Status(http.StatusOK)
	}
}
