package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tms/internal/apperr"
	"tms/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP handlers for the task management API.
type Server struct {
	engine    *gin.Engine
	identity  *service.Identity
	tasks     *service.Tasks
	store     Pinger
	logger    *slog.Logger
	staticDir string
}

// New constructs the HTTP server with routes and middleware configured.
func New(identity *service.Identity, tasks *service.Tasks, store Pinger, logger *slog.Logger, staticDir string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/healthz"))

	srv := &Server{
		engine:    router,
		identity:  identity,
		tasks:     tasks,
		store:     store,
		logger:    logger,
		staticDir: staticDir,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API and static handlers together.
func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	account := s.engine.Group("/account")
	{
		account.POST("/register", s.handleRegister)
		account.POST("/register-admin", s.handleRegisterAdmin)
		account.POST("/register-initial-admin", s.handleRegisterInitialAdmin)
		account.POST("/login", s.handleLogin)

		authed := account.Group("", s.requireAuth)
		authed.POST("/logout", s.handleLogout)
		authed.GET("/profile", s.handleProfile)
		authed.GET("/user-profile", s.handleUserProfile)
		authed.DELETE("/delete-user/:id", s.handleDeleteUser)
		authed.DELETE("/delete-own-account/:username", s.handleDeleteOwnAccount)
		authed.GET("/non-admin-users", s.handleNonAdminUsers)
	}

	tasks := s.engine.Group("/tasks", s.requireAuth)
	{
		tasks.POST("/assign", s.handleAssignTask)
		tasks.PUT("/:id/assign", s.handleReassignTask)
		tasks.POST("/update-status", s.handleUpdateTaskStatus)
		tasks.DELETE("/:id", s.handleDeleteTask)
		tasks.GET("/task-counts", s.handleTaskCounts)
		tasks.GET("/user-tasks", s.handleUserTasks)
		tasks.GET("/task-detail/:taskId", s.handleTaskDetail)
		tasks.GET("/search-tasks", s.handleSearchTasks)
	}

	s.mountStatic()
}

// handleHealth reports readiness, including the store.
func (s *Server) handleHealth(c *gin.Context) {
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseID converts a path parameter to int64 with error handling.
func parseID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid identifier"})
		return 0, false
	}
	return id, true
}

// respondError logs the error and returns a JSON payload with the mapped status.
func (s *Server) respondError(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	attrs := []any{
		slog.String("path", c.FullPath()),
		slog.Int("status", status),
		slog.String("request_id", c.GetString(requestIDKey)),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Warn("request rejected", attrs...)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err)})
}

// bindJSON decodes the body into dst and reports malformed input as a bad request.
func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, apperr.BadRequest("invalid request: %v", err))
		return false
	}
	return true
}

// respondSuccess wraps a payload in a JSON envelope for consistency.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
