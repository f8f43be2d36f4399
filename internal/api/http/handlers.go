// Package http exposes the sandbox daemon's REST and WebSocket surface:
// session lifecycle, module loading, function dispatch, and statistics.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luminadocs/lumina/internal/logging"
	"github.com/luminadocs/lumina/internal/netguard"
	"github.com/luminadocs/lumina/internal/security"
	"github.com/luminadocs/lumina/internal/session"
)

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	sessions  *session.Manager
	policy    security.Policy
	guard     *netguard.Guard
	logger    *logging.Logger
	startTime time.Time
}

// NewHandlers wires the handler set.
func NewHandlers(sessions *session.Manager, policy security.Policy, guard *netguard.Guard, logger *logging.Logger) *Handlers {
	return &Handlers{
		sessions:  sessions,
		policy:    policy,
		guard:     guard,
		logger:    logging.OrNop(logger).Named("http"),
		startTime: time.Now(),
	}
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "lumina-sandboxd",
		"status":  "running",
	})
}

// Health reports liveness and the session count.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Count(),
		"uptime":   time.Since(h.startTime).String(),
	})
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
