package http

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/sandbox"
	"github.com/luminadocs/lumina/internal/session"
	"github.com/luminadocs/lumina/internal/shared/id"
	"github.com/luminadocs/lumina/internal/transport/ws"
)

// Connect upgrades the request to a WebSocket and creates a sandbox
// session over it. The connecting peer is the document side of the
// boundary: it must answer the bridge handshake before the session
// becomes visible. The session id is pushed as the first event frame.
func (h *Handlers) Connect(c *gin.Context) {
	conn, err := ws.Upgrade(c.Writer, c.Request, h.logger)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	s, err := h.sessions.Create(c.Request.Context(), h.policy, conn)
	if err != nil {
		h.logger.Warn("session creation failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	if err := s.Runtime.SendEvent("session_ready", map[string]any{
		"session_id": string(s.ID),
	}); err != nil {
		h.logger.Warn("session ready notification failed",
			zap.String("session_id", string(s.ID)),
			zap.Error(err),
		)
	}
}

// ListSessions returns all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	list := h.sessions.List()
	out := make([]gin.H, 0, len(list))
	for _, s := range list {
		out = append(out, gin.H{
			"session_id": string(s.ID),
			"created_at": s.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": out,
	})
}

// GetSessionStats returns one session's accumulated statistics.
func (h *Handlers) GetSessionStats(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	stats, err := s.Runtime.Stats()
	if err != nil {
		fail(c, http.StatusGone, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

// ListModules returns the session's loaded modules.
func (h *Handlers) ListModules(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	modules, err := s.Runtime.LoadedModules()
	if err != nil {
		fail(c, http.StatusGone, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"modules": modules,
	})
}

type loadModuleRequest struct {
	sandbox.ModuleConfig
	Binary    string `json:"binary"`     // base64-encoded module bytes
	BinaryURL string `json:"binary_url"` // fetched through the network guard
}

// LoadModule validates and loads one module into the session. The binary
// arrives inline (base64) or by URL, in which case it is fetched through
// the policy-gated network guard.
func (h *Handlers) LoadModule(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req loadModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	var binary []byte
	switch {
	case req.Binary != "":
		decoded, err := base64.StdEncoding.DecodeString(req.Binary)
		if err != nil {
			fail(c, http.StatusBadRequest, fmt.Errorf("invalid binary encoding: %w", err))
			return
		}
		binary = decoded
	case req.BinaryURL != "":
		fetched, err := h.guard.FetchModule(c.Request.Context(), req.BinaryURL, int64(req.Permissions.MemoryLimit))
		if err != nil {
			fail(c, http.StatusForbidden, err)
			return
		}
		binary = fetched
	default:
		fail(c, http.StatusBadRequest, fmt.Errorf("either binary or binary_url is required"))
		return
	}

	if err := s.Runtime.LoadModule(c.Request.Context(), binary, req.ModuleConfig); err != nil {
		status := http.StatusUnprocessableEntity
		if strings.Contains(err.Error(), "rejected by policy") {
			status = http.StatusForbidden
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"module":  req.Name,
	})
}

// ExecuteFunction dispatches one function call into the session. Execution
// failures are reported as structured results with HTTP 200; only fencing
// and transport faults map to error status codes.
func (h *Handlers) ExecuteFunction(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Module   string `json:"module" binding:"required"`
		Function string `json:"function" binding:"required"`
		Args     []any  `json:"args"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	result, err := s.Runtime.ExecuteFunction(c.Request.Context(), req.Module, req.Function, req.Args)
	if err != nil {
		fail(c, http.StatusGone, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// SendEvent forwards a fire-and-forget event into the session.
func (h *Handlers) SendEvent(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Type    string         `json:"type" binding:"required"`
		Payload map[string]any `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	if err := s.Runtime.SendEvent(req.Type, req.Payload); err != nil {
		fail(c, http.StatusGone, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// DestroySession tears one session down.
func (h *Handlers) DestroySession(c *gin.Context) {
	sessionID := id.SessionID(c.Param("id"))
	if err := h.sessions.Destroy(sessionID); err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	sessionID := id.SessionID(c.Param("id"))
	s, ok := h.sessions.Get(sessionID)
	if !ok {
		fail(c, http.StatusNotFound, fmt.Errorf("session %s not found", sessionID))
		return nil, false
	}
	return s, true
}
