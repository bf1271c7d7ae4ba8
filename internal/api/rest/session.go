package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultBreak = 250 * time.Millisecond
	maxBreak     = 2 * time.Second
)

type CommandRequest struct {
	Command string `json:"command" binding:"required,max=64"`
	Expect  string `json:"expect" binding:"max=64"`
}

type IntervalRequest struct {
	IntervalMs int `json:"interval_ms" binding:"required,min=1"`
}

type BreakRequest struct {
	DurationMs int `json:"duration_ms" binding:"min=0"`
}

// GET /api/v1/session
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Engine().Status())
}

// POST /api/v1/session/init
func (s *Server) initSession(c *gin.Context) {
	engine := s.lm.Engine()
	if err := engine.Init(c.Request.Context()); err != nil {
		abortWithError(c, "Failed to initialise session", err)
		return
	}
	c.JSON(http.StatusOK, engine.Status())
}

// POST /api/v1/session/uninit
func (s *Server) uninitSession(c *gin.Context) {
	engine := s.lm.Engine()
	if err := engine.Uninit(); err != nil {
		abortWithError(c, "Failed to close session", err)
		return
	}
	c.JSON(http.StatusOK, engine.Status())
}

// POST /api/v1/session/reconnect
func (s *Server) reconnectSession(c *gin.Context) {
	engine := s.lm.Engine()
	if err := engine.Reconnect(c.Request.Context()); err != nil {
		abortWithError(c, "Failed to reconnect adapter", err)
		return
	}
	c.JSON(http.StatusOK, engine.Status())
}

// POST /api/v1/session/clear
func (s *Server) clearFlags(c *gin.Context) {
	engine := s.lm.Engine()
	engine.ClearFlags()
	c.JSON(http.StatusOK, engine.Status())
}

// POST /api/v1/session/command
func (s *Server) sendCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorJSON("SESSION_400", "Invalid request body", err.Error()))
		return
	}

	cmd := strings.TrimSpace(req.Command)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		c.JSON(http.StatusBadRequest, errorJSON("SESSION_400", "Invalid command", nil))
		return
	}

	reply, err := s.lm.Engine().SendCommand(cmd, req.Expect)
	if err != nil {
		abortWithError(c, "Command failed", err)
		return
	}

	s.logger.Info("Raw command sent",
		zap.String("command", cmd),
		zap.String("reply", reply))

	c.JSON(http.StatusOK, gin.H{
		"command": cmd,
		"reply":   reply,
	})
}

// POST /api/v1/session/break
func (s *Server) sendBreak(c *gin.Context) {
	var req BreakRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorJSON("SESSION_400", "Invalid request body", err.Error()))
			return
		}
	}

	d := defaultBreak
	if req.DurationMs > 0 {
		d = min(time.Duration(req.DurationMs)*time.Millisecond, maxBreak)
	}

	if err := s.lm.Engine().SendBreak(d); err != nil {
		abortWithError(c, "Failed to send break", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duration_ms": d.Milliseconds()})
}

// PUT /api/v1/session/interval
func (s *Server) setInterval(c *gin.Context) {
	var req IntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorJSON("SESSION_400", "Invalid request body", err.Error()))
		return
	}

	applied := s.lm.Engine().SetInterval(time.Duration(req.IntervalMs) * time.Millisecond)
	c.JSON(http.StatusOK, gin.H{"interval_ms": applied.Milliseconds()})
}

// GET /api/v1/session/line
func (s *Server) getLineStatus(c *gin.Context) {
	status, err := s.lm.Engine().LineStatus()
	if err != nil {
		abortWithError(c, "Line status unavailable", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GET /api/v1/ports
func (s *Server) listPorts(c *gin.Context) {
	ports, err := s.lm.Ports()
	if err != nil {
		abortWithError(c, "Failed to enumerate ports", err)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"ports": ports,
		"count": len(ports),
	})
}
