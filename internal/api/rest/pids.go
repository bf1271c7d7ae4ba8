package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// resolvePid accepts a PID name or hex id in the :key parameter.
func (s *Server) resolvePid(c *gin.Context) (pid.Info, bool) {
	key := c.Param("key")
	info, ok := s.lm.Engine().Registry().Resolve(key)
	if !ok {
		abortWithError(c, "Unknown PID", fmt.Errorf("%w: %s", scheduler.ErrUnknownPid, key))
		return pid.Info{}, false
	}
	return info, true
}

// GET /api/v1/pids
func (s *Server) listPids(c *gin.Context) {
	pids := s.lm.Engine().Pids()
	c.JSON(http.StatusOK, gin.H{
		"pids":  pids,
		"count": len(pids),
	})
}

// GET /api/v1/pids/:key
func (s *Server) getPid(c *gin.Context) {
	info, ok := s.resolvePid(c)
	if !ok {
		return
	}

	status, err := s.lm.Engine().GetPidInfo(info.ID)
	if err != nil {
		abortWithError(c, "Failed to read PID", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/pids/:key/activate
func (s *Server) activatePid(c *gin.Context) {
	s.setPidActive(c, true)
}

// DELETE /api/v1/pids/:key/activate
func (s *Server) deactivatePid(c *gin.Context) {
	s.setPidActive(c, false)
}

func (s *Server) setPidActive(c *gin.Context, active bool) {
	info, ok := s.resolvePid(c)
	if !ok {
		return
	}

	engine := s.lm.Engine()
	var err error
	if active {
		err = engine.Activate(info.ID)
	} else {
		err = engine.Deactivate(info.ID)
	}
	if err != nil {
		abortWithError(c, "Failed to change PID activation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pid":    info.ID,
		"name":   info.Name,
		"active": active,
	})
}

// GET /api/v1/pids/:key/history?limit=N
func (s *Server) getPidHistory(c *gin.Context) {
	info, ok := s.resolvePid(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorJSON("PID_400", "Invalid limit", raw))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := s.lm.History(c.Request.Context(), info.ID, limit)
	if err != nil {
		abortWithError(c, "Failed to load history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pid":     info.ID,
		"samples": rows,
		"count":   len(rows),
	})
}
