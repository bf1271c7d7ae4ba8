package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type StartLoggingRequest struct {
	Directory string `json:"directory"`
}

// GET /api/v1/logging
func (s *Server) getLogging(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Engine().LoggingStatus())
}

// POST /api/v1/logging/start
func (s *Server) startLogging(c *gin.Context) {
	var req StartLoggingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorJSON("LOGGING_400", "Invalid request body", err.Error()))
			return
		}
	}

	dir := req.Directory
	if dir == "" {
		dir = s.cfg.Logging.Directory
	}

	engine := s.lm.Engine()
	if _, err := engine.StartLogging(dir); err != nil {
		abortWithError(c, "Failed to start logging", err)
		return
	}
	c.JSON(http.StatusCreated, engine.LoggingStatus())
}

// POST /api/v1/logging/stop
func (s *Server) stopLogging(c *gin.Context) {
	engine := s.lm.Engine()
	if err := engine.StopLogging(); err != nil {
		abortWithError(c, "Failed to stop logging", err)
		return
	}
	c.JSON(http.StatusOK, engine.LoggingStatus())
}
