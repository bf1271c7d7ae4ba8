package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/api/websocket"
	"github.com/KevinKickass/OpenOBDCore/internal/auth"
	"github.com/KevinKickass/OpenOBDCore/internal/config"
	"github.com/KevinKickass/OpenOBDCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router   *gin.Engine
	cfg      *config.Config
	lm       interfaces.LifecycleManager
	logger   *zap.Logger
	server   *http.Server
	wsHub    *websocket.Hub
	jwt      *auth.JWTHandler
	operator *auth.Operator
	metrics  http.Handler
}

type Options struct {
	Hub      *websocket.Hub
	JWT      *auth.JWTHandler
	Operator *auth.Operator
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		cfg:      cfg,
		lm:       lm,
		logger:   logger,
		wsHub:    opts.Hub,
		jwt:      opts.JWT,
		operator: opts.Operator,
		metrics:  opts.Metrics,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	protected := auth.RequireToken(s.jwt, s.cfg.Auth.Enabled)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/login", s.login)

		session := v1.Group("/session")
		{
			session.GET("", s.getSession)
			session.GET("/line", s.getLineStatus)

			session.POST("/init", protected, s.initSession)
			session.POST("/uninit", protected, s.uninitSession)
			session.POST("/reconnect", protected, s.reconnectSession)
			session.POST("/clear", protected, s.clearFlags)
			session.POST("/command", protected, s.sendCommand)
			session.POST("/break", protected, s.sendBreak)
			session.PUT("/interval", protected, s.setInterval)
		}

		v1.GET("/ports", s.listPorts)

		pids := v1.Group("/pids")
		{
			pids.GET("", s.listPids)
			pids.GET("/:key", s.getPid)
			pids.GET("/:key/history", s.getPidHistory)
			pids.POST("/:key/activate", protected, s.activatePid)
			pids.DELETE("/:key/activate", protected, s.deactivatePid)
		}

		logging := v1.Group("/logging")
		{
			logging.GET("", s.getLogging)
			logging.POST("/start", protected, s.startLogging)
			logging.POST("/stop", protected, s.stopLogging)
		}

		if s.wsHub != nil {
			ws := v1.Group("/ws")
			{
				ws.GET("/live", s.wsLiveConnection)
				ws.GET("/status", s.wsStatus)
			}
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	status := s.lm.Engine().Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"session":   status.State,
		"health":    status.Health,
		"timestamp": time.Now().Unix(),
	})
}
