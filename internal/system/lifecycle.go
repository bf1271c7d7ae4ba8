package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/adapter"
	"github.com/KevinKickass/OpenOBDCore/internal/api/rest"
	"github.com/KevinKickass/OpenOBDCore/internal/api/websocket"
	"github.com/KevinKickass/OpenOBDCore/internal/auth"
	"github.com/KevinKickass/OpenOBDCore/internal/config"
	"github.com/KevinKickass/OpenOBDCore/internal/datalog"
	"github.com/KevinKickass/OpenOBDCore/internal/interfaces"
	"github.com/KevinKickass/OpenOBDCore/internal/metrics"
	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/KevinKickass/OpenOBDCore/internal/response"
	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"github.com/KevinKickass/OpenOBDCore/internal/serial"
	"github.com/KevinKickass/OpenOBDCore/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	logger  *zap.Logger

	session   *adapter.Session
	scheduler *scheduler.Scheduler
	runner    *scheduler.Runner
	recorder  *datalog.Logger
	collector *metrics.Collector
	sink      *storage.SampleSink
	wsHub     *websocket.Hub

	restServer   *rest.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	shutdownOnce sync.Once
}

// NewLifecycleManager builds the query engine and its observers from cfg.
// store may be nil when the database is disabled.
func NewLifecycleManager(store *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	registry, err := pid.BuildRegistry(cfg.PIDs.Profiles)
	if err != nil {
		return nil, fmt.Errorf("failed to build PID registry: %w", err)
	}

	table := response.DefaultPhraseTable()
	if cfg.Adapter.PhraseTable != "" {
		if table, err = response.LoadPhraseTable(cfg.Adapter.PhraseTable); err != nil {
			return nil, fmt.Errorf("failed to load phrase table: %w", err)
		}
	}

	opener, err := serial.NewOpener(cfg.Adapter.Backend)
	if err != nil {
		return nil, err
	}
	adapterCfg, err := AdapterConfig(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	session := adapter.NewSession(adapterCfg, opener, logger.Named("adapter"))

	recorder := datalog.NewLogger(logger.Named("datalog"))
	sched := scheduler.New(SchedulerConfig(cfg), registry, session, logger.Named("scheduler"),
		scheduler.WithClassifier(response.NewClassifier(table)),
		scheduler.WithRecorder(recorder))

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		logger:       logger,
		session:      session,
		scheduler:    sched,
		runner:       scheduler.NewRunner(sched, RunnerConfig(cfg.Query), logger.Named("runner")),
		recorder:     recorder,
		wsHub:        websocket.NewHub(logger.Named("websocket")),
		healthServer: health.NewServer(),
	}

	sched.AddObserver(lm.wsHub)
	sched.AddStateObserver(lm.wsHub)
	sched.AddStateObserver(newHealthReporter(lm.healthServer))

	if cfg.Metrics.Enabled {
		lm.collector = metrics.New()
		lm.collector.TrackCounters(session.Counters)
		sched.AddObserver(lm.collector)
		sched.AddStateObserver(lm.collector)
	}

	if store != nil {
		lm.sink = storage.NewSampleSink(store, 100, time.Second, logger.Named("storage"))
		sched.AddObserver(lm.sink)
		sched.AddStateObserver(storage.NewSessionTracker(store, sched, cfg.Adapter.Port, logger.Named("storage")))
	}

	logger.Info("Query engine configured",
		zap.Int("pids", registry.Len()),
		zap.String("port", cfg.Adapter.Port),
		zap.String("backend", opener.Name()),
		zap.Duration("interval", cfg.Query.Interval))

	return lm, nil
}

// AdapterConfig converts the adapter section into session settings.
func AdapterConfig(c config.AdapterConfig) (adapter.Config, error) {
	flow, err := serial.ParseFlowControl(c.FlowControl)
	if err != nil {
		return adapter.Config{}, err
	}

	out := adapter.DefaultConfig()
	out.Device = c.Port
	out.Baud = c.BaudRate
	out.FlowControl = flow
	if c.Protocol != "" {
		out.Protocol = c.Protocol
	}
	if c.ReadTimeout > 0 {
		out.ReadTimeout = c.ReadTimeout
	}
	if c.ProbeCommand != "" {
		out.ProbeCommand = c.ProbeCommand
		out.ProbeExpect = c.ProbeExpect
	}
	if c.InitCommands != nil {
		out.InitCommands = c.InitCommands
	}
	return out, nil
}

func SchedulerConfig(c *config.Config) scheduler.Config {
	return scheduler.Config{
		Interval:       c.Query.Interval,
		MinInterval:    c.Query.MinInterval,
		MaxInterval:    c.Query.MaxInterval,
		Step:           c.Query.Step,
		AdaptPeriod:    c.Query.AdaptPeriod,
		ErrorThreshold: c.Query.ErrorThreshold,
		ReadyTimeout:   c.Adapter.ReadyTimeout,
	}
}

func RunnerConfig(q config.QueryConfig) scheduler.RunnerConfig {
	out := scheduler.DefaultRunnerConfig()
	out.AutoReconnect = q.AutoReconnect
	if q.PaceMinimum > 0 {
		out.PaceMinimum = q.PaceMinimum
	}
	if q.ReconnectDelay > 0 {
		out.ReconnectDelay = q.ReconnectDelay
	}
	return out
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Engine() interfaces.QueryEngine {
	return lm.scheduler
}

func (lm *LifecycleManager) Scheduler() *scheduler.Scheduler {
	return lm.scheduler
}

func (lm *LifecycleManager) Ports() ([]string, error) {
	return serial.ListPorts()
}

func (lm *LifecycleManager) History(ctx context.Context, id pid.ID, limit int) ([]storage.SampleRow, error) {
	if lm.storage == nil {
		return nil, interfaces.ErrHistoryDisabled
	}
	return lm.storage.RecentSamples(ctx, lm.scheduler.SessionID(), int(id), limit)
}

// Start brings up the servers, then the session and the query loop.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenOBDCore")

	go lm.wsHub.Run()
	if lm.sink != nil {
		lm.sink.Start()
	}

	if err := lm.startGRPCServer(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}
	if err := lm.startRESTServer(); err != nil {
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.activateConfigured()

	if lm.config.Adapter.AutoInit {
		if err := lm.scheduler.Init(ctx); err != nil {
			// The runner retries from the Error state.
			lm.logger.Warn("Initial adapter connect failed", zap.Error(err))
		}
	}

	if lm.config.Logging.Autostart {
		if _, err := lm.scheduler.StartLogging(lm.config.Logging.Directory); err != nil {
			lm.logger.Error("Failed to start data logging", zap.Error(err))
		}
	}

	if err := lm.runner.Start(); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Stringer("session", lm.scheduler.State()))

	return nil
}

func (lm *LifecycleManager) activateConfigured() {
	registry := lm.scheduler.Registry()
	for _, key := range lm.config.PIDs.Active {
		info, ok := registry.Resolve(key)
		if !ok {
			lm.logger.Warn("Ignoring unknown PID in pids.active", zap.String("pid", key))
			continue
		}
		if err := lm.scheduler.Activate(info.ID); err != nil {
			lm.logger.Warn("Failed to activate PID", zap.String("pid", key), zap.Error(err))
		}
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		shutdownErr = lm.gracefulShutdown(ctx)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// The loop finishes its current exchange before the session closes.
	lm.runner.Stop()

	if err := lm.scheduler.StopLogging(); err != nil {
		errs = append(errs, fmt.Errorf("data log stop failed: %w", err))
	}
	if err := lm.scheduler.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("session close failed: %w", err))
	}

	var wg sync.WaitGroup

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				lm.logger.Error("REST API shutdown failed", zap.Error(err))
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.healthServer.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	lm.wsHub.Stop()
	if lm.sink != nil {
		lm.sink.Stop()
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.healthServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	opts := rest.Options{
		Hub: lm.wsHub,
	}
	if lm.collector != nil {
		opts.Metrics = lm.collector.Handler()
	}
	if lm.config.Auth.Enabled {
		if !lm.config.Auth.IsProductionReady() {
			lm.logger.Warn("JWT secret is weak or the development default")
		}
		opts.JWT = auth.NewJWTHandler(lm.config.Auth.GetJWTSecret(), lm.config.Auth.AccessTokenTTL)
		opts.Operator = auth.NewOperator(auth.RoleOperator, lm.config.Auth.OperatorPasswordHash, opts.JWT)
	}

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, opts)
	return lm.restServer.Start()
}
