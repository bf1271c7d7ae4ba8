package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrSessionFailed = errors.New("session entered error state")

type RunnerConfig struct {
	PaceMinimum       time.Duration
	IdlePoll          time.Duration
	AutoReconnect     bool
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PaceMinimum:       10 * time.Millisecond,
		IdlePoll:          100 * time.Millisecond,
		AutoReconnect:     true,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Runner is the polling loop around a Scheduler. The running flag is only
// checked between ticks; an exchange in progress always completes.
//
// A started Runner observes the scheduler: when the loop has exited on its
// own (session failure, SetRunning(false)) and the session becomes
// Connected again, the loop is restarted.
type Runner struct {
	sched  *Scheduler
	cfg    RunnerConfig
	clock  Clock
	logger *zap.Logger

	running atomic.Bool
	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewRunner(sched *Scheduler, cfg RunnerConfig, logger *zap.Logger) *Runner {
	r := &Runner{
		sched:  sched,
		cfg:    cfg,
		clock:  sched.clock,
		logger: logger,
	}
	sched.AddStateObserver(r)
	return r
}

// Start runs the loop in a goroutine. Starting a running loop is a no-op.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = true
	r.startLocked()
	return nil
}

func (r *Runner) startLocked() {
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.release(done)

		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Query loop stopped", zap.Error(err))
		}
	}()

	r.logger.Info("Query loop started",
		zap.Duration("pace_minimum", r.cfg.PaceMinimum),
		zap.Bool("auto_reconnect", r.cfg.AutoReconnect))
}

// release forgets a loop that exited by itself so it can be started again.
func (r *Runner) release(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	close(done)
	if r.done == done {
		r.cancel()
		r.cancel = nil
		r.done = nil
	}
}

// Stop cancels the loop and waits for it. A stopped Runner is not restarted
// by state changes until Start is called again.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.enabled = false
	cancel := r.cancel
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}

	r.running.Store(false)
	cancel()
	r.wg.Wait()

	r.logger.Info("Query loop stopped")
}

// StateChanged restarts an exited loop once the session is Connected again,
// e.g. after a manual Reconnect or Init.
func (r *Runner) StateChanged(_, to State) {
	if to != StateConnected {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled && r.cancel == nil {
		r.logger.Info("Session connected, restarting query loop")
		r.startLocked()
	}
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// SetRunning flips the flag checked between ticks.
func (r *Runner) SetRunning(running bool) {
	r.running.Store(running)
}

// Run ticks until the running flag is cleared or ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	backoff := r.cfg.ReconnectDelay

	for r.running.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch r.sched.State() {
		case StateConnected:
			backoff = r.cfg.ReconnectDelay
			if _, ok := r.sched.Tick(); ok {
				err = r.Wait(ctx, 0, r.cfg.PaceMinimum)
			} else {
				err = r.Wait(ctx, r.sched.NextDue(), r.cfg.PaceMinimum)
			}

		case StateError:
			if !r.cfg.AutoReconnect {
				return ErrSessionFailed
			}
			r.logger.Info("Reconnecting adapter", zap.Duration("delay", backoff))
			if err = r.Wait(ctx, backoff, r.cfg.PaceMinimum); err != nil {
				break
			}
			if rErr := r.sched.Reconnect(ctx); rErr != nil {
				r.logger.Warn("Reconnect failed", zap.Error(rErr))
				backoff = min(backoff*2, r.cfg.MaxReconnectDelay)
			}

		default:
			err = r.Wait(ctx, r.cfg.IdlePoll, r.cfg.PaceMinimum)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Wait blocks for d, but never less than minimum. Callers pass the time
// left until the next PID is due (Scheduler.NextDue). It returns early with
// ctx.Err() when ctx ends.
func (r *Runner) Wait(ctx context.Context, d, minimum time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(max(d, minimum)):
		return nil
	}
}
