package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerStopsBetweenTicks(t *testing.T) {
	s, a, _ := connected(t, DefaultConfig(), pid.RPM, pid.Speed)
	r := NewRunner(s, DefaultRunnerConfig(), zap.NewNop())

	const n = 6
	obs := &recordingObserver{}
	obs.onResult = func(Result) {
		obs.mu.Lock()
		done := len(obs.results) >= n
		obs.mu.Unlock()
		if done {
			r.SetRunning(false)
		}
	}
	s.AddObserver(obs)

	require.NoError(t, r.Run(context.Background()))
	assert.False(t, r.IsRunning())
	assert.Len(t, obs.results, n)
	assert.Equal(t, n, a.sentCount())
}

func TestRunnerFailsWithoutReconnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	s, _, _ := connected(t, cfg, pid.Throttle)

	rc := DefaultRunnerConfig()
	rc.AutoReconnect = false
	r := NewRunner(s, rc, zap.NewNop())

	assert.ErrorIs(t, r.Run(context.Background()), ErrSessionFailed)
	assert.Equal(t, StateError, s.State())
}

func TestRunnerReconnects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	s, a, clock := connected(t, cfg, pid.Throttle)
	r := NewRunner(s, DefaultRunnerConfig(), zap.NewNop())

	obs := &recordingObserver{}
	s.AddStateObserver(obs)
	s.AddObserver(&recordingObserver{onResult: func(res Result) {
		if res.Valid {
			r.SetRunning(false)
			return
		}
		// adapter recovers after the first failure
		a.setReply("0111", "41 11 80")
	}})

	start := clock.Now()
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, StateConnected, s.State())
	assert.Contains(t, obs.transitions, [2]State{StateError, StateConnecting})
	assert.GreaterOrEqual(t, clock.Now().Sub(start), DefaultRunnerConfig().ReconnectDelay)
}

func TestRunnerCancelled(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())
	r := NewRunner(s, DefaultRunnerConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}

func TestRunnerWait(t *testing.T) {
	s, _, clock := newTestScheduler(DefaultConfig())
	r := NewRunner(s, DefaultRunnerConfig(), zap.NewNop())
	ctx := context.Background()

	start := clock.Now()
	require.NoError(t, r.Wait(ctx, 0, 10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, clock.Now().Sub(start))

	require.NoError(t, r.Wait(ctx, 200*time.Millisecond, 10*time.Millisecond))
	assert.Equal(t, 210*time.Millisecond, clock.Now().Sub(start))
}

func TestRunnerWaitCancelled(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig(), WithClock(RealClock))
	r := NewRunner(s, DefaultRunnerConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	assert.ErrorIs(t, r.Wait(ctx, time.Hour, 0), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunnerStopDuringBackoff(t *testing.T) {
	s, a, _ := newTestScheduler(DefaultConfig(), WithClock(RealClock))
	a.openErr = errors.New("no such device")
	require.Error(t, s.Init(context.Background()))
	require.Equal(t, StateError, s.State())

	rc := DefaultRunnerConfig()
	rc.ReconnectDelay = 10 * time.Second
	r := NewRunner(s, rc, zap.NewNop())

	require.NoError(t, r.Start())
	require.Eventually(t, r.IsRunning, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	r.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, r.IsRunning())
	assert.Equal(t, StateError, s.State())
}

func TestRunnerRestartsAfterManualReconnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	s, a, _ := connected(t, cfg, pid.Throttle)

	rc := DefaultRunnerConfig()
	rc.AutoReconnect = false
	r := NewRunner(s, rc, zap.NewNop())
	defer r.Stop()

	obs := &recordingObserver{}
	s.AddObserver(obs)

	require.NoError(t, r.Start())
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.cancel == nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateError, s.State())

	a.setReply("0111", "41 11 80")
	require.NoError(t, s.Reconnect(context.Background()))

	assert.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		for _, res := range obs.results {
			if res.Valid {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestRunnerStoppedStaysStopped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	s, a, _ := connected(t, cfg, pid.Throttle)

	rc := DefaultRunnerConfig()
	rc.AutoReconnect = false
	r := NewRunner(s, rc, zap.NewNop())

	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return s.State() == StateError }, time.Second, time.Millisecond)
	r.Stop()

	a.setReply("0111", "41 11 80")
	require.NoError(t, s.Reconnect(context.Background()))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Nil(t, r.cancel)
}

func TestRunnerStartStop(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())
	r := NewRunner(s, DefaultRunnerConfig(), zap.NewNop())

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	r.Stop()
	r.Stop()
	assert.False(t, r.IsRunning())
}
