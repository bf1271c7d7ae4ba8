package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/datalog"
	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/KevinKickass/OpenOBDCore/internal/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func connected(t *testing.T, cfg Config, ids ...pid.ID) (*Scheduler, *fakeAdapter, *fakeClock) {
	t.Helper()
	s, a, clock := newTestScheduler(cfg)
	require.NoError(t, s.Init(context.Background()))
	for _, id := range ids {
		require.NoError(t, s.Activate(id))
	}
	return s, a, clock
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinInterval = time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Interval = time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Step = 0
	assert.Error(t, cfg.Validate())
}

func TestInitConnects(t *testing.T) {
	s, a, _ := newTestScheduler(DefaultConfig())
	obs := &recordingObserver{}
	s.AddStateObserver(obs)

	require.NoError(t, s.Init(context.Background()))

	st := s.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, Healthy, st.Health)
	assert.Equal(t, response.ModelELM327, st.Model)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", st.SessionID.String())
	assert.Equal(t, 200*time.Millisecond, st.Interval)
	assert.Empty(t, st.Active)
	assert.Equal(t, 1, a.clears)

	assert.Equal(t, [][2]State{
		{StateIdle, StateConnecting},
		{StateConnecting, StateConnected},
	}, obs.transitions)

	// already connected
	assert.ErrorIs(t, s.Init(context.Background()), ErrInvalidTransition)
}

func TestInitFailureEntersError(t *testing.T) {
	s, a, _ := newTestScheduler(DefaultConfig())
	a.openErr = errors.New("no such device")

	err := s.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, s.State())

	_, ok := s.Tick()
	assert.False(t, ok)

	a.openErr = nil
	require.NoError(t, s.Reconnect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
}

func TestSetupFailureEntersError(t *testing.T) {
	s, a, _ := newTestScheduler(DefaultConfig())
	a.setupErr = errors.New("rejected")

	require.Error(t, s.Init(context.Background()))
	assert.Equal(t, StateError, s.State())
	assert.False(t, a.open)
}

func TestTickSuccess(t *testing.T) {
	s, a, clock := connected(t, DefaultConfig(), pid.RPM)
	clock.Advance(120 * time.Millisecond)

	res, ok := s.Tick()
	require.True(t, ok)
	assert.Equal(t, response.HexData, res.Outcome)
	assert.True(t, res.Valid)
	assert.Equal(t, uint32(6904), res.Value)
	assert.Equal(t, 1726.0, res.Scaled)
	assert.Equal(t, "010C", res.Command)
	assert.Equal(t, 120*time.Millisecond, res.Elapsed)
	assert.Equal(t, 150*time.Millisecond, res.Interval)
	assert.Equal(t, []string{"010C"}, a.sent)

	info, err := s.GetPidInfo(pid.RPM)
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.True(t, info.Sample.Valid)
	assert.Equal(t, uint32(6904), info.Sample.Value)
	assert.Equal(t, 1726.0, info.Scaled)

	byName, err := s.GetPidInfoByName("RPM")
	require.NoError(t, err)
	assert.Equal(t, info, byName)

	assert.Equal(t, 0, s.Status().Counters.Total)
}

func TestTickBusBusy(t *testing.T) {
	s, a, clock := connected(t, DefaultConfig(), pid.RPM)

	_, ok := s.Tick()
	require.True(t, ok)
	require.Equal(t, 150*time.Millisecond, s.Interval())
	before, err := s.GetPidInfo(pid.RPM)
	require.NoError(t, err)

	a.setReply("010C", "BUS BUSY")
	clock.Advance(200 * time.Millisecond)

	res, ok := s.Tick()
	require.True(t, ok)
	assert.Equal(t, response.BusBusy, res.Outcome)
	assert.False(t, res.Valid)
	assert.Equal(t, response.InvalidValue, res.Value)
	assert.Equal(t, 200*time.Millisecond, s.Interval())
	assert.Equal(t, 1, s.Status().Counters.Get(response.BusBusy))
	assert.Equal(t, 1, s.Status().ErrorStreak)
	assert.Equal(t, Degraded, s.Health())

	after, err := s.GetPidInfo(pid.RPM)
	require.NoError(t, err)
	assert.Equal(t, before.Sample, after.Sample)
}

func TestTickNotDueIsNoop(t *testing.T) {
	s, a, clock := connected(t, DefaultConfig(), pid.RPM)

	_, ok := s.Tick()
	require.True(t, ok)
	s.SetInterval(200 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	res, ok := s.Tick()
	assert.False(t, ok)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 1, a.sentCount())
	assert.Equal(t, 150*time.Millisecond, s.NextDue())

	clock.Advance(150 * time.Millisecond)
	_, ok = s.Tick()
	assert.True(t, ok)
	assert.Equal(t, 2, a.sentCount())
}

func TestReactivateKeepsSchedule(t *testing.T) {
	s, a, clock := connected(t, DefaultConfig(), pid.RPM)

	_, ok := s.Tick()
	require.True(t, ok)
	clock.Advance(50 * time.Millisecond)

	require.NoError(t, s.Activate(pid.RPM))
	_, ok = s.Tick()
	assert.False(t, ok)
	assert.Equal(t, 1, a.sentCount())

	// a deactivate/activate cycle makes it due again
	require.NoError(t, s.Deactivate(pid.RPM))
	require.NoError(t, s.Activate(pid.RPM))
	_, ok = s.Tick()
	assert.True(t, ok)
	assert.Equal(t, 2, a.sentCount())
}

func TestTickWithoutActivePids(t *testing.T) {
	s, a, _ := connected(t, DefaultConfig())

	_, ok := s.Tick()
	assert.False(t, ok)
	assert.Equal(t, 0, a.sentCount())
	assert.Equal(t, 200*time.Millisecond, s.NextDue())
}

func TestTickPriorityOrder(t *testing.T) {
	// coolant (3) registered after speed (1); rpm (1) registered first
	s, a, _ := connected(t, DefaultConfig(), pid.CoolantTemp, pid.Speed, pid.RPM)

	for i := 0; i < 3; i++ {
		_, ok := s.Tick()
		require.True(t, ok)
	}
	_, ok := s.Tick()
	assert.False(t, ok)

	assert.Equal(t, []string{"010C", "010D", "0105"}, a.sent)
}

func TestTickSerialTimeout(t *testing.T) {
	s, a, _ := connected(t, DefaultConfig(), pid.Throttle)

	res, ok := s.Tick()
	require.True(t, ok)
	assert.Equal(t, response.SerialTimeout, res.Outcome)
	assert.Equal(t, 1, a.Counters().Get(response.SerialTimeout))
	assert.Equal(t, 250*time.Millisecond, s.Interval())
}

func TestTickWidthMismatchIsDataError(t *testing.T) {
	s, a, _ := connected(t, DefaultConfig(), pid.RPM)
	a.setReply("010C", "41 0C 1A")

	res, ok := s.Tick()
	require.True(t, ok)
	assert.Equal(t, response.DataError, res.Outcome)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, s.Status().Counters.Get(response.DataError))
}

func TestIntervalStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 0
	cfg.AdaptPeriod = 0
	s, a, clock := connected(t, cfg, pid.RPM)

	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		_, ok := s.Tick()
		require.True(t, ok)
		assert.GreaterOrEqual(t, s.Interval(), cfg.MinInterval)
	}
	assert.Equal(t, cfg.MinInterval, s.Interval())

	a.setReply("010C", "NO DATA")
	for i := 0; i < 12; i++ {
		clock.Advance(time.Second)
		_, ok := s.Tick()
		require.True(t, ok)
		assert.LessOrEqual(t, s.Interval(), cfg.MaxInterval)
	}
	assert.Equal(t, cfg.MaxInterval, s.Interval())
	assert.Equal(t, StateConnected, s.State())

	assert.Equal(t, cfg.MinInterval, s.SetInterval(time.Millisecond))
	assert.Equal(t, cfg.MaxInterval, s.SetInterval(time.Hour))
}

func TestErrorThresholdEntersError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 3
	s, a, clock := connected(t, cfg, pid.RPM)
	a.setReply("010C", "NO DATA")

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		_, ok := s.Tick()
		require.True(t, ok)
	}
	assert.Equal(t, StateError, s.State())

	clock.Advance(time.Second)
	_, ok := s.Tick()
	assert.False(t, ok)

	// reconnect keeps counters but resets the streak and interval
	a.setReply("010C", "41 0C 00 00")
	require.NoError(t, s.Reconnect(context.Background()))
	st := s.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, 0, st.ErrorStreak)
	assert.Equal(t, cfg.Interval, st.Interval)
	assert.Equal(t, 3, st.Counters.Get(response.NoData))
	assert.Equal(t, []pid.ID{pid.RPM}, st.Active)

	clock.Advance(time.Second)
	res, ok := s.Tick()
	require.True(t, ok)
	assert.True(t, res.Valid)
}

func TestSuccessStreakResetsInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdaptPeriod = time.Second
	s, _, clock := connected(t, cfg, pid.RPM)

	want := []time.Duration{150, 100, 50, 50, 200}
	for i, w := range want {
		if i > 0 {
			clock.Advance(300 * time.Millisecond)
		}
		_, ok := s.Tick()
		require.True(t, ok)
		assert.Equal(t, w*time.Millisecond, s.Interval(), "tick %d", i)
	}
}

func TestActivateUnknownPid(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())

	assert.ErrorIs(t, s.Activate(0x01FF), ErrUnknownPid)
	assert.ErrorIs(t, s.Deactivate(0x01FF), ErrUnknownPid)
	assert.ErrorIs(t, s.ActivateName("warp_drive"), ErrUnknownPid)

	_, err := s.GetPidInfo(0x01FF)
	assert.ErrorIs(t, err, ErrUnknownPid)
	_, err = s.GetPidInfoByName("warp_drive")
	assert.ErrorIs(t, err, ErrUnknownPid)

	require.NoError(t, s.ActivateName("speed"))
	info, err := s.GetPidInfo(pid.Speed)
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.False(t, info.Sample.Valid)
	assert.Equal(t, response.InvalidValue, info.Sample.Value)
}

func TestCatalogNotMutatedByQueries(t *testing.T) {
	s, _, _ := connected(t, DefaultConfig(), pid.RPM)
	before := s.Registry().All()

	_, ok := s.Tick()
	require.True(t, ok)

	after := s.Registry().All()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Name, after[i].Name)
		assert.Equal(t, before[i].Priority, after[i].Priority)
	}
}

func TestUninit(t *testing.T) {
	s, a, _ := connected(t, DefaultConfig(), pid.RPM, pid.Speed)

	require.NoError(t, s.Uninit())
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, a.open)
	for _, p := range s.Pids() {
		assert.False(t, p.Active, p.Name)
	}
	require.NoError(t, s.Uninit())

	_, err := s.SendCommand("ATI", "")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, StateConnected, s.State())
}

func TestSendCommandPassthrough(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())

	_, err := s.SendCommand("ATI", "ELM")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, s.Init(context.Background()))
	reply, err := s.SendCommand("ATI", "ELM")
	require.NoError(t, err)
	assert.Equal(t, "ELM327 v1.5", reply)
}

func TestClearFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 0
	s, a, _ := connected(t, cfg, pid.Throttle)

	_, ok := s.Tick()
	require.True(t, ok)
	require.Equal(t, 1, s.Status().Counters.Total)

	s.ClearFlags()
	st := s.Status()
	assert.Equal(t, 0, st.Counters.Total)
	assert.Equal(t, 0, st.ErrorStreak)
	assert.Equal(t, cfg.Interval, st.Interval)
	assert.Equal(t, 2, a.clears)
}

func TestObserversMayCallBack(t *testing.T) {
	s, _, _ := connected(t, DefaultConfig(), pid.RPM)

	var seen Status
	obs := &recordingObserver{onResult: func(Result) {
		seen = s.Status()
	}}
	s.AddObserver(obs)

	_, ok := s.Tick()
	require.True(t, ok)
	require.Len(t, obs.results, 1)
	assert.Equal(t, pid.RPM, obs.results[0].PID)
	assert.Equal(t, StateConnected, seen.State)
}

func TestLoggingRoundTrip(t *testing.T) {
	recorder := datalog.NewLogger(zap.NewNop())
	s, a, clock := newTestScheduler(DefaultConfig(), WithRecorder(recorder))
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Activate(pid.RPM))

	path, err := s.StartLogging(t.TempDir())
	require.NoError(t, err)
	assert.True(t, s.LoggingStatus().Active)

	const n = 5
	for i := 0; i < n; i++ {
		clock.Advance(time.Second)
		_, ok := s.Tick()
		require.True(t, ok)
	}
	// failures are not logged
	a.setReply("010C", "NO DATA")
	clock.Advance(time.Second)
	_, ok := s.Tick()
	require.True(t, ok)

	require.NoError(t, s.StopLogging())
	assert.False(t, s.LoggingStatus().Active)
	assert.Equal(t, n, s.LoggingStatus().Records)

	records, err := datalog.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, pid.RPM, r.PID)
		assert.Equal(t, uint32(6904), r.Value)
		assert.Equal(t, time.Duration(i+1)*time.Second, r.Elapsed)
	}
}

func TestLoggingWithoutRecorder(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())

	_, err := s.StartLogging(t.TempDir())
	assert.ErrorIs(t, err, ErrNoRecorder)
	assert.ErrorIs(t, s.StopLogging(), ErrNoRecorder)
	assert.False(t, s.LoggingStatus().Active)
}
