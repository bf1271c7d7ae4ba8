package datalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLogger() *Logger {
	l := NewLogger(zap.NewNop())
	l.now = func() time.Time { return time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC) }
	return l
}

func TestLoggerWritesRecords(t *testing.T) {
	l := newTestLogger()
	dir := t.TempDir()

	path, err := l.Start(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "obd-20240301-083000.log"), path)
	assert.True(t, l.Active())

	want := []Record{
		{Elapsed: 10 * time.Millisecond, PID: pid.RPM, Value: 6904},
		{Elapsed: 60 * time.Millisecond, PID: pid.Speed, Value: 88},
		{Elapsed: 110 * time.Millisecond, PID: pid.CoolantTemp, Value: 90},
	}
	for _, r := range want {
		require.NoError(t, l.Append(r))
	}
	require.NoError(t, l.Stop())

	st := l.Status()
	assert.False(t, st.Active)
	assert.Equal(t, path, st.Path)
	assert.Equal(t, 3, st.Records)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10\t010C\t6904\n60\t010D\t88\n110\t0105\t90\n", string(data))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoggerUniqueNames(t *testing.T) {
	l := newTestLogger()
	dir := t.TempDir()

	first, err := l.Start(dir)
	require.NoError(t, err)
	require.NoError(t, l.Stop())

	second, err := l.Start(dir)
	require.NoError(t, err)
	require.NoError(t, l.Stop())

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "obd-20240301-083000-1.log"), second)
}

func TestLoggerStates(t *testing.T) {
	l := newTestLogger()

	assert.ErrorIs(t, l.Append(Record{PID: pid.RPM}), ErrLogClosed)
	assert.NoError(t, l.Stop())

	dir := t.TempDir()
	path, err := l.Start(dir)
	require.NoError(t, err)

	again, err := l.Start(dir)
	assert.ErrorIs(t, err, ErrLogRunning)
	assert.Equal(t, path, again)

	require.NoError(t, l.Stop())
	assert.ErrorIs(t, l.Append(Record{PID: pid.RPM}), ErrLogClosed)
}

func TestLoggerOpenFailure(t *testing.T) {
	l := newTestLogger()

	_, err := l.Start(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogOpen)

	var logErr *LogError
	require.ErrorAs(t, err, &logErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, l.Active())
}
