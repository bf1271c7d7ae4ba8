package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/adapter"
	"github.com/KevinKickass/OpenOBDCore/internal/config"
	"github.com/KevinKickass/OpenOBDCore/internal/datalog"
	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"github.com/KevinKickass/OpenOBDCore/internal/storage"
)

// QueryEngine is the session surface exposed to the API layer.
// *scheduler.Scheduler implements it.
type QueryEngine interface {
	Status() scheduler.Status
	Init(ctx context.Context) error
	Uninit() error
	Reconnect(ctx context.Context) error
	ClearFlags()
	SendCommand(cmd, expect string) (string, error)
	SendBreak(d time.Duration) error
	SetInterval(d time.Duration) time.Duration
	LineStatus() (adapter.LineStatus, error)

	Registry() *pid.Registry
	Pids() []scheduler.PidStatus
	GetPidInfo(id pid.ID) (scheduler.PidStatus, error)
	Activate(id pid.ID) error
	Deactivate(id pid.ID) error

	StartLogging(dir string) (string, error)
	StopLogging() error
	LoggingStatus() datalog.Status
}

type LifecycleManager interface {
	Config() *config.Config
	Engine() QueryEngine
	Ports() ([]string, error)
	History(ctx context.Context, id pid.ID, limit int) ([]storage.SampleRow, error)
	Shutdown(ctx context.Context) error
}

// ErrHistoryDisabled is returned by History when no database is configured.
var ErrHistoryDisabled = errors.New("sample history requires the database")
