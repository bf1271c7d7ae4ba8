package storage

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionStore interface {
	StartSession(ctx context.Context, s Session) error
	EndSession(ctx context.Context, id uuid.UUID, at time.Time) error
}

// StatusSource reports the current session. *scheduler.Scheduler implements it.
type StatusSource interface {
	Status() scheduler.Status
}

// SessionTracker keeps obd_sessions in step with scheduler transitions.
type SessionTracker struct {
	store   SessionStore
	source  StatusSource
	device  string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	current uuid.UUID
}

func NewSessionTracker(store SessionStore, source StatusSource, device string, logger *zap.Logger) *SessionTracker {
	return &SessionTracker{
		store:   store,
		source:  source,
		device:  device,
		timeout: 5 * time.Second,
		logger:  logger,
		now:     time.Now,
	}
}

// StateChanged runs on the notifying goroutine, after the scheduler lock
// has been released.
func (t *SessionTracker) StateChanged(_, to scheduler.State) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch to {
	case scheduler.StateConnected:
		st := t.source.Status()
		if t.current != uuid.Nil && t.current != st.SessionID {
			t.end(ctx)
		}
		t.current = st.SessionID
		err := t.store.StartSession(ctx, Session{
			ID:           st.SessionID,
			Device:       t.device,
			AdapterModel: st.Model.String(),
			StartedAt:    t.now().Add(-st.Elapsed),
		})
		if err != nil {
			t.logger.Error("Failed to record session start",
				zap.String("session_id", st.SessionID.String()),
				zap.Error(err))
		}

	case scheduler.StateStopped:
		t.end(ctx)
	}
}

func (t *SessionTracker) end(ctx context.Context) {
	if t.current == uuid.Nil {
		return
	}
	if err := t.store.EndSession(ctx, t.current, t.now()); err != nil {
		t.logger.Error("Failed to record session end",
			zap.String("session_id", t.current.String()),
			zap.Error(err))
	}
	t.current = uuid.Nil
}
