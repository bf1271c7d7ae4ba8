package storage

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID           uuid.UUID  `json:"id"`
	Device       string     `json:"device"`
	AdapterModel string     `json:"adapter_model"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

type SampleRow struct {
	SessionID  uuid.UUID `json:"session_id"`
	PID        int       `json:"pid"`
	Name       string    `json:"name"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	RawValue   int64     `json:"raw_value"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}
