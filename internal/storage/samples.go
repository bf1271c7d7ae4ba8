package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// StartSession stores a new session row, or refreshes the adapter model of
// an existing one after a reconnect.
func (p *PostgresClient) StartSession(ctx context.Context, s Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO obd_sessions (id, device, adapter_model, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET adapter_model = EXCLUDED.adapter_model
	`, s.ID, s.Device, s.AdapterModel, s.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (p *PostgresClient) EndSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE obd_sessions SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

var sampleColumns = []string{"session_id", "pid", "name", "elapsed_ms", "raw_value", "value", "recorded_at"}

// InsertSamples bulk-loads rows with COPY.
func (p *PostgresClient) InsertSamples(ctx context.Context, rows []SampleRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"obd_samples"},
		sampleColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.SessionID, r.PID, r.Name, r.ElapsedMs, r.RawValue, r.Value, r.RecordedAt}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("failed to copy samples: %w", err)
	}
	return n, nil
}

// RecentSamples returns the newest samples of one PID, newest first.
func (p *PostgresClient) RecentSamples(ctx context.Context, sessionID uuid.UUID, pid int, limit int) ([]SampleRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, pid, name, elapsed_ms, raw_value, value, recorded_at
		FROM obd_samples
		WHERE session_id = $1 AND pid = $2
		ORDER BY elapsed_ms DESC
		LIMIT $3
	`, sessionID, pid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	samples := make([]SampleRow, 0, limit)
	for rows.Next() {
		var s SampleRow
		if err := rows.Scan(&s.SessionID, &s.PID, &s.Name, &s.ElapsedMs, &s.RawValue, &s.Value, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
