package storage

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"go.uber.org/zap"
)

// SampleStore is the write side used by SampleSink.
type SampleStore interface {
	InsertSamples(ctx context.Context, rows []SampleRow) (int64, error)
}

// SampleSink batches valid samples off the query loop and writes them to
// the store. Observe never blocks; rows are dropped when the buffer is full.
type SampleSink struct {
	store      SampleStore
	logger     *zap.Logger
	rows       chan SampleRow
	batchSize  int
	flushEvery time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
	once       sync.Once
	now        func() time.Time
}

func NewSampleSink(store SampleStore, batchSize int, flushEvery time.Duration, logger *zap.Logger) *SampleSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	return &SampleSink{
		store:      store,
		logger:     logger,
		rows:       make(chan SampleRow, batchSize*4),
		batchSize:  batchSize,
		flushEvery: flushEvery,
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

func (s *SampleSink) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("Sample sink started",
		zap.Int("batch_size", s.batchSize),
		zap.Duration("flush_every", s.flushEvery))
}

// Stop flushes buffered rows and waits for the writer.
func (s *SampleSink) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.logger.Info("Sample sink stopped")
	})
}

func (s *SampleSink) Observe(r scheduler.Result) {
	if !r.Valid {
		return
	}

	row := SampleRow{
		SessionID:  r.SessionID,
		PID:        int(r.PID),
		Name:       r.Name,
		ElapsedMs:  r.Elapsed.Milliseconds(),
		RawValue:   int64(r.Value),
		Value:      r.Scaled,
		RecordedAt: s.now(),
	}

	select {
	case s.rows <- row:
	default:
		s.logger.Warn("Sample buffer full, row dropped", zap.String("pid", r.PID.String()))
	}
}

func (s *SampleSink) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	batch := make([]SampleRow, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.store.InsertSamples(ctx, batch); err != nil {
			s.logger.Error("Failed to store samples", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-s.rows:
			batch = append(batch, row)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopChan:
			for {
				select {
				case row := <-s.rows:
					batch = append(batch, row)
				default:
					flush()
					return
				}
			}
		}
	}
}
