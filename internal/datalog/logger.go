package datalog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrLogOpen    = errors.New("failed to open log file")
	ErrLogClosed  = errors.New("log is not open")
	ErrLogRunning = errors.New("logging already started")
)

// LogError wraps a failure on the log file.
type LogError struct {
	Path string
	Err  error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrLogOpen, e.Path, e.Err)
}

func (e *LogError) Unwrap() []error {
	return []error{ErrLogOpen, e.Err}
}

type Status struct {
	Active  bool   `json:"active"`
	Path    string `json:"path,omitempty"`
	Records int    `json:"records"`
}

// Logger appends records to one file at a time. Its lifetime is
// independent of the adapter session.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	path    string
	records int
	logger  *zap.Logger
	now     func() time.Time
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{
		logger: logger,
		now:    time.Now,
	}
}

// Start creates a new uniquely named file in dir.
func (l *Logger) Start(dir string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.path, ErrLogRunning
	}
	if dir == "" {
		dir = "."
	}

	stamp := l.now().Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("obd-%s.log", stamp))

	var (
		f   *os.File
		err error
	)
	for i := 1; ; i++ {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
		if !errors.Is(err, os.ErrExist) || i > 99 {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("obd-%s-%d.log", stamp, i))
	}
	if err != nil {
		return "", &LogError{Path: path, Err: err}
	}

	l.file = f
	l.w = bufio.NewWriter(f)
	l.path = path
	l.records = 0

	l.logger.Info("Data logging started", zap.String("path", path))
	return path, nil
}

func (l *Logger) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrLogClosed
	}

	if _, err := l.w.WriteString(r.Format() + "\n"); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	l.records++
	return nil
}

// Stop flushes and closes the file. Stopping a stopped logger is a no-op.
func (l *Logger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	flushErr := l.w.Flush()
	closeErr := l.file.Close()

	l.logger.Info("Data logging stopped",
		zap.String("path", l.path),
		zap.Int("records", l.records))

	l.file = nil
	l.w = nil

	if flushErr != nil {
		return fmt.Errorf("failed to flush log: %w", flushErr)
	}
	return closeErr
}

func (l *Logger) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

func (l *Logger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Active:  l.file != nil,
		Path:    l.path,
		Records: l.records,
	}
}

// ReadFile parses a log written by Logger.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		r, err := ParseRecord(scanner.Text())
		if err != nil {
			return records, err
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}
