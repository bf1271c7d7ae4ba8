package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/response"
	"github.com/KevinKickass/OpenOBDCore/internal/serial"
	"go.uber.org/zap"
)

const (
	Terminator = "\r"

	// readSlice bounds one Read so the reply deadline is re-checked often.
	readSlice = 50 * time.Millisecond
)

type Config struct {
	Device        string
	Baud          int
	Protocol      string
	FlowControl   serial.FlowControl
	ReadTimeout   time.Duration
	ProbeCommand  string
	ProbeExpect   string
	ProbeInterval time.Duration
	InitCommands  []string
}

func DefaultConfig() Config {
	return Config{
		Baud:          38400,
		Protocol:      "8N1",
		FlowControl:   serial.NoFlowControl,
		ReadTimeout:   2 * time.Second,
		ProbeCommand:  "ATI",
		ProbeExpect:   "ELM",
		ProbeInterval: 250 * time.Millisecond,
		InitCommands:  []string{"ATZ", "ATE0", "ATL0", "ATH0", "ATSP0"},
	}
}

// LineStatus describes the physical line of an open session.
type LineStatus struct {
	Lines        serial.LineState `json:"lines"`
	PendingInput int              `json:"pending_input"`
}

// Session owns the serial device and performs one command/reply exchange
// at a time.
type Session struct {
	cfg    Config
	opener serial.Opener
	logger *zap.Logger

	mu       sync.Mutex
	dev      serial.Device
	model    response.AdapterModel
	counters counterSet

	// line counters survive reopening: carry holds what closed devices
	// reported, base is subtracted from the open device after a clear.
	lineCarry serial.ErrorCounts
	lineBase  serial.ErrorCounts
	lineLast  serial.ErrorCounts
}

func NewSession(cfg Config, opener serial.Opener, logger *zap.Logger) *Session {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultConfig().ProbeInterval
	}
	return &Session{
		cfg:    cfg,
		opener: opener,
		logger: logger,
	}
}

// Open opens and configures the device. Opening an open session is a no-op.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev != nil {
		return nil
	}

	settings, err := serial.ParseSettings(s.cfg.Protocol, s.cfg.Baud, s.cfg.FlowControl)
	if err != nil {
		return &PortError{Device: s.cfg.Device, Err: err}
	}

	dev, err := s.opener.Open(s.cfg.Device, settings)
	if err != nil {
		return &PortError{Device: s.cfg.Device, Err: err}
	}

	if err := dev.SetReadTimeout(readSlice); err != nil {
		dev.Close()
		return &PortError{Device: s.cfg.Device, Err: err}
	}
	if err := dev.SetLineState(serial.LineDTR | serial.LineRTS); err != nil && !errors.Is(err, serial.ErrUnsupported) {
		s.logger.Debug("Failed to raise DTR/RTS", zap.Error(err))
	}

	s.dev = dev
	s.lineBase = serial.ErrorCounts{}
	s.lineLast = serial.ErrorCounts{}

	s.logger.Info("Adapter port opened",
		zap.String("device", s.cfg.Device),
		zap.String("backend", s.opener.Name()),
		zap.Stringer("settings", settings))

	return nil
}

// Close releases the device. Counters stay readable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}

	s.lineCarry = s.counters.line
	s.lineBase = serial.ErrorCounts{}
	s.lineLast = serial.ErrorCounts{}

	if err := s.dev.ClearLineState(serial.LineDTR); err != nil && !errors.Is(err, serial.ErrUnsupported) {
		s.logger.Debug("Failed to drop DTR", zap.Error(err))
	}

	err := s.dev.Close()
	s.dev = nil

	s.logger.Info("Adapter port closed", zap.String("device", s.cfg.Device))
	return err
}

func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil
}

// SendCommand writes cmd followed by CR and reads until the prompt. The
// prompt and an echoed command line are removed from the returned reply.
func (s *Session) SendCommand(cmd, expect string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return "", ErrNotOpen
	}

	if err := s.dev.ResetInput(); err != nil && !errors.Is(err, serial.ErrUnsupported) {
		s.logger.Debug("Failed to drain input", zap.Error(err))
	}

	if _, err := s.dev.Write([]byte(cmd + Terminator)); err != nil {
		return "", fmt.Errorf("write failed: %w", err)
	}

	raw, err := s.readUntilPrompt()
	s.refreshLineCounters()

	reply := stripEcho(raw, cmd)

	s.logger.Debug("Adapter exchange",
		zap.String("command", cmd),
		zap.String("reply", reply),
		zap.Error(err))

	if err != nil {
		return reply, err
	}
	if expect != "" && !strings.Contains(strings.ToUpper(reply), strings.ToUpper(expect)) {
		return reply, fmt.Errorf("%w: want %q, got %q", ErrUnexpectedReply, expect, reply)
	}
	return reply, nil
}

func (s *Session) readUntilPrompt() (string, error) {
	deadline := time.Now().Add(s.cfg.ReadTimeout)
	var buf []byte
	chunk := make([]byte, 256)

	for {
		n, err := s.dev.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if i := bytes.IndexByte(buf, response.Prompt); i >= 0 {
				return string(buf[:i]), nil
			}
		}
		if err != nil {
			return string(buf), fmt.Errorf("read failed: %w", err)
		}
		if time.Now().After(deadline) {
			return string(buf), ErrReplyTimeout
		}
	}
}

func stripEcho(raw, cmd string) string {
	lines := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\r' || r == '\n'
	})

	out := lines[:0]
	echo := strings.ToUpper(strings.ReplaceAll(cmd, " ", ""))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i == 0 && strings.ToUpper(strings.ReplaceAll(line, " ", "")) == echo {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func (s *Session) refreshLineCounters() {
	c, err := s.dev.ErrorCounts()
	if err != nil {
		return
	}
	s.lineLast = c
	s.counters.line = s.lineCarry.Add(c.Sub(s.lineBase))
}

// WaitReady probes the adapter until it answers, the timeout passes, or ctx
// is cancelled.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		_, err := s.SendCommand(s.cfg.ProbeCommand, s.cfg.ProbeExpect)
		if err == nil {
			s.logger.Info("Adapter ready", zap.Int("attempts", attempt))
			return nil
		}
		if errors.Is(err, ErrNotOpen) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %d attempts: %v", ErrNotReady, attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ProbeInterval):
		}
	}
}

// Setup runs the init command list and identifies the adapter from the
// first banner it sees.
func (s *Session) Setup() (response.AdapterModel, error) {
	model := response.ModelUnknown

	for _, cmd := range s.cfg.InitCommands {
		reply, err := s.SendCommand(cmd, "")
		if err != nil {
			return model, fmt.Errorf("init command %s: %w", cmd, err)
		}
		if strings.TrimSpace(reply) == "?" {
			return model, fmt.Errorf("init command %s: %w: adapter rejected command", cmd, ErrUnexpectedReply)
		}
		if model == response.ModelUnknown {
			model = response.Identify(reply)
		}
	}

	if model == response.ModelUnknown {
		if reply, err := s.SendCommand("ATI", ""); err == nil {
			model = response.Identify(reply)
		}
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()

	s.logger.Info("Adapter initialised", zap.Stringer("model", model))
	return model, nil
}

func (s *Session) Model() response.AdapterModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Record counts a classified outcome. HexData is never counted.
func (s *Session) Record(o response.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.record(o)
}

func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters.snapshot()
}

// ClearCounters zeroes every counter. Only session initialisation calls it.
func (s *Session) ClearCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = counterSet{}
	s.lineCarry = serial.ErrorCounts{}
	s.lineBase = s.lineLast
}

func (s *Session) LineStatus() (LineStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return LineStatus{}, ErrNotOpen
	}

	lines, err := s.dev.LineState()
	if err != nil && !errors.Is(err, serial.ErrUnsupported) {
		return LineStatus{}, err
	}
	pending, err := s.dev.PendingInput()
	if err != nil && !errors.Is(err, serial.ErrUnsupported) {
		return LineStatus{}, err
	}

	return LineStatus{Lines: lines, PendingInput: pending}, nil
}

// SendBreak holds the line in break for d, which resets some adapters.
func (s *Session) SendBreak(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return ErrNotOpen
	}
	return s.dev.SendBreak(d)
}
