package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/adapter"
	"github.com/KevinKickass/OpenOBDCore/internal/datalog"
	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/KevinKickass/OpenOBDCore/internal/response"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownPid   = errors.New("unknown pid")
	ErrNotConnected = errors.New("session not connected")
	ErrNoRecorder   = errors.New("no data logger configured")
)

type Config struct {
	Interval       time.Duration
	MinInterval    time.Duration
	MaxInterval    time.Duration
	Step           time.Duration
	AdaptPeriod    time.Duration
	ErrorThreshold int
	ReadyTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       200 * time.Millisecond,
		MinInterval:    50 * time.Millisecond,
		MaxInterval:    500 * time.Millisecond,
		Step:           50 * time.Millisecond,
		AdaptPeriod:    60 * time.Second,
		ErrorThreshold: 10,
		ReadyTimeout:   5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.MinInterval <= 0 || c.Step <= 0 {
		return fmt.Errorf("min interval and step must be positive")
	}
	if c.MinInterval > c.MaxInterval {
		return fmt.Errorf("min interval %s exceeds max interval %s", c.MinInterval, c.MaxInterval)
	}
	if c.Interval < c.MinInterval || c.Interval > c.MaxInterval {
		return fmt.Errorf("interval %s outside [%s, %s]", c.Interval, c.MinInterval, c.MaxInterval)
	}
	if c.AdaptPeriod < 0 || c.ErrorThreshold < 0 {
		return fmt.Errorf("adapt period and error threshold must not be negative")
	}
	return nil
}

// Adapter is the session the scheduler drives. *adapter.Session implements it.
type Adapter interface {
	Open() error
	Close() error
	SendCommand(cmd, expect string) (string, error)
	WaitReady(ctx context.Context, timeout time.Duration) error
	Setup() (response.AdapterModel, error)
	Record(o response.Outcome)
	Counters() adapter.Counters
	ClearCounters()
	LineStatus() (adapter.LineStatus, error)
	SendBreak(d time.Duration) error
}

type Sample struct {
	Elapsed time.Duration `json:"elapsed"`
	Value   uint32        `json:"value"`
	Valid   bool          `json:"valid"`
}

// Result describes one completed exchange.
type Result struct {
	SessionID uuid.UUID        `json:"session_id"`
	PID       pid.ID           `json:"pid"`
	Name      string           `json:"name"`
	Command   string           `json:"command"`
	Outcome   response.Outcome `json:"outcome"`
	Elapsed   time.Duration    `json:"elapsed"`
	Value     uint32           `json:"value"`
	Valid     bool             `json:"valid"`
	Scaled    float64          `json:"scaled"`
	Unit      string           `json:"unit,omitempty"`
	Interval  time.Duration    `json:"interval"`
}

type PidStatus struct {
	pid.Info
	Active    bool          `json:"active"`
	Sample    Sample        `json:"sample"`
	Scaled    float64       `json:"scaled"`
	LastQuery time.Duration `json:"last_query"`
}

type Status struct {
	SessionID   uuid.UUID             `json:"session_id"`
	State       State                 `json:"state"`
	Health      Health                `json:"health"`
	Model       response.AdapterModel `json:"adapter_model"`
	Interval    time.Duration         `json:"interval"`
	ErrorStreak int                   `json:"error_streak"`
	Elapsed     time.Duration         `json:"elapsed"`
	Active      []pid.ID              `json:"active"`
	Counters    adapter.Counters      `json:"counters"`
}

// Observer receives every completed exchange.
type Observer interface {
	Observe(Result)
}

// StateObserver receives state transitions.
type StateObserver interface {
	StateChanged(from, to State)
}

type entry struct {
	info      pid.Info
	active    bool
	queried   bool
	lastQuery time.Duration
	sample    Sample
}

type event struct {
	result   *Result
	from, to State
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithClassifier(c *response.Classifier) Option {
	return func(s *Scheduler) { s.classifier = c }
}

func WithRecorder(l *datalog.Logger) Option {
	return func(s *Scheduler) { s.recorder = l }
}

// Scheduler is the query engine. All exchanges happen under its lock, so
// at most one command is in flight.
type Scheduler struct {
	cfg        Config
	registry   *pid.Registry
	classifier *response.Classifier
	extractor  *response.Extractor
	adapter    Adapter
	recorder   *datalog.Logger
	clock      Clock
	logger     *zap.Logger

	mu           sync.Mutex
	state        State
	model        response.AdapterModel
	sessionID    uuid.UUID
	start        time.Time
	interval     time.Duration
	errorStreak  int
	successRun   bool
	successSince time.Duration
	table        []*entry
	byID         map[pid.ID]*entry
	events       []event

	observers      []Observer
	stateObservers []StateObserver
}

func New(cfg Config, registry *pid.Registry, a Adapter, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		registry: registry,
		adapter:  a,
		clock:    RealClock,
		logger:   logger,
		state:    StateIdle,
		interval: cfg.Interval,
		byID:     make(map[pid.ID]*entry, registry.Len()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = response.NewClassifier(nil)
	}
	s.extractor = response.NewExtractor(registry)

	for _, info := range registry.All() {
		e := &entry{info: info, sample: Sample{Value: response.InvalidValue}}
		s.table = append(s.table, e)
		s.byID[info.ID] = e
	}
	s.start = s.clock.Now()

	return s
}

func (s *Scheduler) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Scheduler) AddStateObserver(o StateObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateObservers = append(s.stateObservers, o)
}

// unlock releases the lock and then delivers queued events, so observers
// may call back into the scheduler.
func (s *Scheduler) unlock() {
	events := s.events
	s.events = nil
	observers := s.observers
	stateObservers := s.stateObservers
	s.mu.Unlock()

	for _, ev := range events {
		if ev.result != nil {
			for _, o := range observers {
				o.Observe(*ev.result)
			}
			continue
		}
		for _, o := range stateObservers {
			o.StateChanged(ev.from, ev.to)
		}
	}
}

func (s *Scheduler) transition(to State) error {
	from := s.state
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	s.state = to
	s.events = append(s.events, event{from: from, to: to})

	s.logger.Info("Session state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	return nil
}

func (s *Scheduler) elapsed() time.Duration {
	return s.clock.Now().Sub(s.start)
}

// Init starts a new session: counters and interval are reset, the adapter is
// opened, probed and set up.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.transition(StateConnecting); err != nil {
		return err
	}

	s.clearFlagsLocked()
	s.sessionID = uuid.New()
	s.start = s.clock.Now()
	for _, e := range s.table {
		e.queried = false
		e.lastQuery = 0
		e.sample = Sample{Value: response.InvalidValue}
	}

	return s.connectLocked(ctx)
}

// Reconnect reopens the adapter after an Error. Counters, samples and
// active PIDs are kept.
func (s *Scheduler) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.transition(StateConnecting); err != nil {
		return err
	}

	if err := s.adapter.Close(); err != nil {
		s.logger.Warn("Failed to close adapter before reconnect", zap.Error(err))
	}
	s.errorStreak = 0
	s.successRun = false
	s.interval = s.cfg.Interval

	return s.connectLocked(ctx)
}

func (s *Scheduler) connectLocked(ctx context.Context) error {
	fail := func(err error) error {
		s.adapter.Close()
		s.transition(StateError)
		s.logger.Error("Adapter connect failed", zap.Error(err))
		return err
	}

	if err := s.adapter.Open(); err != nil {
		return fail(err)
	}
	if err := s.adapter.WaitReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return fail(fmt.Errorf("adapter not ready: %w", err))
	}
	model, err := s.adapter.Setup()
	if err != nil {
		return fail(fmt.Errorf("adapter setup failed: %w", err))
	}
	s.model = model

	s.logger.Info("Session connected",
		zap.String("session_id", s.sessionID.String()),
		zap.Stringer("adapter", model))

	return s.transition(StateConnected)
}

// Uninit tears the session down and deactivates every PID.
func (s *Scheduler) Uninit() error {
	s.mu.Lock()
	defer s.unlock()

	if s.state == StateIdle || s.state == StateStopped {
		return nil
	}

	err := s.adapter.Close()
	for _, e := range s.table {
		e.active = false
	}
	if tErr := s.transition(StateStopped); tErr != nil {
		return tErr
	}
	return err
}

// ClearFlags resets counters, the error streak and the interval.
func (s *Scheduler) ClearFlags() {
	s.mu.Lock()
	defer s.unlock()
	s.clearFlagsLocked()
}

func (s *Scheduler) clearFlagsLocked() {
	s.adapter.ClearCounters()
	s.errorStreak = 0
	s.successRun = false
	s.interval = s.cfg.Interval
}

func (s *Scheduler) Activate(id pid.ID) error {
	return s.setActive(id, true)
}

func (s *Scheduler) Deactivate(id pid.ID) error {
	return s.setActive(id, false)
}

func (s *Scheduler) ActivateName(name string) error {
	info, ok := s.registry.LookupName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPid, name)
	}
	return s.setActive(info.ID, true)
}

func (s *Scheduler) setActive(id pid.ID, active bool) error {
	s.mu.Lock()
	defer s.unlock()

	e, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPid, id)
	}
	// a newly activated PID is due at once; re-activation keeps its schedule
	if active && !e.active {
		e.queried = false
	}
	e.active = active
	return nil
}

// Tick performs at most one exchange. It returns false when the session is
// not connected or no active PID is due.
func (s *Scheduler) Tick() (Result, bool) {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateConnected {
		return Result{}, false
	}

	e := s.nextDue(s.elapsed())
	if e == nil {
		return Result{}, false
	}

	cmd := e.info.ID.Command()
	reply, err := s.adapter.SendCommand(cmd, "")
	done := s.elapsed()
	e.queried = true
	e.lastQuery = done

	outcome := response.SerialTimeout
	if err == nil {
		outcome = s.classifier.Classify(reply)
	} else if !errors.Is(err, adapter.ErrReplyTimeout) {
		s.logger.Warn("Adapter exchange failed",
			zap.String("command", cmd),
			zap.Error(err))
	}

	res := Result{
		SessionID: s.sessionID,
		PID:       e.info.ID,
		Name:      e.info.Name,
		Command:   cmd,
		Elapsed:   done,
		Value:     response.InvalidValue,
		Unit:      e.info.Unit,
	}

	if outcome == response.HexData {
		if v, ok := s.extractor.Extract(e.info.ID, reply); ok {
			res.Value, res.Valid = v, true
			res.Scaled = e.info.Scale(v)
		} else {
			outcome = response.DataError
		}
	}
	res.Outcome = outcome
	s.adapter.Record(outcome)

	if res.Valid {
		e.sample = Sample{Elapsed: done, Value: res.Value, Valid: true}
		s.onSuccess(done)
		s.appendRecord(res)
	} else {
		s.onFailure(res, reply)
	}

	res.Interval = s.interval
	s.events = append(s.events, event{result: &res})
	return res, true
}

// nextDue picks the due PID with the lowest priority value; ties go to
// registration order.
func (s *Scheduler) nextDue(now time.Duration) *entry {
	var best *entry
	for _, e := range s.table {
		if !e.active {
			continue
		}
		if e.queried && now-e.lastQuery < s.interval {
			continue
		}
		if best == nil || e.info.Priority < best.info.Priority {
			best = e
		}
	}
	return best
}

func (s *Scheduler) onSuccess(done time.Duration) {
	s.errorStreak = 0
	if !s.successRun {
		s.successRun = true
		s.successSince = done
	}

	if s.cfg.AdaptPeriod > 0 && done-s.successSince >= s.cfg.AdaptPeriod {
		s.interval = s.cfg.Interval
		s.successSince = done
		s.logger.Info("Query interval reset after sustained success",
			zap.Duration("interval", s.interval))
		return
	}

	s.interval = max(s.interval-s.cfg.Step, s.cfg.MinInterval)
}

func (s *Scheduler) onFailure(res Result, reply string) {
	s.successRun = false
	s.interval = min(s.interval+s.cfg.Step, s.cfg.MaxInterval)
	s.errorStreak++

	s.logger.Debug("Query failed",
		zap.Stringer("pid", res.PID),
		zap.Stringer("outcome", res.Outcome),
		zap.String("reply", reply),
		zap.Duration("interval", s.interval),
		zap.Int("streak", s.errorStreak))

	if s.cfg.ErrorThreshold > 0 && s.errorStreak >= s.cfg.ErrorThreshold {
		s.logger.Warn("Error streak reached threshold",
			zap.Int("streak", s.errorStreak),
			zap.Stringer("last_outcome", res.Outcome))
		s.transition(StateError)
	}
}

func (s *Scheduler) appendRecord(res Result) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Append(datalog.Record{Elapsed: res.Elapsed, PID: res.PID, Value: res.Value})
	if err != nil && !errors.Is(err, datalog.ErrLogClosed) {
		s.logger.Error("Failed to append log record", zap.Error(err))
	}
}

// NextDue returns how long until the earliest active PID becomes due.
func (s *Scheduler) NextDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.elapsed()
	wait := time.Duration(-1)
	for _, e := range s.table {
		if !e.active {
			continue
		}
		d := time.Duration(0)
		if e.queried {
			d = max(e.lastQuery+s.interval-now, 0)
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}
	if wait < 0 {
		return s.interval
	}
	return wait
}

// SendCommand passes a raw command to the adapter, serialised with Tick.
func (s *Scheduler) SendCommand(cmd, expect string) (string, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateConnected && s.state != StateError {
		return "", ErrNotConnected
	}
	return s.adapter.SendCommand(cmd, expect)
}

func (s *Scheduler) LineStatus() (adapter.LineStatus, error) {
	s.mu.Lock()
	defer s.unlock()
	return s.adapter.LineStatus()
}

func (s *Scheduler) SendBreak(d time.Duration) error {
	s.mu.Lock()
	defer s.unlock()
	return s.adapter.SendBreak(d)
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) healthLocked() Health {
	if s.state == StateConnected && s.errorStreak == 0 && s.interval <= s.cfg.Interval {
		return Healthy
	}
	return Degraded
}

func (s *Scheduler) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthLocked()
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval overrides the current interval, clamped to the bounds.
func (s *Scheduler) SetInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = min(max(d, s.cfg.MinInterval), s.cfg.MaxInterval)
	return s.interval
}

func (s *Scheduler) Config() Config {
	return s.cfg
}

func (s *Scheduler) Registry() *pid.Registry {
	return s.registry
}

func (s *Scheduler) SessionID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:   s.sessionID,
		State:       s.state,
		Health:      s.healthLocked(),
		Model:       s.model,
		Interval:    s.interval,
		ErrorStreak: s.errorStreak,
		Elapsed:     s.elapsed(),
		Active:      []pid.ID{},
		Counters:    s.adapter.Counters(),
	}
	for _, e := range s.table {
		if e.active {
			st.Active = append(st.Active, e.info.ID)
		}
	}
	return st
}

func (s *Scheduler) statusOf(e *entry) PidStatus {
	st := PidStatus{
		Info:      e.info,
		Active:    e.active,
		Sample:    e.sample,
		LastQuery: e.lastQuery,
	}
	if e.sample.Valid {
		st.Scaled = e.info.Scale(e.sample.Value)
	}
	return st
}

func (s *Scheduler) GetPidInfo(id pid.ID) (PidStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return PidStatus{}, fmt.Errorf("%w: %s", ErrUnknownPid, id)
	}
	return s.statusOf(e), nil
}

func (s *Scheduler) GetPidInfoByName(name string) (PidStatus, error) {
	info, ok := s.registry.LookupName(name)
	if !ok {
		return PidStatus{}, fmt.Errorf("%w: %s", ErrUnknownPid, name)
	}
	return s.GetPidInfo(info.ID)
}

func (s *Scheduler) Pids() []PidStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PidStatus, 0, len(s.table))
	for _, e := range s.table {
		out = append(out, s.statusOf(e))
	}
	return out
}

func (s *Scheduler) StartLogging(dir string) (string, error) {
	if s.recorder == nil {
		return "", ErrNoRecorder
	}
	return s.recorder.Start(dir)
}

func (s *Scheduler) StopLogging() error {
	if s.recorder == nil {
		return ErrNoRecorder
	}
	return s.recorder.Stop()
}

func (s *Scheduler) LoggingStatus() datalog.Status {
	if s.recorder == nil {
		return datalog.Status{}
	}
	return s.recorder.Status()
}
