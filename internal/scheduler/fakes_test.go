package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/adapter"
	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/KevinKickass/OpenOBDCore/internal/response"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock and fires at once.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAdapter answers commands from a reply table; commands without an
// entry time out.
type fakeAdapter struct {
	mu       sync.Mutex
	replies  map[string]string
	openErr  error
	setupErr error
	open     bool
	opens    int
	sent     []string
	outcomes map[response.Outcome]int
	clears   int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		replies: map[string]string{
			"010C": "41 0C 1A F8",
			"010D": "41 0D 58",
			"0105": "41 05 5A",
			"ATI":  "ELM327 v1.5",
		},
		outcomes: make(map[response.Outcome]int),
	}
}

func (a *fakeAdapter) setReply(cmd, reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies[cmd] = reply
}

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *fakeAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return a.openErr
	}
	a.open = true
	a.opens++
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	return nil
}

func (a *fakeAdapter) SendCommand(cmd, expect string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return "", adapter.ErrNotOpen
	}
	a.sent = append(a.sent, cmd)
	reply, ok := a.replies[cmd]
	if !ok {
		return "", adapter.ErrReplyTimeout
	}
	return reply, nil
}

func (a *fakeAdapter) WaitReady(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (a *fakeAdapter) Setup() (response.AdapterModel, error) {
	if a.setupErr != nil {
		return response.ModelUnknown, a.setupErr
	}
	return response.ModelELM327, nil
}

func (a *fakeAdapter) Record(o response.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o.IsError() {
		a.outcomes[o]++
	}
}

func (a *fakeAdapter) Counters() adapter.Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := adapter.Counters{Protocol: make(map[string]int)}
	for o, n := range a.outcomes {
		c.Protocol[o.String()] = n
		c.Total += n
	}
	return c
}

func (a *fakeAdapter) ClearCounters() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = make(map[response.Outcome]int)
	a.clears++
}

func (a *fakeAdapter) LineStatus() (adapter.LineStatus, error) {
	return adapter.LineStatus{}, nil
}

func (a *fakeAdapter) SendBreak(d time.Duration) error {
	return nil
}

type recordingObserver struct {
	mu          sync.Mutex
	results     []Result
	transitions [][2]State
	onResult    func(Result)
}

func (o *recordingObserver) Observe(r Result) {
	o.mu.Lock()
	o.results = append(o.results, r)
	fn := o.onResult
	o.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (o *recordingObserver) StateChanged(from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]State{from, to})
}

func newTestScheduler(cfg Config, opts ...Option) (*Scheduler, *fakeAdapter, *fakeClock) {
	a := newFakeAdapter()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(cfg, pid.Default(), a, zap.NewNop(), opts...), a, clock
}
