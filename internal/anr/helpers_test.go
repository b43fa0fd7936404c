package anr

import (
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// mockHost is a test double for domain.Host. The test goroutine plays the
// primary execution context by calling tick.
type mockHost struct {
	mu        sync.Mutex
	tasks     []*mockTask
	onPause   map[int]func(bool)
	onQuit    map[int]func()
	nextID    int
	intervals []time.Duration
}

type mockTask struct {
	fn        func()
	cancelled bool
}

func newMockHost() *mockHost {
	return &mockHost{
		onPause: make(map[int]func(bool)),
		onQuit:  make(map[int]func()),
	}
}

func (h *mockHost) Schedule(interval time.Duration, task func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &mockTask{fn: task}
	h.tasks = append(h.tasks, t)
	h.intervals = append(h.intervals, interval)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		t.cancelled = true
	}
}

func (h *mockHost) OnPauseChanged(fn func(bool)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.onPause[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.onPause, id)
	}
}

func (h *mockHost) OnQuitting(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.onQuit[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.onQuit, id)
	}
}

// tick runs every active scheduled task once.
func (h *mockHost) tick() {
	h.mu.Lock()
	var due []func()
	for _, t := range h.tasks {
		if !t.cancelled {
			due = append(due, t.fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

func (h *mockHost) pause(paused bool) {
	h.mu.Lock()
	var fns []func(bool)
	for _, fn := range h.onPause {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(paused)
	}
}

func (h *mockHost) quit() {
	h.mu.Lock()
	var fns []func()
	for _, fn := range h.onQuit {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *mockHost) activeTasks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (h *mockHost) subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.onPause) + len(h.onQuit)
}

// reportRecorder collects reports from any goroutine.
type reportRecorder struct {
	mu      sync.Mutex
	reports []domain.Report
}

func (r *reportRecorder) handle(report domain.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *reportRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func (r *reportRecorder) all() []domain.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// advanceTicks lets the monitor goroutine complete n poll intervals. Each
// step waits for the monitor to register its next sleep, so when it returns
// every tick has been fully processed.
func advanceTicks(clk *clock.FakeClock, cfg DetectionConfig, n int) {
	for range n {
		clk.WaitForTimers(1)
		clk.Advance(cfg.PollInterval())
	}
	clk.WaitForTimers(1)
}

// panickingClock blows up the monitor loop on its first sleep.
type panickingClock struct {
	clock.Clock
}

func (panickingClock) After(time.Duration) <-chan time.Time {
	panic("clock exploded")
}

func mustConfig(timeout time.Duration) DetectionConfig {
	cfg, err := NewDetectionConfig(timeout)
	if err != nil {
		panic(err)
	}
	return cfg
}
