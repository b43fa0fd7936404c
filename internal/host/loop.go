// Package host implements a cooperative main loop: the application's primary
// execution context. Everything scheduled or posted on a Loop runs on the
// goroutine that called Run, one piece at a time.
package host

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// Config holds main loop configuration.
type Config struct {
	FrameInterval time.Duration // Wall-clock pacing of frames (default ~60 fps)
}

// DefaultConfig returns default loop configuration.
func DefaultConfig() Config {
	return Config{
		FrameInterval: 16 * time.Millisecond,
	}
}

// task is a periodic job. Its next run is interval after the previous run
// finished, measured on the wall clock.
type task struct {
	interval  time.Duration
	next      time.Time
	fn        func()
	cancelled atomic.Bool
}

// Loop is the primary execution context of the application.
type Loop struct {
	config Config
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	tasks     []*task
	queue     []func()
	pauseSubs map[int]func(bool)
	quitSubs  map[int]func()
	nextSubID int
	paused    bool

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once

	timeScale atomic.Uint64 // math.Float64bits
	virtual   atomic.Int64  // simulated time in nanoseconds
	frames    atomic.Uint64
}

// NewLoop creates a main loop. Call Run to drive it.
func NewLoop(config Config, clk clock.Clock, logger *zap.Logger) *Loop {
	l := &Loop{
		config:    config,
		clock:     clk,
		logger:    logger,
		pauseSubs: make(map[int]func(bool)),
		quitSubs:  make(map[int]func()),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	l.timeScale.Store(math.Float64bits(1))
	return l
}

// Run drives frames on the calling goroutine until ctx is cancelled or Quit is called.
func (l *Loop) Run(ctx context.Context) error {
	last := l.clock.Now()
	frameTicker := l.clock.NewTicker(l.config.FrameInterval)
	defer frameTicker.Stop()

	l.logger.Info("host loop started",
		zap.Duration("frame_interval", l.config.FrameInterval))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("host loop stopping")
			return ctx.Err()

		case <-l.quit:
			l.logger.Info("host loop quit")
			return nil

		case <-l.wake:
			l.drainQueue()

		case <-frameTicker.C:
			now := l.clock.Now()
			l.advanceVirtualTime(now.Sub(last))
			last = now
			l.runDueTasks(now)
			l.drainQueue()
		}
	}
}

// Schedule runs fn on the loop every interval. The first run happens one
// interval from now.
func (l *Loop) Schedule(interval time.Duration, fn func()) (cancel func()) {
	t := &task{
		interval: interval,
		next:     l.clock.Now().Add(interval),
		fn:       fn,
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, t)
	l.mu.Unlock()

	return func() {
		if !t.cancelled.CompareAndSwap(false, true) {
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, existing := range l.tasks {
			if existing == t {
				l.tasks = append(l.tasks[:i:i], l.tasks[i+1:]...)
				return
			}
		}
	}
}

// Post queues fn to run once on the loop. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// OnPauseChanged registers fn for pause/resume transitions.
func (l *Loop) OnPauseChanged(fn func(paused bool)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSubID
	l.nextSubID++
	l.pauseSubs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.pauseSubs, id)
	}
}

// OnQuitting registers fn to run once when Quit is called.
func (l *Loop) OnQuitting(fn func()) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSubID
	l.nextSubID++
	l.quitSubs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.quitSubs, id)
	}
}

// SetPaused reports the application moving to the background (true) or
// foreground (false). Repeated calls with the same value are ignored.
// Subscribers run on the calling goroutine.
func (l *Loop) SetPaused(paused bool) {
	l.mu.Lock()
	if l.paused == paused {
		l.mu.Unlock()
		return
	}
	l.paused = paused
	subs := make([]func(bool), 0, len(l.pauseSubs))
	for _, fn := range l.pauseSubs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	l.logger.Info("application pause changed", zap.Bool("paused", paused))
	for _, fn := range subs {
		l.safely("pause subscriber", func() { fn(paused) })
	}
}

// Paused reports the current pause state.
func (l *Loop) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Quit fires the quitting subscribers once, on the calling goroutine, then ends Run.
func (l *Loop) Quit() {
	l.quitOnce.Do(func() {
		l.mu.Lock()
		subs := make([]func(), 0, len(l.quitSubs))
		for _, fn := range l.quitSubs {
			subs = append(subs, fn)
		}
		l.mu.Unlock()

		l.logger.Info("application quitting")
		for _, fn := range subs {
			l.safely("quit subscriber", fn)
		}
		close(l.quit)
	})
}

// SetTimeScale sets how fast simulated time runs relative to wall time.
// 0 freezes it; negative values are treated as 0.
func (l *Loop) SetTimeScale(scale float64) {
	if scale < 0 || math.IsNaN(scale) {
		scale = 0
	}
	l.timeScale.Store(math.Float64bits(scale))
}

// TimeScale returns the simulated time scale.
func (l *Loop) TimeScale() float64 {
	return math.Float64frombits(l.timeScale.Load())
}

// VirtualTime returns the simulated time elapsed since the loop started.
func (l *Loop) VirtualTime() time.Duration {
	return time.Duration(l.virtual.Load())
}

// Frames returns the number of frames run so far.
func (l *Loop) Frames() uint64 {
	return l.frames.Load()
}

func (l *Loop) advanceVirtualTime(delta time.Duration) {
	scaled := time.Duration(float64(delta) * l.TimeScale())
	l.virtual.Add(int64(scaled))
	l.frames.Add(1)
}

func (l *Loop) runDueTasks(now time.Time) {
	l.mu.Lock()
	due := make([]*task, 0, len(l.tasks))
	for _, t := range l.tasks {
		if !now.Before(t.next) {
			due = append(due, t)
		}
	}
	l.mu.Unlock()

	for _, t := range due {
		if t.cancelled.Load() {
			continue
		}
		l.safely("scheduled task", t.fn)
		t.next = l.clock.Now().Add(t.interval)
	}
}

func (l *Loop) drainQueue() {
	l.mu.Lock()
	queue := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range queue {
		l.safely("posted work", fn)
	}
}

// safely runs fn and logs a panic instead of taking the loop down.
func (l *Loop) safely(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("host "+what+" panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	fn()
}

// Ensure Loop implements domain.Host.
var _ domain.Host = (*Loop)(nil)
