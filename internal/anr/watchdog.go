package anr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// ErrUnknownStrategy is returned by New for strategies it cannot build.
var ErrUnknownStrategy = errors.New("unknown watchdog strategy")

// Option customizes a watchdog.
type Option func(*core)

// WithFailureHandler registers fn to be told when the monitor dies unexpectedly.
// fn runs on the monitor goroutine after the failure has been logged.
func WithFailureHandler(fn func(err error)) Option {
	return func(c *core) { c.onFailure = fn }
}

// New builds the watchdog for strategy.
func New(
	strategy domain.Strategy,
	config DetectionConfig,
	host domain.Host,
	clk clock.Clock,
	logger *zap.Logger,
	opts ...Option,
) (domain.Watchdog, error) {
	switch strategy {
	case domain.StrategyThreaded:
		return NewThreaded(config, host, clk, logger, opts...), nil
	case domain.StrategyCooperative:
		return NewCooperative(config, host, clk, logger, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

type subscriber struct {
	handler domain.ReportHandler
}

// core is the part shared by both strategies: configuration, observers,
// report emission, the pause gate and the lifecycle subscriptions.
type core struct {
	config   DetectionConfig
	strategy domain.Strategy
	clock    clock.Clock
	logger   *zap.Logger

	// ctx is cancelled by stop; the threaded monitor selects on it while sleeping.
	ctx    context.Context
	cancel context.CancelFunc

	paused  atomic.Bool
	stopped atomic.Bool

	mu        sync.Mutex
	observers []*subscriber
	cleanups  []func()
	stopOnce  sync.Once

	// reset re-establishes the strategy's heartbeat baseline.
	reset     func()
	onFailure func(err error)
}

func newCore(
	config DetectionConfig,
	strategy domain.Strategy,
	clk clock.Clock,
	logger *zap.Logger,
	opts []Option,
) *core {
	ctx, cancel := context.WithCancel(context.Background())
	c := &core{
		config:   config,
		strategy: strategy,
		clock:    clk,
		logger:   logger.With(zap.String("strategy", string(strategy))),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// attach wires the pause gate and the quit hook. reset must be safe to call
// from whichever goroutine the host fires its signals on.
func (c *core) attach(host domain.Lifecycle, reset func()) {
	c.reset = reset
	c.addCleanup(host.OnPauseChanged(c.setPaused))
	// Never wait here: quitting must not be held up by the monitor.
	c.addCleanup(host.OnQuitting(func() {
		c.logger.Debug("application quitting, stopping ANR watchdog")
		c.stop()
	}))
}

// addCleanup records fn to run on stop, or runs it now if already stopped.
func (c *core) addCleanup(fn func()) {
	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		fn()
		return
	}
	c.cleanups = append(c.cleanups, fn)
	c.mu.Unlock()
}

// stop flags the watchdog stopped and releases its subscriptions once.
func (c *core) stop() {
	c.stopped.Store(true)
	c.stopOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		cleanups := c.cleanups
		c.cleanups = nil
		c.mu.Unlock()

		for _, fn := range cleanups {
			fn()
		}
		c.logger.Info("ANR watchdog stopped")
	})
}

// setPaused is the pause gate. Pausing resets the baseline immediately and
// suppresses detection; resuming resets it again before detection restarts,
// so a partial stall never carries across the pause.
func (c *core) setPaused(paused bool) {
	if paused {
		c.paused.Store(true)
		c.reset()
		c.logger.Debug("application paused, ANR detection suspended")
		return
	}
	c.reset()
	c.paused.Store(false)
	c.logger.Debug("application resumed, ANR detection restarted")
}

// Paused reports whether the host is currently backgrounded.
func (c *core) Paused() bool { return c.paused.Load() }

// Stopped reports whether Stop has been requested.
func (c *core) Stopped() bool { return c.stopped.Load() }

// Timeout returns the detection timeout.
func (c *core) Timeout() time.Duration { return c.config.Timeout() }

// Strategy returns the detection strategy.
func (c *core) Strategy() domain.Strategy { return c.strategy }

// Subscribe registers an OnApplicationNotResponding handler.
func (c *core) Subscribe(handler domain.ReportHandler) (unsubscribe func()) {
	o := &subscriber{handler: handler}

	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, existing := range c.observers {
				if existing == o {
					c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// report emits one ANR report to every observer on the calling goroutine.
// Nothing is emitted while paused or after stop.
func (c *core) report() {
	if c.paused.Load() {
		c.logger.Debug("ANR report suppressed while paused")
		return
	}
	if c.stopped.Load() {
		return
	}

	report := domain.NewReport(c.config.TimeoutMs(), c.strategy, c.clock.Now())
	c.logger.Info("detected an ANR event", zap.String("message", report.Message))

	c.mu.Lock()
	observers := make([]*subscriber, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, o := range observers {
		c.notify(o, report)
	}
}

func (c *core) notify(o *subscriber, report domain.Report) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("ANR observer panicked",
				zap.Any("panic", p),
				zap.Stack("stack"))
		}
	}()

	if err := o.handler(report); err != nil {
		c.logger.Warn("ANR observer failed", zap.Error(err))
	}
}

// fail records a fatal monitor error.
func (c *core) fail(err error) {
	c.logger.Error("exception in the ANR watchdog", zap.Error(err))
	if c.onFailure == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("ANR failure handler panicked", zap.Any("panic", p))
		}
	}()
	c.onFailure(err)
}

func (c *core) logStart() {
	c.logger.Info("starting ANR watchdog",
		zap.Int64("timeout_ms", c.config.TimeoutMs()),
		zap.Int64("poll_interval_ms", c.config.PollIntervalMs()),
		zap.Int32("report_threshold", c.config.ReportThreshold()))
}
