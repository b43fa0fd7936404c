package anr

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// ThreadedWatchdog detects stalls while they are still ongoing.
//
// A heartbeat task scheduled on the primary context zeroes a tick counter
// every poll interval; a monitor goroutine increments it on the same cadence
// using wall-clock sleeps. The heartbeat can only run while the primary context
// is scheduling work, so the counter reaching the report threshold means the
// context has been blocked for at least the detection timeout.
type ThreadedWatchdog struct {
	*core
	state heartbeatState
	done  chan struct{}
}

// NewThreaded starts the monitor goroutine and schedules the heartbeat on host.
func NewThreaded(
	config DetectionConfig,
	host domain.Host,
	clk clock.Clock,
	logger *zap.Logger,
	opts ...Option,
) *ThreadedWatchdog {
	w := &ThreadedWatchdog{
		core: newCore(config, domain.StrategyThreaded, clk, logger, opts),
		done: make(chan struct{}),
	}
	w.attach(host, w.state.beat)

	w.logStart()
	go w.monitor()

	w.addCleanup(host.Schedule(config.PollInterval(), w.heartbeat))
	return w
}

// Stop ends monitoring. With wait=true it blocks until the monitor goroutine
// has exited; do not call it that way from a report handler, which runs on
// the monitor goroutine.
func (w *ThreadedWatchdog) Stop(wait bool) {
	w.stop()
	if wait {
		<-w.done
	}
}

// Done is closed once the monitor goroutine has exited.
func (w *ThreadedWatchdog) Done() <-chan struct{} { return w.done }

func (w *ThreadedWatchdog) heartbeat() {
	if w.stopped.Load() {
		return
	}
	w.state.beat()
}

// monitor is the background loop. A panic ends monitoring without reaching
// the host and stops the watchdog, releasing its task and subscriptions.
func (w *ThreadedWatchdog) monitor() {
	defer close(w.done)
	defer func() {
		if p := recover(); p != nil {
			w.fail(fmt.Errorf("ANR monitor panicked: %v", p))
			w.stop()
		}
	}()

	threshold := w.config.ReportThreshold()
	interval := w.config.PollInterval()

	for !w.stopped.Load() {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("ANR watchdog monitor cancelled")
			return
		case <-w.clock.After(interval):
		}

		ticks := w.state.miss()
		if w.paused.Load() {
			w.state.ticks.Store(0)
			continue
		}
		if ticks >= threshold && w.state.claim() {
			w.report()
		}
	}
}

// Ensure ThreadedWatchdog implements domain.Watchdog.
var _ domain.Watchdog = (*ThreadedWatchdog)(nil)
