package anr

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// CooperativeWatchdog runs entirely on the primary context: one periodic task
// measures the wall-clock gap since its previous run and reports when the gap
// reached the detection timeout.
//
// Detection is retrospective. With no execution path independent of the
// primary context, a stall is only observed once the context runs again.
type CooperativeWatchdog struct {
	*core

	// origin anchors last so comparisons keep the monotonic clock reading.
	origin time.Time
	last   atomic.Int64
}

// NewCooperative schedules the check task on host.
func NewCooperative(
	config DetectionConfig,
	host domain.Host,
	clk clock.Clock,
	logger *zap.Logger,
	opts ...Option,
) *CooperativeWatchdog {
	w := &CooperativeWatchdog{
		core:   newCore(config, domain.StrategyCooperative, clk, logger, opts),
		origin: clk.Now(),
	}
	w.attach(host, w.rebase)

	w.logStart()
	w.addCleanup(host.Schedule(config.PollInterval(), w.check))
	return w
}

// Stop cancels the check task. There is no goroutine to wait for.
func (w *CooperativeWatchdog) Stop(bool) {
	w.stop()
}

func (w *CooperativeWatchdog) rebase() {
	w.last.Store(int64(w.clock.Now().Sub(w.origin)))
}

func (w *CooperativeWatchdog) check() {
	if w.stopped.Load() {
		return
	}
	now := w.clock.Now().Sub(w.origin)
	elapsed := now - time.Duration(w.last.Load())
	if !w.paused.Load() && elapsed >= w.config.Timeout() {
		w.report()
	}
	w.last.Store(int64(now))
}

// Ensure CooperativeWatchdog implements domain.Watchdog.
var _ domain.Watchdog = (*CooperativeWatchdog)(nil)
