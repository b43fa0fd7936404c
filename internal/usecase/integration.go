package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/anr"
	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// ErrWatchdogStopped is returned by Register once the shared watchdog has
// stopped, whether by Close, application quit or a monitor failure.
var ErrWatchdogStopped = errors.New("ANR watchdog already stopped")

const watchdogFailureMessage = "ANR watchdog stopped unexpectedly; application hangs are no longer detected"

// AnrOptions configures ANR detection for an application.
type AnrOptions struct {
	Enabled  bool
	Timeout  time.Duration
	Strategy domain.Strategy
}

// DefaultAnrOptions returns detection enabled with a threaded 5s watchdog.
func DefaultAnrOptions() AnrOptions {
	return AnrOptions{
		Enabled:  true,
		Timeout:  anr.DefaultDetectionTimeout,
		Strategy: domain.StrategyThreaded,
	}
}

// AnrIntegration connects a single watchdog to one or more event capturers.
type AnrIntegration struct {
	options AnrOptions
	host    domain.Host
	clock   clock.Clock
	logger  *zap.Logger

	mu           sync.Mutex
	watchdog     domain.Watchdog
	capturers    []domain.EventCapturer
	unsubscribes []func()
}

// NewAnrIntegration creates an integration. Nothing runs until Register.
func NewAnrIntegration(options AnrOptions, host domain.Host, clk clock.Clock, logger *zap.Logger) *AnrIntegration {
	return &AnrIntegration{
		options: options,
		host:    host,
		clock:   clk,
		logger:  logger,
	}
}

// Register forwards ANR reports to capturer. The watchdog is created by the
// first call; later calls share it until it stops.
func (a *AnrIntegration) Register(ctx context.Context, capturer domain.EventCapturer) error {
	if !a.options.Enabled {
		a.logger.Info("ANR detection disabled")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watchdog == nil {
		watchdog, err := a.createWatchdog(ctx)
		if err != nil {
			return err
		}
		a.watchdog = watchdog
	}
	if a.watchdog.Stopped() {
		a.logger.Warn("ANR watchdog already stopped, capturer not registered")
		return ErrWatchdogStopped
	}

	a.capturers = append(a.capturers, capturer)
	a.unsubscribes = append(a.unsubscribes, a.watchdog.Subscribe(func(report domain.Report) error {
		_, err := capturer.CaptureReport(ctx, report)
		return err
	}))
	return nil
}

func (a *AnrIntegration) createWatchdog(ctx context.Context) (domain.Watchdog, error) {
	config, err := anr.NewDetectionConfig(a.options.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure ANR watchdog: %w", err)
	}

	watchdog, err := anr.New(a.options.Strategy, config, a.host, a.clock, a.logger,
		anr.WithFailureHandler(func(error) { a.reportFailure(ctx) }))
	if err != nil {
		return nil, fmt.Errorf("failed to create ANR watchdog: %w", err)
	}
	return watchdog, nil
}

// reportFailure tells every capturer that detection is gone.
func (a *AnrIntegration) reportFailure(ctx context.Context) {
	a.mu.Lock()
	capturers := make([]domain.EventCapturer, len(a.capturers))
	copy(capturers, a.capturers)
	a.mu.Unlock()

	for _, capturer := range capturers {
		if _, err := capturer.CaptureMessage(ctx, domain.LevelWarning, watchdogFailureMessage); err != nil {
			a.logger.Warn("failed to capture watchdog failure", zap.Error(err))
		}
	}
}

// Watchdog returns the active watchdog, or nil before Register or when disabled.
func (a *AnrIntegration) Watchdog() domain.Watchdog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watchdog
}

// Close detaches capturers and stops the watchdog.
func (a *AnrIntegration) Close(wait bool) {
	a.mu.Lock()
	watchdog := a.watchdog
	unsubscribes := a.unsubscribes
	a.unsubscribes = nil
	a.capturers = nil
	a.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	if watchdog != nil {
		watchdog.Stop(wait)
	}
}
