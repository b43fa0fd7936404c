package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/anr_mon/internal/anr"
	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// mockHost implements domain.Host for testing. tick plays the primary context.
type mockHost struct {
	mu      sync.Mutex
	tasks   map[int]func()
	onPause map[int]func(bool)
	onQuit  map[int]func()
	nextID  int
}

func newMockHost() *mockHost {
	return &mockHost{
		tasks:   make(map[int]func()),
		onPause: make(map[int]func(bool)),
		onQuit:  make(map[int]func()),
	}
}

func (h *mockHost) Schedule(_ time.Duration, task func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.tasks[id] = task
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.tasks, id)
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

func (h *mockHost) tick() {
	h.mu.Lock()
	tasks := make([]func(), 0, len(h.tasks))
	for _, task := range h.tasks {
		tasks = append(tasks, task)
	}
	h.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

func (h *mockHost) taskCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tasks)
}

// mockCapturer implements domain.EventCapturer for testing
type mockCapturer struct {
	mu         sync.Mutex
	reports    []domain.Report
	messages   []string
	reportErr  error
	messagesCh chan string
}

func (m *mockCapturer) CaptureReport(_ context.Context, report domain.Report) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	if m.reportErr != nil {
		return nil, m.reportErr
	}
	return &domain.Event{ID: "r", Message: report.Message}, nil
}

func (m *mockCapturer) CaptureMessage(_ context.Context, level domain.Level, message string) (*domain.Event, error) {
	m.mu.Lock()
	m.messages = append(m.messages, string(level)+": "+message)
	ch := m.messagesCh
	m.mu.Unlock()
	if ch != nil {
		ch <- message
	}
	return &domain.Event{ID: "m", Level: level, Message: message}, nil
}

func (m *mockCapturer) reportCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

// explodingClock panics when the monitor goroutine sleeps.
type explodingClock struct {
	clock.Clock
}

func (explodingClock) After(time.Duration) <-chan time.Time {
	panic("clock exploded")
}

func cooperativeOptions() AnrOptions {
	return AnrOptions{Enabled: true, Timeout: 500 * time.Millisecond, Strategy: domain.StrategyCooperative}
}

func TestDefaultAnrOptions(t *testing.T) {
	opts := DefaultAnrOptions()

	assert.True(t, opts.Enabled)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, domain.StrategyThreaded, opts.Strategy)
}

func TestAnrIntegration_ForwardsReports(t *testing.T) {
	host := newMockHost()
	clk := clock.Fake(captureTime)
	integration := NewAnrIntegration(cooperativeOptions(), host, clk, zap.NewNop())
	defer integration.Close(true)

	capturer := &mockCapturer{}
	require.NoError(t, integration.Register(context.Background(), capturer))

	host.tick()
	clk.Advance(2 * time.Second)
	host.tick()

	require.Equal(t, 1, capturer.reportCount())
	assert.Equal(t, int64(500), capturer.reports[0].TimeoutMs)
	assert.Equal(t, domain.StrategyCooperative, capturer.reports[0].Strategy)
}

func TestAnrIntegration_Disabled(t *testing.T) {
	observed, logs := observer.New(zapcore.InfoLevel)
	host := newMockHost()
	opts := cooperativeOptions()
	opts.Enabled = false
	integration := NewAnrIntegration(opts, host, clock.Fake(captureTime), zap.New(observed))

	require.NoError(t, integration.Register(context.Background(), &mockCapturer{}))

	assert.Nil(t, integration.Watchdog())
	assert.Equal(t, 0, host.taskCount())
	assert.Equal(t, 1, logs.FilterMessage("ANR detection disabled").Len())
	require.NotPanics(t, func() { integration.Close(true) })
}

func TestAnrIntegration_SharesOneWatchdog(t *testing.T) {
	host := newMockHost()
	clk := clock.Fake(captureTime)
	integration := NewAnrIntegration(cooperativeOptions(), host, clk, zap.NewNop())
	defer integration.Close(true)

	first, second := &mockCapturer{}, &mockCapturer{}
	require.NoError(t, integration.Register(context.Background(), first))
	watchdog := integration.Watchdog()
	require.NoError(t, integration.Register(context.Background(), second))

	assert.Same(t, watchdog, integration.Watchdog())
	assert.Equal(t, 1, host.taskCount(), "one heartbeat task for both registrations")

	host.tick()
	clk.Advance(time.Second)
	host.tick()

	assert.Equal(t, 1, first.reportCount())
	assert.Equal(t, 1, second.reportCount())
}

func TestAnrIntegration_CaptureErrorsAreIsolated(t *testing.T) {
	observed, logs := observer.New(zapcore.WarnLevel)
	host := newMockHost()
	clk := clock.Fake(captureTime)
	integration := NewAnrIntegration(cooperativeOptions(), host, clk, zap.New(observed))
	defer integration.Close(true)

	failing := &mockCapturer{reportErr: errors.New("store unavailable")}
	healthy := &mockCapturer{}
	require.NoError(t, integration.Register(context.Background(), failing))
	require.NoError(t, integration.Register(context.Background(), healthy))

	host.tick()
	clk.Advance(time.Second)
	host.tick()

	assert.Equal(t, 1, healthy.reportCount())
	assert.Equal(t, 1, logs.FilterMessage("ANR observer failed").Len())
}

func TestAnrIntegration_InvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    AnrOptions
		wantErr error
	}{
		{
			name:    "sub-millisecond timeout",
			opts:    AnrOptions{Enabled: true, Timeout: time.Microsecond, Strategy: domain.StrategyThreaded},
			wantErr: anr.ErrInvalidTimeout,
		},
		{
			name:    "unknown strategy",
			opts:    AnrOptions{Enabled: true, Timeout: time.Second, Strategy: "hybrid"},
			wantErr: anr.ErrUnknownStrategy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integration := NewAnrIntegration(tt.opts, newMockHost(), clock.Fake(captureTime), zap.NewNop())

			err := integration.Register(context.Background(), &mockCapturer{})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, integration.Watchdog())
		})
	}
}

func TestAnrIntegration_MonitorFailureIsCaptured(t *testing.T) {
	capturer := &mockCapturer{messagesCh: make(chan string, 1)}
	opts := AnrOptions{Enabled: true, Timeout: 500 * time.Millisecond, Strategy: domain.StrategyThreaded}
	integration := NewAnrIntegration(opts, newMockHost(), explodingClock{Clock: clock.Fake(captureTime)}, zap.NewNop())
	defer integration.Close(true)

	require.NoError(t, integration.Register(context.Background(), capturer))

	select {
	case msg := <-capturer.messagesCh:
		assert.Equal(t, watchdogFailureMessage, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor failure was not captured")
	}
	assert.Equal(t, []string{"warning: " + watchdogFailureMessage}, capturer.messages)
}

func TestAnrIntegration_CloseStopsWatchdog(t *testing.T) {
	host := newMockHost()
	clk := clock.Fake(captureTime)
	integration := NewAnrIntegration(cooperativeOptions(), host, clk, zap.NewNop())

	capturer := &mockCapturer{}
	require.NoError(t, integration.Register(context.Background(), capturer))

	integration.Close(true)
	integration.Close(true)

	assert.Equal(t, 0, host.taskCount())
	clk.Advance(time.Minute)
	host.tick()
	assert.Equal(t, 0, capturer.reportCount())
}

func TestAnrIntegration_RegisterAfterQuitFails(t *testing.T) {
	observed, logs := observer.New(zapcore.WarnLevel)
	host := newMockHost()
	integration := NewAnrIntegration(cooperativeOptions(), host, clock.Fake(captureTime), zap.New(observed))
	defer integration.Close(true)

	require.NoError(t, integration.Register(context.Background(), &mockCapturer{}))

	host.mu.Lock()
	var quitHooks []func()
	for _, fn := range host.onQuit {
		quitHooks = append(quitHooks, fn)
	}
	host.mu.Unlock()
	for _, fn := range quitHooks {
		fn()
	}
	require.True(t, integration.Watchdog().Stopped())

	err := integration.Register(context.Background(), &mockCapturer{})
	assert.ErrorIs(t, err, ErrWatchdogStopped)
	assert.Equal(t, 1, logs.FilterMessage("ANR watchdog already stopped, capturer not registered").Len())
}
