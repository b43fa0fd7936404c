// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
	"github.com/eliteGoblin/focusd/anr_mon/internal/host"
)

// Stall blocks the loop's goroutine for d. The returned channel closes once
// the stall has ended.
func Stall(loop *host.Loop, d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	loop.Post(func() {
		time.Sleep(d)
		close(done)
	})
	return done
}

// OnLoop runs fn on the loop's goroutine and waits for it to finish.
func OnLoop(loop *host.Loop, fn func()) {
	done := make(chan struct{})
	loop.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// RecordingCapturer is a domain.EventCapturer that keeps everything in memory.
type RecordingCapturer struct {
	mu       sync.Mutex
	reports  []domain.Report
	messages []string
}

// NewRecordingCapturer creates an empty recorder.
func NewRecordingCapturer() *RecordingCapturer {
	return &RecordingCapturer{}
}

// CaptureReport records report.
func (r *RecordingCapturer) CaptureReport(_ context.Context, report domain.Report) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return &domain.Event{Level: domain.LevelError, Message: report.Message, Timestamp: report.Timestamp}, nil
}

// CaptureMessage records message.
func (r *RecordingCapturer) CaptureMessage(_ context.Context, level domain.Level, message string) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return &domain.Event{Level: level, Message: message}, nil
}

// Reports returns a copy of the recorded reports.
func (r *RecordingCapturer) Reports() []domain.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Report(nil), r.reports...)
}

// ReportCount returns how many reports were recorded.
func (r *RecordingCapturer) ReportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

// Messages returns a copy of the recorded diagnostic messages.
func (r *RecordingCapturer) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Ensure RecordingCapturer implements domain.EventCapturer.
var _ domain.EventCapturer = (*RecordingCapturer)(nil)
