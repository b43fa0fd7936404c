// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrApplicationNotResponding is the sentinel every ANR report unwraps to.
var ErrApplicationNotResponding = errors.New("application not responding")

// ErrEventNotFound is returned by an EventStore for unknown event ids.
var ErrEventNotFound = errors.New("event not found")

// Strategy selects how the watchdog observes the primary execution context.
type Strategy string

const (
	// StrategyThreaded runs a dedicated monitor goroutine next to a heartbeat task.
	StrategyThreaded Strategy = "threaded"
	// StrategyCooperative runs a single task on the primary context (retrospective detection).
	StrategyCooperative Strategy = "cooperative"
)

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyThreaded, StrategyCooperative:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown watchdog strategy %q", s)
	}
}

// Report describes one detected stall episode.
// It is passed by value to observers, so receivers cannot mutate the emitter's copy.
type Report struct {
	Message   string
	TimeoutMs int64
	Timestamp time.Time
	Strategy  Strategy
}

// NewReport builds the report for a stall longer than timeoutMs.
func NewReport(timeoutMs int64, strategy Strategy, at time.Time) Report {
	return Report{
		Message:   fmt.Sprintf("Application not responding for at least %d ms.", timeoutMs),
		TimeoutMs: timeoutMs,
		Timestamp: at,
		Strategy:  strategy,
	}
}

// Error lets a Report travel as an error value to capture pipelines.
func (r Report) Error() string { return r.Message }

// Unwrap makes errors.Is(report, ErrApplicationNotResponding) hold.
func (r Report) Unwrap() error { return ErrApplicationNotResponding }

// ReportHandler receives ANR reports. Returned errors are logged by the watchdog
// and never affect other handlers.
type ReportHandler func(report Report) error

// Level is the severity of a captured event.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ProcessContext is a snapshot of the reporting process taken at capture time.
type ProcessContext struct {
	PID        int       `json:"pid"`
	Name       string    `json:"name,omitempty"`
	RSSBytes   uint64    `json:"rss_bytes,omitempty"`
	CPUPercent float64   `json:"cpu_percent,omitempty"`
	NumThreads int32     `json:"num_threads,omitempty"`
	Goroutines int       `json:"goroutines"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// Exception describes the error carried by an event.
type Exception struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Mechanism string `json:"mechanism,omitempty"`
	Handled   bool   `json:"handled"`
}

// Event is what the capture pipeline persists for later delivery.
type Event struct {
	ID        string            `json:"event_id"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Exception *Exception        `json:"exception,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Process   *ProcessContext   `json:"process,omitempty"`
}
