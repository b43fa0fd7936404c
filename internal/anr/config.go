// Package anr implements the Application Not Responding watchdog: a threaded
// variant that detects ongoing stalls from a monitor goroutine, and a
// cooperative variant that measures gaps between runs of a main-loop task.
package anr

import (
	"errors"
	"fmt"
	"time"
)

// DefaultDetectionTimeout is the stall duration reported when nothing else is configured.
const DefaultDetectionTimeout = 5 * time.Second

// pollDivisor splits the timeout into poll intervals. The watchdog never sleeps
// for the whole timeout, so a stall starting mid-sleep is still caught in time.
const pollDivisor = 5

// ErrInvalidTimeout is returned for detection timeouts below one millisecond.
var ErrInvalidTimeout = errors.New("detection timeout must be at least 1ms")

// DetectionConfig holds the immutable timing parameters of a watchdog.
type DetectionConfig struct {
	timeoutMs      int64
	pollIntervalMs int64
}

// NewDetectionConfig derives the poll interval from timeout.
// Sub-millisecond precision is truncated.
func NewDetectionConfig(timeout time.Duration) (DetectionConfig, error) {
	timeoutMs := timeout.Milliseconds()
	if timeoutMs < 1 {
		return DetectionConfig{}, fmt.Errorf("%w: got %s", ErrInvalidTimeout, timeout)
	}
	return DetectionConfig{
		timeoutMs:      timeoutMs,
		pollIntervalMs: max(1, timeoutMs/pollDivisor),
	}, nil
}

// DefaultDetectionConfig returns the config for DefaultDetectionTimeout.
func DefaultDetectionConfig() DetectionConfig {
	cfg, _ := NewDetectionConfig(DefaultDetectionTimeout)
	return cfg
}

// TimeoutMs returns the detection timeout in milliseconds.
func (c DetectionConfig) TimeoutMs() int64 { return c.timeoutMs }

// Timeout returns the detection timeout.
func (c DetectionConfig) Timeout() time.Duration {
	return time.Duration(c.timeoutMs) * time.Millisecond
}

// PollIntervalMs returns the poll interval in milliseconds.
func (c DetectionConfig) PollIntervalMs() int64 { return c.pollIntervalMs }

// PollInterval returns how often the monitor checks and the heartbeat resets.
func (c DetectionConfig) PollInterval() time.Duration {
	return time.Duration(c.pollIntervalMs) * time.Millisecond
}

// ReportThreshold is the number of missed heartbeats that makes a stall.
func (c DetectionConfig) ReportThreshold() int32 {
	return int32(c.timeoutMs / c.pollIntervalMs)
}
