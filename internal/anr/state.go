package anr

import "sync/atomic"

// heartbeatState is shared by the monitor goroutine and the heartbeat task.
//
// No lock guards it. ticks is only incremented by the monitor and only zeroed
// by the heartbeat; reported is only set by the monitor and only cleared by the
// heartbeat. Every access is a single atomic word operation, so a stale read can
// delay a report by one poll interval but never tears or corrupts a field.
type heartbeatState struct {
	ticks    atomic.Int32
	reported atomic.Bool
}

// beat records that the primary context is alive and re-arms reporting.
func (s *heartbeatState) beat() {
	s.ticks.Store(0)
	s.reported.Store(false)
}

// miss records one poll interval without a heartbeat and returns the new count.
func (s *heartbeatState) miss() int32 {
	return s.ticks.Add(1)
}

// claim returns true for the first caller of the current stall episode.
func (s *heartbeatState) claim() bool {
	if s.reported.Load() {
		return false
	}
	s.reported.Store(true)
	return true
}
