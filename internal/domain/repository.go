package domain

import (
	"context"
	"time"
)

// Scheduler runs periodic work on the application's primary execution context.
// Implementation: host.Loop (cooperative main loop).
type Scheduler interface {
	// Schedule invokes task every interval on the primary context.
	// The returned cancel func is safe to call from any goroutine, more than once.
	Schedule(interval time.Duration, task func()) (cancel func())
}

// Lifecycle exposes the host's pause/resume and quit signals.
type Lifecycle interface {
	// OnPauseChanged registers fn for pause (true) and resume (false) transitions.
	OnPauseChanged(fn func(paused bool)) (unsubscribe func())

	// OnQuitting registers fn to run once before process teardown.
	OnQuitting(fn func()) (unsubscribe func())
}

// Host is everything a watchdog consumes from the application runtime.
type Host interface {
	Scheduler
	Lifecycle
}

// Watchdog detects stalls of the primary execution context.
type Watchdog interface {
	// Subscribe registers an OnApplicationNotResponding handler.
	Subscribe(handler ReportHandler) (unsubscribe func())

	// Stop ends monitoring. Idempotent. With wait=true it blocks until the
	// monitor goroutine (if any) has exited.
	Stop(wait bool)

	// Stopped reports whether monitoring has ended, by Stop, the quit hook,
	// or a monitor failure.
	Stopped() bool

	// Timeout returns the detection timeout.
	Timeout() time.Duration

	// Strategy returns the detection strategy in use.
	Strategy() Strategy
}

// EventCapturer turns reports into persisted events.
type EventCapturer interface {
	// CaptureReport records an ANR report as an error-level event.
	CaptureReport(ctx context.Context, report Report) (*Event, error)

	// CaptureMessage records a diagnostic message event.
	CaptureMessage(ctx context.Context, level Level, message string) (*Event, error)
}

// EventStore provides persistent offline storage for captured events.
// Implementation: SQLCipher encrypted SQLite database.
type EventStore interface {
	// Save persists an event, evicting the oldest ones beyond the store's cap.
	Save(event Event) error

	// Get returns the event with the given id.
	Get(id string) (*Event, error)

	// List returns up to limit events, newest first. limit <= 0 means all.
	List(limit int) ([]Event, error)

	// Count returns the number of stored events.
	Count() (int, error)

	// Delete removes a single event.
	Delete(id string) error

	// Purge removes every event.
	Purge() error

	// Close releases resources (e.g., database connection).
	Close() error
}

// ProcessInspector snapshots the current process for event context.
// Implementation: uses gopsutil for cross-platform support.
type ProcessInspector interface {
	Snapshot() (ProcessContext, error)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
