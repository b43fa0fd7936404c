// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

const (
	anrExceptionType = "ApplicationNotResponding"
	anrMechanism     = "AppHang"

	tagStrategy  = "anr.strategy"
	tagTimeoutMs = "anr.timeout_ms"
)

// EventCapturerImpl implements domain.EventCapturer.
type EventCapturerImpl struct {
	store     domain.EventStore
	inspector domain.ProcessInspector
	clock     clock.Clock
	newID     func() string
	logger    *zap.Logger
}

// NewEventCapturer creates a capturer persisting events to store.
// inspector may be nil, in which case events carry no process context.
func NewEventCapturer(
	store domain.EventStore,
	inspector domain.ProcessInspector,
	clk clock.Clock,
	logger *zap.Logger,
) *EventCapturerImpl {
	return &EventCapturerImpl{
		store:     store,
		inspector: inspector,
		clock:     clk,
		newID:     uuid.NewString,
		logger:    logger,
	}
}

// CaptureReport records an ANR report as an unhandled error event.
func (c *EventCapturerImpl) CaptureReport(ctx context.Context, report domain.Report) (*domain.Event, error) {
	event := c.newEvent(domain.LevelError, report.Message)
	if !report.Timestamp.IsZero() {
		event.Timestamp = report.Timestamp
	}
	event.Exception = &domain.Exception{
		Type:      anrExceptionType,
		Value:     report.Message,
		Mechanism: anrMechanism,
		Handled:   false,
	}
	event.Tags = map[string]string{
		tagStrategy:  string(report.Strategy),
		tagTimeoutMs: strconv.FormatInt(report.TimeoutMs, 10),
	}

	if err := c.persist(ctx, event); err != nil {
		return nil, err
	}

	c.logger.Info("captured ANR event",
		zap.String("event_id", event.ID),
		zap.Int64("timeout_ms", report.TimeoutMs),
		zap.String("strategy", string(report.Strategy)))
	return event, nil
}

// CaptureMessage records a diagnostic message event.
func (c *EventCapturerImpl) CaptureMessage(ctx context.Context, level domain.Level, message string) (*domain.Event, error) {
	event := c.newEvent(level, message)
	if err := c.persist(ctx, event); err != nil {
		return nil, err
	}

	c.logger.Info("captured message event",
		zap.String("event_id", event.ID),
		zap.String("level", string(level)))
	return event, nil
}

func (c *EventCapturerImpl) newEvent(level domain.Level, message string) *domain.Event {
	event := &domain.Event{
		ID:        c.newID(),
		Level:     level,
		Message:   message,
		Timestamp: c.clock.Now().UTC(),
	}

	if c.inspector != nil {
		process, err := c.inspector.Snapshot()
		if err != nil {
			c.logger.Warn("failed to snapshot process context", zap.Error(err))
		} else {
			event.Process = &process
		}
	}
	return event
}

func (c *EventCapturerImpl) persist(ctx context.Context, event *domain.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("capture cancelled: %w", err)
	}
	if err := c.store.Save(*event); err != nil {
		return fmt.Errorf("failed to store event %s: %w", event.ID, err)
	}
	return nil
}

// Ensure EventCapturerImpl implements domain.EventCapturer.
var _ domain.EventCapturer = (*EventCapturerImpl)(nil)
