package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config key (e.g., "timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidStrategies returns the accepted watchdog strategies.
func ValidStrategies() []string {
	return []string{string(domain.StrategyThreaded), string(domain.StrategyCooperative)}
}

// Validate checks the options and returns every problem found.
func (o *Options) Validate() []ValidationError {
	var errors []ValidationError

	if o.Timeout < time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "timeout",
			Value:   o.Timeout,
			Message: "must be at least 1ms",
		})
	}

	if _, err := domain.ParseStrategy(o.Strategy); err != nil {
		errors = append(errors, ValidationError{
			Field:   "strategy",
			Value:   o.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStrategies(), ", ")),
		})
	}

	if o.FrameInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "frame_interval",
			Value:   o.FrameInterval,
			Message: "must be positive",
		})
	}

	if o.MaxEvents < 0 {
		errors = append(errors, ValidationError{
			Field:   "max_events",
			Value:   o.MaxEvents,
			Message: "must be non-negative (0 disables the cap)",
		})
	}

	if strings.TrimSpace(o.DataDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "data_dir",
			Value:   o.DataDir,
			Message: "must not be empty",
		})
	}

	return errors
}
