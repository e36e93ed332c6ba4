package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
// on a later cycle instead of aborting the caller.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// SignalError wraps a failure while reading one pricing signal. Signal
// failures are never fatal: the factor falls back to its neutral value.
type SignalError struct {
	Signal string // signal name (e.g. "market_depth")
	Err    error
}

func (e *SignalError) Error() string {
	return "signal " + e.Signal + ": " + e.Err.Error()
}

func (e *SignalError) IsRetriable() bool { return true }

func (e *SignalError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed snapshot write or read. Saves are retried
// on the next scheduled cycle.
type PersistenceError struct {
	Op  string // "save_flags", "load_state", ...
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) IsRetriable() bool { return true }

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigError represents a configuration error (never retriable).
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool { return false }

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	// ErrEventActive is returned when a scripted event is requested while
	// another is still consuming its deltas.
	ErrEventActive = errors.New("event already active")

	// ErrNoEvent is returned when no scripted event is active.
	ErrNoEvent = errors.New("no active event")

	// ErrNoPriceState is returned when neither a snapshot nor a price
	// history point exists to seed the base price.
	ErrNoPriceState = errors.New("no persisted price state")

	// ErrCycleInFlight is returned when a recalculation is requested while
	// the previous one has not finished. The trigger is dropped, not queued.
	ErrCycleInFlight = errors.New("recalculation already in flight")
)
