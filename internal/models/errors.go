package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when no lifecycle rule covers a (state, event) pair.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrRouting is returned when a named reviewer target is unknown or unavailable.
	ErrRouting = errors.New("routing error")
	// ErrNotFound is returned for unknown work items, events, notifications, rules or reviewers.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration is returned for invalid rules, policies or catalog references.
	ErrConfiguration = errors.New("configuration error")
	// ErrConflict is returned when a request contradicts recorded state, such as a resubmitted study.
	ErrConflict = errors.New("conflict")
)

// TransitionError names the rejected (state, event) pair.
type TransitionError struct {
	From  StudyStatus
	Event StudyEvent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Error kinds reported by ErrorKind.
const (
	KindInvalidTransition = "invalid_transition"
	KindRouting           = "routing"
	KindNotFound          = "not_found"
	KindConfiguration     = "configuration"
	KindConflict          = "conflict"
	KindInternal          = "internal"
)

// ErrorKind classifies err against the workflow error taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrRouting):
		return KindRouting
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}
