package engine

import (
	"errors"
	"fmt"
)

// SyncError represents a failure detected while applying one event.
//
// Sync errors never abort a batch. They are logged, counted and returned
// in BatchReport.Errors so callers can inspect what was skipped.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// EventName is the event being applied.
	EventName string

	// EntityType and EntityID identify the snapshot (or edge parent) involved.
	EntityType string
	EntityID   string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeResolutionFailure indicates the resolver could not produce a record
	// (not found, error or timeout).
	ErrCodeResolutionFailure SyncErrorCode = "RESOLUTION_FAILURE"

	// ErrCodeUnknownEvent indicates an event name the registry does not bind.
	ErrCodeUnknownEvent SyncErrorCode = "UNKNOWN_EVENT"

	// ErrCodeDanglingEdge indicates an edge whose endpoints are not both stored.
	ErrCodeDanglingEdge SyncErrorCode = "DANGLING_EDGE_ATTEMPT"

	// ErrCodeStoreFailure indicates a storage read or write failed.
	ErrCodeStoreFailure SyncErrorCode = "STORE_FAILURE"

	// ErrCodeInvalidEvent indicates a payload missing the ids the event needs.
	ErrCodeInvalidEvent SyncErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EntityType != "" {
		msg = fmt.Sprintf("%s (%s:%s)", msg, e.EntityType, e.EntityID)
	}
	if e.EventName != "" {
		msg = fmt.Sprintf("%s [event=%s]", msg, e.EventName)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsResolutionFailure reports whether err is a resolution failure.
// Uses errors.As to handle wrapped errors.
func IsResolutionFailure(err error) bool {
	return hasCode(err, ErrCodeResolutionFailure)
}

// IsUnknownEvent reports whether err is an unknown event.
func IsUnknownEvent(err error) bool {
	return hasCode(err, ErrCodeUnknownEvent)
}

// IsDanglingEdge reports whether err is a dangling edge attempt.
func IsDanglingEdge(err error) bool {
	return hasCode(err, ErrCodeDanglingEdge)
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func newUnknownEventError(event string) *SyncError {
	return &SyncError{
		Code:      ErrCodeUnknownEvent,
		Message:   "event is not bound in the registry",
		EventName: event,
	}
}

func newResolutionError(event, typ, id string, err error) *SyncError {
	return &SyncError{
		Code:       ErrCodeResolutionFailure,
		Message:    "resolve failed",
		EventName:  event,
		EntityType: typ,
		EntityID:   id,
		Err:        err,
	}
}

func newDanglingEdgeError(event, parent, child string) *SyncError {
	return &SyncError{
		Code:      ErrCodeDanglingEdge,
		Message:   fmt.Sprintf("edge %s -> %s has a missing endpoint", parent, child),
		EventName: event,
	}
}

func newStoreError(event, typ, id string, err error) *SyncError {
	return &SyncError{
		Code:       ErrCodeStoreFailure,
		Message:    "store write failed",
		EventName:  event,
		EntityType: typ,
		EntityID:   id,
		Err:        err,
	}
}

func newInvalidEventError(event, msg string) *SyncError {
	return &SyncError{
		Code:      ErrCodeInvalidEvent,
		Message:   msg,
		EventName: event,
	}
}
