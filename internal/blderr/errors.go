// Package blderr defines the error kinds used across the run-orchestration
// engine. Each kind is a distinct type so callers can use errors.As to
// recover structured detail instead of matching on error strings.
package blderr

import (
	"fmt"
	"strings"
)

// MalformedPipeline is returned by the pipeline loader on any parse or
// schema failure.
type MalformedPipeline struct {
	Reason string
}

func (e *MalformedPipeline) Error() string {
	return fmt.Sprintf("malformed pipeline: %s", e.Reason)
}

// ValidationFailed aggregates one or more validation errors produced by
// the Validator's three passes.
type ValidationFailed struct {
	Errors []string
}

func (e *ValidationFailed) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Errors[0])
	}
	return fmt.Sprintf("validation failed with %d errors:\n%s", len(e.Errors), strings.Join(e.Errors, "\n"))
}

// First returns the first validation error, for non-verbose callers.
func (e *ValidationFailed) First() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0]
}

// NotFound is returned when a pipeline, run, server alias, input, or
// external reference cannot be resolved.
type NotFound struct {
	Resource string
	ID       string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// QueueFull is returned when an enqueue is rejected because the bounded
// FIFO has reached capacity.
type QueueFull struct {
	Capacity int
}

func (e *QueueFull) Error() string {
	return fmt.Sprintf("queue full: capacity %d reached", e.Capacity)
}

// InvalidStateTransition is returned when a run-state mutation would
// violate the monotonic initial->queued->running->{finished|faulted} order.
type InvalidStateTransition struct {
	RunID string
	From  string
	To    string
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition for run %s: %s -> %s", e.RunID, e.From, e.To)
}

// PlatformError wraps a failure originating from the platform driver
// (shell, container, or file transfer operations).
type PlatformError struct {
	Op    string
	Cause error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error during %s: %v", e.Op, e.Cause)
}

func (e *PlatformError) Unwrap() error { return e.Cause }

// Cancelled is returned when a run observes its stopped flag mid-execution.
type Cancelled struct {
	RunID string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("run %s cancelled", e.RunID)
}

// Failed is returned when a step exits nonzero or a non-ignored artifact
// operation fails.
type Failed struct {
	Cause error
}

func (e *Failed) Error() string {
	return fmt.Sprintf("run failed: %v", e.Cause)
}

func (e *Failed) Unwrap() error { return e.Cause }

// Internal marks a bug-class error that should be logged with full detail
// but surfaced to the user only as "Failed".
type Internal struct {
	Cause error
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Cause)
}

func (e *Internal) Unwrap() error { return e.Cause }

// CyclicExternal is returned when an external-pipeline call re-enters a
// pipeline already on the current call stack.
type CyclicExternal struct {
	Pipeline string
	Stack    []string
}

func (e *CyclicExternal) Error() string {
	return fmt.Sprintf("cyclic external pipeline reference: %s (stack: %s)", e.Pipeline, strings.Join(e.Stack, " -> "))
}

// DepthExceeded is returned when recursive external-pipeline calls exceed
// the maximum allowed depth.
type DepthExceeded struct {
	Max int
}

func (e *DepthExceeded) Error() string {
	return fmt.Sprintf("external pipeline recursion exceeded max depth %d", e.Max)
}
