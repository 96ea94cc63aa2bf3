// Package workers contains the queue consumers that drive ingestion
// jobs from upload through chunking, embedding and indexing.
package workers

import "fmt"

// TransientError wraps failures worth retrying, such as storage or
// network hiccups. The consumer leaves the message unacked so the bus
// redelivers it after the visibility timeout.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks the error as retryable for the queue consumer
func (e *TransientError) Transient() bool { return true }

// NewTransientError wraps err as retryable
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// ValidationError marks input that can never succeed, such as a
// malformed message or an unsupported file type. Not retryable.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a non-retryable input error
func NewValidationError(reason string, err error) *ValidationError {
	return &ValidationError{Reason: reason, Err: err}
}

// ProcessingError marks a deterministic processing failure on valid
// input, such as a parser rejecting a corrupt document. Not retryable.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// NewProcessingError creates a non-retryable processing error
func NewProcessingError(stage string, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: err}
}

// FatalWorkerError marks a broken worker dependency, such as an
// unreachable embedding endpoint with no fallback. Retryable so the
// message survives until the dependency recovers, then dead-lettered
// by the receive cap.
type FatalWorkerError struct {
	Op  string
	Err error
}

func (e *FatalWorkerError) Error() string {
	return fmt.Sprintf("worker dependency failure in %s: %v", e.Op, e.Err)
}

func (e *FatalWorkerError) Unwrap() error { return e.Err }

// Transient keeps the message in the queue for redelivery
func (e *FatalWorkerError) Transient() bool { return true }

// NewFatalWorkerError wraps a dependency failure
func NewFatalWorkerError(op string, err error) *FatalWorkerError {
	return &FatalWorkerError{Op: op, Err: err}
}
