package runloop

import "fmt"

// DispatchError wraps a failure signalled through callback.Failure
// during process(). It is fatal: the run loop surfaces it to its
// caller verbatim.
type DispatchError struct {
	TaskName string
	Cause    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("task %s: dispatch failed: %s", e.TaskName, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// TimeoutError wraps a callback that did not complete within
// callbackTimeoutMs. Treated identically to DispatchError.
type TimeoutError struct {
	TaskName string
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: callback timed out: %s", e.TaskName, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// MuxError wraps a failure returned from ConsumerMux.Choose.
type MuxError struct {
	Cause error
}

func (e *MuxError) Error() string {
	return fmt.Sprintf("consumer mux: %s", e.Cause)
}

func (e *MuxError) Unwrap() error { return e.Cause }

// OffsetUpdateError wraps a failure returned from an OffsetManager
// update during callback completion.
type OffsetUpdateError struct {
	TaskName string
	Cause    error
}

func (e *OffsetUpdateError) Error() string {
	return fmt.Sprintf("task %s: offset update failed: %s", e.TaskName, e.Cause)
}

func (e *OffsetUpdateError) Unwrap() error { return e.Cause }
