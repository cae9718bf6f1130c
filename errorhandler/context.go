package errorhandler

import "github.com/chrisbu/taskloop/envelope"

// ErrorContext carries everything a Handler needs to decide what to
// do about a failed envelope.
type ErrorContext struct {
	// Envelope is the message that failed processing.
	Envelope *envelope.Envelope

	// Error is the error that occurred.
	Error error

	// Attempt is the current attempt number, 1-indexed.
	Attempt int

	// TaskName names the task the failure occurred in.
	TaskName string
}

func NewErrorContext(env *envelope.Envelope, err error, taskName string) ErrorContext {
	return ErrorContext{Envelope: env, Error: err, Attempt: 1, TaskName: taskName}
}

func (ec ErrorContext) WithError(err error) ErrorContext {
	ec.Error = err
	return ec
}

func (ec ErrorContext) WithAttempt(attempt int) ErrorContext {
	ec.Attempt = attempt
	return ec
}

func (ec ErrorContext) IncrementAttempt() ErrorContext {
	ec.Attempt++
	return ec
}
