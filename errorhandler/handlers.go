package errorhandler

import (
	"context"
	"time"

	"github.com/hugolhafner/dskit/backoff"

	"github.com/chrisbu/taskloop/logger"
)

// LogAndContinue logs the error and skips the envelope.
func LogAndContinue(l logger.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, ec ErrorContext) Action {
		l.Error(
			"error processing envelope, skipping",
			"error", ec.Error,
			"task", ec.TaskName,
			"partition", ec.Envelope.Partition.String(),
			"attempt", ec.Attempt,
		)
		return ActionContinue{}
	})
}

// LogAndFail logs the error and surfaces it to the run loop as fatal.
func LogAndFail(l logger.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, ec ErrorContext) Action {
		l.Error(
			"error processing envelope, failing",
			"error", ec.Error,
			"task", ec.TaskName,
			"partition", ec.Envelope.Partition.String(),
			"attempt", ec.Attempt,
		)
		return ActionFail{}
	})
}

// WithMaxAttempts allows up to maxAttempts attempts in total. Each call
// first waits b.Next(attempt); it then returns ActionRetry while the
// attempt is below maxAttempts, and fallback's decision once it is not.
func WithMaxAttempts(maxAttempts int, b backoff.Backoff, fallback Handler) Handler {
	return HandlerFunc(func(ctx context.Context, ec ErrorContext) Action {
		select {
		case <-ctx.Done():
			return ActionFail{}
		case <-time.After(b.Next(uint(ec.Attempt))):
		}

		if ec.Attempt < maxAttempts {
			return ActionRetry{}
		}
		return fallback.Handle(ctx, ec)
	})
}

// WithDLQ routes an envelope to sink whenever inner would otherwise
// continue past it, e.g. WithMaxAttempts(3, b, WithDLQ("dead-letter", LogAndContinue(l))).
func WithDLQ(sink string, inner Handler) Handler {
	return HandlerFunc(func(ctx context.Context, ec ErrorContext) Action {
		var action Action = ActionContinue{}
		if inner != nil {
			action = inner.Handle(ctx, ec)
		}
		if action.Type() == ActionTypeContinue {
			return ActionSendToDLQ{sink: sink}
		}
		return action
	})
}
