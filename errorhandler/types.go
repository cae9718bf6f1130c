// Package errorhandler provides a task-local retry/DLQ policy a
// TaskHandle.Process implementation can consult when a message fails
// processing. The run loop itself has no opinion on retries: a failed
// callback is always fatal to the run loop (spec.md §7). This package
// gives a task a way to absorb most errors itself and only call
// Callback.Failure for the ones it decides are truly fatal.
package errorhandler

import "context"

// ActionType is the outcome a Handler decides for a failed envelope.
type ActionType int

const (
	ActionTypeContinue  ActionType = iota // skip the envelope, advance past it
	ActionTypeRetry                       // reprocess the same envelope
	ActionTypeFail                        // surface the error to the run loop as fatal
	ActionTypeSendToDLQ                   // route the envelope elsewhere, then continue
)

func (a ActionType) String() string {
	switch a {
	case ActionTypeContinue:
		return "Continue"
	case ActionTypeRetry:
		return "Retry"
	case ActionTypeFail:
		return "Fail"
	case ActionTypeSendToDLQ:
		return "SendToDLQ"
	default:
		return "Unknown"
	}
}

var _ Action = ActionContinue{}
var _ Action = ActionRetry{}
var _ Action = ActionFail{}
var _ Action = ActionSendToDLQ{}

type Action interface {
	Type() ActionType
}

type ActionContinue struct{}

func (a ActionContinue) Type() ActionType { return ActionTypeContinue }

type ActionRetry struct{}

func (a ActionRetry) Type() ActionType { return ActionTypeRetry }

type ActionFail struct{}

func (a ActionFail) Type() ActionType { return ActionTypeFail }

// ActionSendToDLQ carries the name of the side-channel sink a task
// should route the offending envelope to.
type ActionSendToDLQ struct {
	sink string
}

func (a ActionSendToDLQ) Type() ActionType { return ActionTypeSendToDLQ }
func (a ActionSendToDLQ) Sink() string     { return a.sink }

// Handler decides what to do about a failed envelope.
type Handler interface {
	Handle(ctx context.Context, ec ErrorContext) Action
}

type HandlerFunc func(ctx context.Context, ec ErrorContext) Action

func (f HandlerFunc) Handle(ctx context.Context, ec ErrorContext) Action {
	return f(ctx, ec)
}
