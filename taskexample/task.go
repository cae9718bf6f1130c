// Package taskexample provides a minimal, concrete task.Handle used by
// this module's own tests and by cmd/democontainer: a task that
// applies a user-supplied business function to each envelope's
// already-decoded Message, routes failures through an
// errorhandler.Handler, and records its progress in an
// offsetmanager.OffsetManager. Deserialization is out of scope (per
// spec.md's non-goals): Task treats Envelope.Message as the value to
// hand the business function, not a byte slice to decode.
package taskexample

import (
	"context"
	"fmt"

	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/errorhandler"
	"github.com/chrisbu/taskloop/logger"
	"github.com/chrisbu/taskloop/metrics"
	"github.com/chrisbu/taskloop/offsetmanager"
	"github.com/chrisbu/taskloop/task"
)

// Func is the business logic a Task applies to every envelope. It
// returns a result or an error and is not handed the callback: the Task
// completes the callback itself, before Process returns by default, or
// from a goroutine Process spawns under WithAsync — both are valid per
// task.Handle's contract.
type Func func(ctx context.Context, msg any) (any, error)

// Sink receives whatever a Task's business Func produces, plus
// anything errorhandler.WithDLQ routes to a named side channel. nil is
// a valid Sink: results and DLQ sends are then simply dropped.
type Sink interface {
	Send(ctx context.Context, name string, env *envelope.Envelope, result any)
}

var _ task.Handle = (*Task)(nil)

// Task is the task.Handle implementation. Construct with New.
type Task struct {
	name       string
	partitions []envelope.PartitionID
	windowable bool

	fn      Func
	sink    Sink
	handler errorhandler.Handler

	om  offsetmanager.OffsetManager
	met *metrics.TaskMetrics
	log logger.Logger

	windowFn      func(ctx context.Context, coord task.Coordinator)
	endOfStreamFn func(ctx context.Context, coord task.Coordinator)
	commitFn      func(ctx context.Context, snapshot map[string]string) error

	// async, when set, runs fn (and its retries) on a goroutine Task
	// owns and returns from Process immediately, completing the
	// callback later rather than before Process returns.
	async bool
}

// Option configures a Task at construction time.
type Option func(*Task)

func WithWindowable(windowFn func(ctx context.Context, coord task.Coordinator)) Option {
	return func(t *Task) {
		t.windowable = true
		t.windowFn = windowFn
	}
}

func WithEndOfStream(fn func(ctx context.Context, coord task.Coordinator)) Option {
	return func(t *Task) { t.endOfStreamFn = fn }
}

// WithCommit overrides the default commit, which is a no-op beyond the
// offset snapshot bookkeeping the run loop already does via
// OffsetManager.Update — use this to flush a snapshot to external
// storage.
func WithCommit(fn func(ctx context.Context, snapshot map[string]string) error) Option {
	return func(t *Task) { t.commitFn = fn }
}

func WithSink(sink Sink) Option {
	return func(t *Task) { t.sink = sink }
}

func WithErrorHandler(h errorhandler.Handler) Option {
	return func(t *Task) { t.handler = h }
}

func WithLogger(l logger.Logger) Option {
	return func(t *Task) { t.log = l }
}

func WithMetrics(m *metrics.TaskMetrics) Option {
	return func(t *Task) { t.met = m }
}

func WithOffsetManager(om offsetmanager.OffsetManager) Option {
	return func(t *Task) { t.om = om }
}

// WithAsync runs fn on a goroutine Task owns, completing the callback
// from there rather than before Process returns. Use this to exercise
// the asynchronous-completion branch of a TaskHandle's contract.
func WithAsync() Option {
	return func(t *Task) { t.async = true }
}

// New builds a Task named name, owning partitions, applying fn to each
// envelope it receives.
func New(name string, partitions []envelope.PartitionID, fn Func, opts ...Option) *Task {
	t := &Task{
		name:       name,
		partitions: partitions,
		fn:         fn,
		om:         offsetmanager.New(),
		met:        metrics.NoopTaskMetrics(name),
		log:        logger.NewNoop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.handler == nil {
		t.handler = errorhandler.LogAndFail(t.log)
	}
	return t
}

func (t *Task) SystemStreamPartitions() []envelope.PartitionID { return t.partitions }
func (t *Task) IsWindowableTask() bool                         { return t.windowable }
func (t *Task) OffsetManager() offsetmanager.OffsetManager     { return t.om }
func (t *Task) Metrics() *metrics.TaskMetrics                  { return t.met }
func (t *Task) TaskName() string                               { return t.name }

// Process applies fn to env.Message, retrying through errorhandler on
// failure up to the handler's own policy, and completes cb exactly
// once either synchronously or from the goroutine Process spawns under
// WithAsync.
func (t *Task) Process(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
	cb := newCallback.New()
	if t.async {
		go t.attempt(ctx, env, coord, cb, 1)
		return
	}
	t.attempt(ctx, env, coord, cb, 1)
}

func (t *Task) attempt(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, cb task.Callback, n int) {
	result, err := t.fn(ctx, env.Message)
	if err == nil {
		if t.sink != nil && result != nil {
			t.sink.Send(ctx, "", env, result)
		}
		cb.Complete()
		return
	}

	ec := errorhandler.NewErrorContext(env, err, t.name).WithAttempt(n)
	switch action := t.handler.Handle(ctx, ec).(type) {
	case errorhandler.ActionContinue:
		t.log.Warn("continuing past failed envelope", "task", t.name, "error", err)
		cb.Complete()
	case errorhandler.ActionRetry:
		t.attempt(ctx, env, coord, cb, n+1)
	case errorhandler.ActionSendToDLQ:
		if t.sink != nil {
			t.sink.Send(ctx, action.Sink(), env, err)
		}
		cb.Complete()
	default:
		cb.Failure(fmt.Errorf("task %s: %w", t.name, err))
	}
}

func (t *Task) Window(ctx context.Context, coord task.Coordinator) {
	if t.windowFn != nil {
		t.windowFn(ctx, coord)
	}
}

func (t *Task) Commit(ctx context.Context) error {
	if t.commitFn == nil {
		return nil
	}
	return t.commitFn(ctx, t.om.Snapshot(t.name))
}

func (t *Task) EndOfStream(ctx context.Context, coord task.Coordinator) {
	if t.endOfStreamFn != nil {
		t.endOfStreamFn(ctx, coord)
	}
}
