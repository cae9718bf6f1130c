package worker

import (
	"context"
	"errors"
	"time"

	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/logger"
	"github.com/chrisbu/taskloop/task"
)

// ErrCallbackTimeout is the cause wrapped into a dispatch failure when
// callbackTimeoutMs elapses before a process() callback completes.
var ErrCallbackTimeout = errors.New("callback timed out")

// FailureKind distinguishes why a TaskWorker moved to Failed, so its
// owner can surface the right concrete error type.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureDispatch
	FailureTimeout
	FailureOffsetUpdate
)

// Config carries the per-task tunables the run loop owns; all of
// these are RunLoop construction parameters applied per TaskWorker.
type Config struct {
	MaxMessagesInFlight int
	WindowMs            int64
	CommitMs            int64
	CallbackTimeoutMs   int64
	AsyncCommitEnabled  bool
	Logger              logger.Logger
}

type dispatchRecord struct {
	env   *envelope.Envelope
	coord *task.TokenCoordinator
	timer *time.Timer
}

// TaskWorker is the per-task state machine described in the component
// design: a FIFO pending queue, bounded in-flight dispatch, and the
// window/commit/end-of-stream/shutdown transitions layered on top.
//
// TaskWorker is not safe for concurrent use: every method is called
// from the single run-loop coordinator thread. The only thing that
// crosses a goroutine boundary is the Completion a task posts onto the
// shared channel handed to NewDispatchCallbackFactory, and that
// channel read happens back on the loop thread before any TaskWorker
// method is invoked.
type TaskWorker struct {
	name   string
	handle task.Handle
	cfg    Config
	log    logger.Logger

	ownedPartitions []envelope.PartitionID
	eosSeen         map[envelope.PartitionID]bool

	state    State
	failErr  error
	failKind FailureKind

	pending  []*envelope.Envelope
	inFlight map[int64]*dispatchRecord

	viaEOS               bool
	endOfStreamDelivered bool
	shutdownRequested    bool
	commitRequested      bool

	lastWindowAt int64
	lastCommitAt int64
}

// NewTaskWorker constructs a TaskWorker for handle. now is the
// construction-time clock reading, seeding lastWindowAt/lastCommitAt
// so the first window/commit fires a full period after startup.
func NewTaskWorker(handle task.Handle, cfg Config, now int64) *TaskWorker {
	if cfg.MaxMessagesInFlight < 1 {
		cfg.MaxMessagesInFlight = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoop()
	}

	owned := handle.SystemStreamPartitions()
	// eosSeen is keyed by raw partition, not by owned[i] itself: under
	// elasticity a task owns one key-bucket of a raw partition, but the
	// end-of-stream sentinel for that partition arrives unbucketed.
	eosSeen := make(map[envelope.PartitionID]bool, len(owned))
	for _, p := range owned {
		eosSeen[p.WithoutKeyBucket()] = false
	}

	return &TaskWorker{
		name:            handle.TaskName(),
		handle:          handle,
		cfg:             cfg,
		log:             log.With("component", "task-worker", "task", handle.TaskName()),
		ownedPartitions: owned,
		eosSeen:         eosSeen,
		state:           Running,
		inFlight:        make(map[int64]*dispatchRecord),
		lastWindowAt:    now,
		lastCommitAt:    now,
	}
}

func (w *TaskWorker) Name() string             { return w.name }
func (w *TaskWorker) State() State             { return w.state }
func (w *TaskWorker) Err() error               { return w.failErr }
func (w *TaskWorker) FailureKind() FailureKind { return w.failKind }
func (w *TaskWorker) InFlight() int            { return len(w.inFlight) }
func (w *TaskWorker) PendingLen() int          { return len(w.pending) }

// Owns reports whether this worker is responsible for the given
// (possibly key-bucketed) partition.
func (w *TaskWorker) Owns(p envelope.PartitionID) bool {
	for _, owned := range w.ownedPartitions {
		if owned == p {
			return true
		}
	}
	return false
}

// OwnsRaw reports whether this worker owns any key-bucket of the given
// raw (system, stream, partition) triple — used for end-of-stream
// fan-out.
func (w *TaskWorker) OwnsRaw(raw envelope.PartitionID) bool {
	for _, owned := range w.ownedPartitions {
		if owned.SameRawPartition(raw) {
			return true
		}
	}
	return false
}

// Enqueue accepts env for processing, or records its end-of-stream
// sentinel. It returns false when env cannot be accepted right now:
// an ordinary envelope arriving after the worker stopped accepting
// new work, or a duplicate end-of-stream for a partition already
// seen.
func (w *TaskWorker) Enqueue(env *envelope.Envelope) bool {
	if env.IsEndOfStream() {
		raw := env.Partition.WithoutKeyBucket()
		if seen, ok := w.eosSeen[raw]; ok {
			if seen {
				return false
			}
			w.eosSeen[raw] = true
			return true
		}
		// EOS for a raw partition this worker does not own at all;
		// nothing to latch.
		return false
	}

	if w.state != Running {
		return false
	}
	w.pending = append(w.pending, env)
	return true
}

// DispatchReady dispatches as many pending envelopes as
// maxMessagesInFlight allows, calling handle.Process for each. nextID
// mints a process-wide unique dispatch id; doneCh is the shared
// channel completions are posted to.
func (w *TaskWorker) DispatchReady(ctx context.Context, nextID func() int64, doneCh chan task.Completion) int {
	dispatched := 0
	for w.state == Running && len(w.pending) > 0 && len(w.inFlight) < w.cfg.MaxMessagesInFlight {
		env := w.pending[0]
		w.pending = w.pending[1:]

		id := nextID()
		coord := task.NewTokenCoordinator()
		factory := task.NewDispatchCallbackFactory(doneCh, id)

		rec := &dispatchRecord{env: env, coord: coord}
		w.inFlight[id] = rec

		if m := w.handle.Metrics(); m != nil {
			m.InFlightDelta(ctx, 1)
		}

		if w.cfg.CallbackTimeoutMs > 0 {
			timeout := time.Duration(w.cfg.CallbackTimeoutMs) * time.Millisecond
			rec.timer = time.AfterFunc(timeout, func() {
				select {
				case doneCh <- task.Completion{DispatchID: id, Err: ErrCallbackTimeout}:
				case <-ctx.Done():
				}
			})
		}

		w.log.Debug("dispatching", "dispatchId", id, "partition", env.Partition.String())
		w.handle.Process(ctx, env, coord, factory)
		dispatched++
	}
	return dispatched
}

// CompleteDispatch applies the outcome of a process() callback. It
// returns the coordinator request latched during that dispatch and
// true, or a zero Request and false if id does not refer to an
// outstanding dispatch (a late completion after timeout, or a task
// bug calling a callback twice).
func (w *TaskWorker) CompleteDispatch(ctx context.Context, id int64, err error) (task.Request, bool) {
	rec, ok := w.inFlight[id]
	if !ok {
		w.log.Debug("ignoring completion for unknown dispatch", "dispatchId", id)
		return task.Request{}, false
	}
	delete(w.inFlight, id)
	if rec.timer != nil {
		rec.timer.Stop()
	}

	m := w.handle.Metrics()
	if m != nil {
		m.InFlightDelta(ctx, -1)
	}

	if err != nil {
		w.state = Failed
		w.failErr = err
		if errors.Is(err, ErrCallbackTimeout) {
			w.failKind = FailureTimeout
		} else {
			w.failKind = FailureDispatch
		}
		w.log.Error("dispatch failed", "dispatchId", id, "error", err)
		return task.Request{}, true
	}

	if rec.env.Offset != nil {
		if updErr := w.handle.OffsetManager().Update(w.name, rec.env.Partition.String(), *rec.env.Offset); updErr != nil {
			w.state = Failed
			w.failErr = updErr
			w.failKind = FailureOffsetUpdate
			w.log.Error("offset update failed", "dispatchId", id, "error", updErr)
			return task.Request{}, true
		}
	}
	if m != nil {
		m.IncAsyncCallbackCompleted(ctx)
	}

	req := rec.coord.Drain()
	w.log.Debug("dispatch completed", "dispatchId", id)
	return req, true
}

// CheckRunningToDraining evaluates the Running -> Draining transition:
// every owned partition has an end-of-stream observed and no pending
// work remains, or a shutdown was requested and intake should stop.
func (w *TaskWorker) CheckRunningToDraining() {
	if w.state != Running {
		return
	}
	if len(w.pending) != 0 {
		return
	}

	eosComplete := true
	for _, seen := range w.eosSeen {
		if !seen {
			eosComplete = false
			break
		}
	}

	switch {
	case eosComplete:
		w.viaEOS = true
		w.state = Draining
	case w.shutdownRequested:
		w.viaEOS = false
		w.state = Draining
	}
}

// CheckDrainingToFinished evaluates the Draining -> Finished
// transition once inFlight has drained to zero. When the drain
// reached Draining via a completed end-of-stream observation, it
// invokes endOfStream on the task, honors any commit it requests
// before transitioning, and returns the drained request (for
// ALL_TASKS_IN_CONTAINER scope bubbling). A pure shutdown drain skips
// endOfStream entirely, matching the two independent paths to
// Finished.
func (w *TaskWorker) CheckDrainingToFinished(ctx context.Context) (task.Request, bool) {
	if w.state != Draining || len(w.inFlight) != 0 {
		return task.Request{}, false
	}

	if !w.viaEOS || w.endOfStreamDelivered {
		w.state = Finished
		return task.Request{}, true
	}

	coord := task.NewTokenCoordinator()
	w.handle.EndOfStream(ctx, coord)
	w.endOfStreamDelivered = true
	req := coord.Drain()

	if req.Commit {
		w.commitRequested = false
		if err := w.handle.Commit(ctx); err != nil {
			w.state = Failed
			w.failErr = err
			w.failKind = FailureDispatch
			return task.Request{}, true
		}
		if m := w.handle.Metrics(); m != nil {
			m.IncCommits(ctx)
		}
	}

	w.state = Finished
	return req, true
}

// MaybeWindow fires window() when the task is windowable, its period
// has elapsed, and it has no in-flight work.
func (w *TaskWorker) MaybeWindow(ctx context.Context, now int64) (task.Request, bool) {
	if w.state != Running && w.state != Draining {
		return task.Request{}, false
	}
	if !w.handle.IsWindowableTask() || w.cfg.WindowMs <= 0 {
		return task.Request{}, false
	}
	if len(w.inFlight) != 0 {
		return task.Request{}, false
	}
	if now-w.lastWindowAt < w.cfg.WindowMs {
		return task.Request{}, false
	}

	coord := task.NewTokenCoordinator()
	w.handle.Window(ctx, coord)
	w.lastWindowAt = now
	if m := w.handle.Metrics(); m != nil {
		m.IncWindows(ctx)
	}
	return coord.Drain(), true
}

// MaybeCommit fires commit() when a commit was requested or the
// periodic interval elapsed, subject to the in-flight quiescence rule
// (waived when asyncCommitEnabled).
func (w *TaskWorker) MaybeCommit(ctx context.Context, now int64) error {
	if w.state == Failed || w.state == Finished {
		return nil
	}

	periodicDue := w.cfg.CommitMs > 0 && now-w.lastCommitAt >= w.cfg.CommitMs
	if !w.commitRequested && !periodicDue {
		return nil
	}
	if len(w.inFlight) != 0 && !w.cfg.AsyncCommitEnabled {
		return nil
	}

	if err := w.handle.Commit(ctx); err != nil {
		w.state = Failed
		w.failErr = err
		w.failKind = FailureDispatch
		return err
	}
	w.commitRequested = false
	w.lastCommitAt = now
	if m := w.handle.Metrics(); m != nil {
		m.IncCommits(ctx)
	}
	return nil
}

// RequestShutdown latches a shutdown request for this worker.
func (w *TaskWorker) RequestShutdown() {
	w.shutdownRequested = true
}

// RequestCommit latches a commit request for this worker.
func (w *TaskWorker) RequestCommit() {
	w.commitRequested = true
}

// NoteDroppedSiblingEnvelope records that an envelope addressed to a
// key-bucket of this worker's raw partition, but not one it owns
// itself, was dropped — the closest observable task to the loss.
func (w *TaskWorker) NoteDroppedSiblingEnvelope(ctx context.Context) {
	if m := w.handle.Metrics(); m != nil {
		m.IncDroppedEnvelopes(ctx)
	}
}
