// Package runloop implements the single-threaded coordinator that
// pulls envelopes from a mux.ConsumerMux, fans them out to the
// TaskWorker each one belongs to, and drives window/commit/shutdown
// scheduling across the whole set. This is the hard part of the
// module: everything else exists to give this loop something to
// drive.
package runloop

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/logger"
	"github.com/chrisbu/taskloop/metrics"
	"github.com/chrisbu/taskloop/mux"
	"github.com/chrisbu/taskloop/task"
	"github.com/chrisbu/taskloop/worker"
)

// RunLoop is the coordinator described above. It owns every
// TaskWorker in the container and is not safe for concurrent use:
// only Run's own goroutine ever touches a TaskWorker.
type RunLoop struct {
	cfg     Config
	workers map[string]*worker.TaskWorker
	order   []string // deterministic iteration order, names sorted once at construction

	hasher envelope.Hasher

	doneCh        chan task.Completion
	seq           int64
	dispatchOwner map[int64]string
}

// New builds a RunLoop over tasks, pulling envelopes from cm. Required
// arguments are positional; everything else is an Option.
func New(tasks map[string]task.Handle, cm mux.ConsumerMux, opts ...Option) *RunLoop {
	cfg := defaultConfig()
	cfg.Tasks = tasks
	cfg.ConsumerMux = cm
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoop()
	}
	if cfg.ContainerMetrics == nil {
		cfg.ContainerMetrics = metrics.Noop()
	}
	if cfg.Clock == nil {
		cfg.Clock = nowMillis
	}

	now := cfg.Clock()

	order := make([]string, 0, len(tasks))
	for name := range tasks {
		order = append(order, name)
	}
	sort.Strings(order)

	workerCfg := worker.Config{
		MaxMessagesInFlight: cfg.MaxMessagesInFlight,
		WindowMs:            cfg.WindowMs,
		CommitMs:            cfg.CommitMs,
		CallbackTimeoutMs:   cfg.CallbackTimeoutMs,
		AsyncCommitEnabled:  cfg.AsyncCommitEnabled,
		Logger:              cfg.Logger,
	}

	workers := make(map[string]*worker.TaskWorker, len(tasks))
	for _, name := range order {
		workers[name] = worker.NewTaskWorker(tasks[name], workerCfg, now)
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = envelope.DefaultHasher()
	}

	return &RunLoop{
		cfg:           cfg,
		workers:       workers,
		order:         order,
		hasher:        hasher,
		doneCh:        make(chan task.Completion, 256),
		dispatchOwner: make(map[int64]string),
	}
}

// Run drives the coordinator loop until every task reaches Finished,
// a task fails, or ctx is cancelled. It implements the eight main-loop
// steps: decide whether to block, choose an envelope, route it,
// dispatch ready work, fire due windows, fire due commits, check
// shutdown consensus, and check for a fatal failure.
func (r *RunLoop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		block := r.shouldBlock()
		start := r.cfg.Clock()
		env, err := r.choose(ctx, block)
		if block {
			r.cfg.ContainerMetrics.RecordIdle(ctx, float64(r.cfg.Clock()-start))
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return &MuxError{Cause: err}
		}
		if env != nil {
			r.cfg.ContainerMetrics.IncEnvelopes(ctx)
			r.route(ctx, env)
		}

		r.dispatchAll(ctx)
		r.drainCompletions(ctx)

		now := r.cfg.Clock()
		r.fireWindows(ctx, now)
		r.fireCommits(ctx, now)
		r.advanceLifecycle(ctx)

		if done, termErr := r.checkTermination(); done {
			if termErr != nil {
				r.cfg.Logger.Error("run loop terminating on task failure", "error", termErr)
			} else {
				r.cfg.Logger.Info("every task finished, run loop shutting down")
			}
			return termErr
		}
	}
}

// shouldBlock reports whether the loop has no ready work to dispatch
// anywhere, so it is safe to park in choose() until the next envelope
// arrives or maxIdleMs elapses. Due windows/commits are serviced on
// that same cadence; a little drift there is acceptable, per the
// design note on timer granularity.
func (r *RunLoop) shouldBlock() bool {
	for _, name := range r.order {
		if r.workers[name].PendingLen() > 0 {
			return false
		}
	}
	return true
}

// choose fetches the next envelope, waking early if a dispatch
// completes while parked so completions never wait a full idle period
// to be processed.
func (r *RunLoop) choose(ctx context.Context, block bool) (*envelope.Envelope, error) {
	if !block {
		return r.cfg.ConsumerMux.Choose(ctx, false)
	}

	type result struct {
		env *envelope.Envelope
		err error
	}

	idleCtx, cancel := context.WithTimeout(ctx, r.maxIdle())
	defer cancel()

	resultCh := make(chan result, 1)
	go func() {
		env, err := r.cfg.ConsumerMux.Choose(idleCtx, true)
		resultCh <- result{env, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, nil
		}
		return res.env, res.err
	case c := <-r.doneCh:
		r.handleCompletion(ctx, c)
		// Stop the parked Choose and wait for it to return, so two calls
		// to the mux never overlap and an envelope it already took is
		// routed rather than lost.
		cancel()
		res := <-resultCh
		if res.err != nil && !errors.Is(res.err, context.Canceled) && !errors.Is(res.err, context.DeadlineExceeded) {
			return nil, res.err
		}
		return res.env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RunLoop) maxIdle() time.Duration {
	if r.cfg.MaxIdleMs <= 0 {
		return time.Second
	}
	return time.Duration(r.cfg.MaxIdleMs) * time.Millisecond
}

// route delivers an ordinary envelope to its single owning worker,
// fans an end-of-stream or watermark envelope out to every worker that
// owns any key-bucket of the same raw partition (the Open Question on
// watermark fan-out resolved toward broadening, matching end-of-stream
// behavior), and drops anything nobody in this container owns.
func (r *RunLoop) route(ctx context.Context, env *envelope.Envelope) {
	if env.IsEndOfStream() {
		r.fanOutToRawOwners(env, "end-of-stream")
		return
	}

	effective, err := envelope.EffectivePartition(env, r.cfg.ElasticityFactor, r.hasher)
	if err != nil {
		r.cfg.Logger.Error("elasticity routing failed, dropping envelope", "error", err)
		return
	}

	if env.IsWatermark() {
		r.fanOutToRawOwners(env, "watermark")
		return
	}

	for _, name := range r.order {
		w := r.workers[name]
		if w.Owns(effective) {
			w.Enqueue(env)
			return
		}
	}

	r.cfg.Logger.Debug("dropping envelope: no owning task in this container", "partition", effective.String())
	raw := effective.WithoutKeyBucket()
	for _, name := range r.order {
		w := r.workers[name]
		if w.OwnsRaw(raw) {
			w.NoteDroppedSiblingEnvelope(ctx)
		}
	}
}

func (r *RunLoop) fanOutToRawOwners(env *envelope.Envelope, kind string) {
	raw := env.Partition.WithoutKeyBucket()
	delivered := false
	for _, name := range r.order {
		w := r.workers[name]
		if w.OwnsRaw(raw) {
			w.Enqueue(env)
			delivered = true
		}
	}
	if !delivered {
		r.cfg.Logger.Debug("dropping "+kind+" for unassigned partition", "partition", raw.String())
	}
}

// dispatchAll lets every Running worker drain as much of its pending
// queue as maxMessagesInFlight allows. The id minter doubles as the
// dispatch-ownership ledger, since doneCh is shared across every
// worker in the container.
func (r *RunLoop) dispatchAll(ctx context.Context) {
	for _, name := range r.order {
		name := name
		nextID := func() int64 {
			r.seq++
			id := r.seq
			r.dispatchOwner[id] = name
			return id
		}
		r.workers[name].DispatchReady(ctx, nextID, r.doneCh)
	}
}

// drainCompletions applies every completion already queued, without
// blocking. Completions that arrive while the loop is busy routing or
// dispatching sit here until the next call.
func (r *RunLoop) drainCompletions(ctx context.Context) {
	for {
		select {
		case c := <-r.doneCh:
			r.handleCompletion(ctx, c)
		default:
			return
		}
	}
}

func (r *RunLoop) handleCompletion(ctx context.Context, c task.Completion) {
	name, ok := r.dispatchOwner[c.DispatchID]
	if !ok {
		r.cfg.Logger.Debug("completion for unknown dispatch id", "dispatchId", c.DispatchID)
		return
	}
	delete(r.dispatchOwner, c.DispatchID)

	req, applied := r.workers[name].CompleteDispatch(ctx, c.DispatchID, c.Err)
	if !applied {
		return
	}
	if c.Err == nil {
		r.cfg.ContainerMetrics.IncProcesses(ctx)
	}
	r.applyRequest(name, req)
}

// applyRequest resolves a Coordinator request's independent commit and
// shutdown scopes against either the originating worker alone or every
// worker in the container.
func (r *RunLoop) applyRequest(origin string, req task.Request) {
	if req.Commit {
		if req.CommitScope == task.AllTasksInContainer {
			for _, name := range r.order {
				r.workers[name].RequestCommit()
			}
		} else {
			r.workers[origin].RequestCommit()
		}
	}
	if req.Shutdown {
		if req.ShutdownScope == task.AllTasksInContainer {
			for _, name := range r.order {
				r.workers[name].RequestShutdown()
			}
		} else {
			r.workers[origin].RequestShutdown()
		}
	}
}

func (r *RunLoop) fireWindows(ctx context.Context, now int64) {
	for _, name := range r.order {
		req, fired := r.workers[name].MaybeWindow(ctx, now)
		if fired {
			r.applyRequest(name, req)
		}
	}
}

func (r *RunLoop) fireCommits(ctx context.Context, now int64) {
	for _, name := range r.order {
		_ = r.workers[name].MaybeCommit(ctx, now)
	}
}

// advanceLifecycle checks the Running->Draining and Draining->Finished
// transitions on every worker, bubbling any commit requested from
// inside endOfStream the same way a process() or window() request is
// bubbled.
func (r *RunLoop) advanceLifecycle(ctx context.Context) {
	for _, name := range r.order {
		r.workers[name].CheckRunningToDraining()
	}
	for _, name := range r.order {
		req, transitioned := r.workers[name].CheckDrainingToFinished(ctx)
		if transitioned {
			r.applyRequest(name, req)
		}
	}
}

// checkTermination reports whether the loop should stop: a worker
// failed (fatal, wrapped into the matching concrete error type) or
// every worker reached Finished (clean shutdown consensus).
func (r *RunLoop) checkTermination() (bool, error) {
	allFinished := true
	for _, name := range r.order {
		w := r.workers[name]
		if w.State() == worker.Failed {
			return true, wrapFailure(w)
		}
		if w.State() != worker.Finished {
			allFinished = false
		}
	}
	return allFinished, nil
}

func wrapFailure(w *worker.TaskWorker) error {
	switch w.FailureKind() {
	case worker.FailureTimeout:
		return &TimeoutError{TaskName: w.Name(), Cause: w.Err()}
	case worker.FailureOffsetUpdate:
		return &OffsetUpdateError{TaskName: w.Name(), Cause: w.Err()}
	default:
		return &DispatchError{TaskName: w.Name(), Cause: w.Err()}
	}
}
