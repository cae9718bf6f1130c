package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/metrics"
	"github.com/chrisbu/taskloop/offsetmanager"
	"github.com/chrisbu/taskloop/task"
)

type fakeHandle struct {
	name       string
	partitions []envelope.PartitionID
	windowable bool
	om         offsetmanager.OffsetManager
	metrics    *metrics.TaskMetrics

	processFn func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory)
	windowFn  func(ctx context.Context, coord task.Coordinator)
	commitFn  func(ctx context.Context) error
	eosFn     func(ctx context.Context, coord task.Coordinator)

	commitCalls int
	eosCalls    int
}

func newFakeHandle(name string, partitions ...envelope.PartitionID) *fakeHandle {
	return &fakeHandle{
		name:       name,
		partitions: partitions,
		om:         offsetmanager.New(),
		metrics:    metrics.NoopTaskMetrics(name),
	}
}

func (f *fakeHandle) SystemStreamPartitions() []envelope.PartitionID { return f.partitions }
func (f *fakeHandle) IsWindowableTask() bool                         { return f.windowable }
func (f *fakeHandle) OffsetManager() offsetmanager.OffsetManager     { return f.om }
func (f *fakeHandle) Metrics() *metrics.TaskMetrics                  { return f.metrics }
func (f *fakeHandle) TaskName() string                               { return f.name }

func (f *fakeHandle) Process(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
	if f.processFn != nil {
		f.processFn(ctx, env, coord, newCallback)
		return
	}
	newCallback.New().Complete()
}

func (f *fakeHandle) Window(ctx context.Context, coord task.Coordinator) {
	if f.windowFn != nil {
		f.windowFn(ctx, coord)
	}
}

func (f *fakeHandle) Commit(ctx context.Context) error {
	f.commitCalls++
	if f.commitFn != nil {
		return f.commitFn(ctx)
	}
	return nil
}

func (f *fakeHandle) EndOfStream(ctx context.Context, coord task.Coordinator) {
	f.eosCalls++
	if f.eosFn != nil {
		f.eosFn(ctx, coord)
	}
}

func idGen() func() int64 {
	var next int64
	return func() int64 {
		next++
		return next
	}
}

func raw(n int32) envelope.PartitionID {
	return envelope.NewPartitionID("sys", "stream", n)
}

func TestStrictOrderingSingleInFlight(t *testing.T) {
	p := raw(0)
	var order []string
	h := newFakeHandle("t0", p)
	h.processFn = func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
		order = append(order, *env.Offset)
		newCallback.New().Complete()
	}

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 1}, 0)
	ctx := context.Background()
	doneCh := make(chan task.Completion, 4)
	next := idGen()

	w.Enqueue(envelope.New(p, "0", nil, "v", 1))
	w.Enqueue(envelope.New(p, "1", nil, "v", 1))

	if n := w.DispatchReady(ctx, next, doneCh); n != 1 {
		t.Fatalf("expected exactly one dispatch with maxMessagesInFlight=1, got %d", n)
	}
	c := <-doneCh
	if _, ok := w.CompleteDispatch(ctx, c.DispatchID, c.Err); !ok {
		t.Fatal("expected completion to apply")
	}

	if n := w.DispatchReady(ctx, next, doneCh); n != 1 {
		t.Fatalf("expected the second envelope to dispatch only after the first completed, got %d", n)
	}
	c = <-doneCh
	w.CompleteDispatch(ctx, c.DispatchID, c.Err)

	if len(order) != 2 || order[0] != "0" || order[1] != "1" {
		t.Fatalf("expected strict FIFO dispatch order, got %v", order)
	}
}

func TestOutOfOrderCompletionUpdatesOffsetsInCompletionOrder(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)
	h.processFn = func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
		// Don't complete synchronously; the test drives completion order.
		_ = newCallback.New()
	}

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 2}, 0)
	ctx := context.Background()
	doneCh := make(chan task.Completion, 4)
	next := idGen()

	w.Enqueue(envelope.New(p, "0", nil, "v", 1))
	w.Enqueue(envelope.New(p, "1", nil, "v", 1))

	if n := w.DispatchReady(ctx, next, doneCh); n != 2 {
		t.Fatalf("expected both envelopes dispatched under maxMessagesInFlight=2, got %d", n)
	}
	if w.InFlight() != 2 {
		t.Fatalf("expected inFlight == 2, got %d", w.InFlight())
	}

	// env at offset "1" (dispatch id 2) completes first.
	if _, ok := w.CompleteDispatch(ctx, 2, nil); !ok {
		t.Fatal("expected completion to apply")
	}
	if w.InFlight() != 1 {
		t.Fatalf("expected inFlight == 1 after one completion, got %d", w.InFlight())
	}
	snap := h.om.Snapshot("t0")
	if snap[p.String()] != "1" {
		t.Fatalf("expected offset advanced to the completed envelope's offset, got %v", snap)
	}

	if _, ok := w.CompleteDispatch(ctx, 1, nil); !ok {
		t.Fatal("expected completion to apply")
	}
	if w.InFlight() != 0 {
		t.Fatalf("expected inFlight == 0, got %d", w.InFlight())
	}
	snap = h.om.Snapshot("t0")
	if snap[p.String()] != "0" {
		t.Fatalf("expected the later completion's offset to win (completion order, not dispatch order), got %v", snap)
	}
}

func TestInFlightNeverExceedsMax(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)
	h.processFn = func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
		_ = newCallback.New() // never completed in this test
	}

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 2}, 0)
	ctx := context.Background()
	doneCh := make(chan task.Completion, 8)
	next := idGen()

	for i := 0; i < 5; i++ {
		w.Enqueue(envelope.New(p, "0", nil, "v", 1))
	}

	total := 0
	for {
		n := w.DispatchReady(ctx, next, doneCh)
		total += n
		if n == 0 {
			break
		}
		if w.InFlight() > 2 {
			t.Fatalf("inFlight exceeded maxMessagesInFlight: %d", w.InFlight())
		}
	}
	if total != 2 {
		t.Fatalf("expected dispatch to stop at maxMessagesInFlight=2 while nothing completes, got %d", total)
	}
}

func TestEndOfStreamWaitsForInFlightDrain(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)
	h.processFn = func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
		_ = newCallback.New()
	}

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 2}, 0)
	ctx := context.Background()
	doneCh := make(chan task.Completion, 4)
	next := idGen()

	w.Enqueue(envelope.New(p, "0", nil, "v", 1))
	w.Enqueue(envelope.New(p, "1", nil, "v", 1))
	w.DispatchReady(ctx, next, doneCh)

	// env01 (dispatch id 2) completes immediately.
	w.CompleteDispatch(ctx, 2, nil)

	w.Enqueue(envelope.EndOfStream(p))
	w.CheckRunningToDraining()
	if w.State() != Draining {
		t.Fatalf("expected Draining once every owned partition has EOS observed, got %v", w.State())
	}

	if _, transitioned := w.CheckDrainingToFinished(ctx); transitioned {
		t.Fatal("endOfStream must not fire while env00 is still in flight")
	}
	if h.eosCalls != 0 {
		t.Fatal("endOfStream invoked before inFlight drained to zero")
	}

	// env00 (dispatch id 1) now completes.
	w.CompleteDispatch(ctx, 1, nil)
	if w.InFlight() != 0 {
		t.Fatalf("expected inFlight == 0, got %d", w.InFlight())
	}

	req, transitioned := w.CheckDrainingToFinished(ctx)
	if !transitioned {
		t.Fatal("expected Draining -> Finished once inFlight reached zero")
	}
	_ = req
	if h.eosCalls != 1 {
		t.Fatalf("expected endOfStream invoked exactly once, got %d", h.eosCalls)
	}
	if w.State() != Finished {
		t.Fatalf("expected Finished, got %v", w.State())
	}
}

func TestEndOfStreamInvokedAtMostOnce(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 1}, 0)
	ctx := context.Background()

	w.Enqueue(envelope.EndOfStream(p))
	w.CheckRunningToDraining()
	w.CheckDrainingToFinished(ctx)
	// A second EOS for the same raw partition must be rejected, and a
	// repeated finished-check must not re-invoke endOfStream.
	if w.Enqueue(envelope.EndOfStream(p)) {
		t.Fatal("expected duplicate end-of-stream to be rejected")
	}
	w.CheckDrainingToFinished(ctx)
	if h.eosCalls != 1 {
		t.Fatalf("expected endOfStream invoked exactly once, got %d", h.eosCalls)
	}
}

func TestCommitCurrentTaskScopeDoesNotAffectOtherTasks(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)
	h.processFn = func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
		coord.Commit(task.CurrentTask)
		coord.Shutdown(task.AllTasksInContainer)
		newCallback.New().Complete()
	}

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 1}, 0)
	ctx := context.Background()
	doneCh := make(chan task.Completion, 4)
	next := idGen()

	w.Enqueue(envelope.New(p, "0", nil, "v", 1))
	w.DispatchReady(ctx, next, doneCh)
	c := <-doneCh
	req, ok := w.CompleteDispatch(ctx, c.DispatchID, c.Err)
	if !ok {
		t.Fatal("expected completion to apply")
	}
	if req.CommitScope != task.CurrentTask {
		t.Fatalf("expected commit scope CURRENT_TASK, got %v", req.CommitScope)
	}
	if req.ShutdownScope != task.AllTasksInContainer {
		t.Fatalf("expected shutdown scope ALL_TASKS_IN_CONTAINER, got %v", req.ShutdownScope)
	}
}

func TestDispatchFailureMovesWorkerToFailed(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)
	h.processFn = func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
		newCallback.New().Failure(errors.New("boom"))
	}

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 1}, 0)
	ctx := context.Background()
	doneCh := make(chan task.Completion, 4)
	next := idGen()

	w.Enqueue(envelope.New(p, "0", nil, "v", 1))
	w.DispatchReady(ctx, next, doneCh)
	c := <-doneCh
	w.CompleteDispatch(ctx, c.DispatchID, c.Err)

	if w.State() != Failed {
		t.Fatalf("expected Failed, got %v", w.State())
	}
	if w.Err() == nil {
		t.Fatal("expected Err() to surface the dispatch failure")
	}
}

func TestShutdownRequestFinishesWithoutEndOfStream(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 1}, 0)
	ctx := context.Background()

	w.RequestShutdown()
	w.CheckRunningToDraining()
	if w.State() != Draining {
		t.Fatalf("expected Draining after a shutdown request, got %v", w.State())
	}

	_, transitioned := w.CheckDrainingToFinished(ctx)
	if !transitioned || w.State() != Finished {
		t.Fatalf("expected Finished, got %v", w.State())
	}
	if h.eosCalls != 0 {
		t.Fatal("a pure shutdown drain must not invoke endOfStream")
	}
}

func TestWindowSkippedWhileInFlight(t *testing.T) {
	p := raw(0)
	h := newFakeHandle("t0", p)
	h.windowable = true
	windowed := 0
	h.windowFn = func(ctx context.Context, coord task.Coordinator) { windowed++ }
	h.processFn = func(ctx context.Context, env *envelope.Envelope, coord task.Coordinator, newCallback task.CallbackFactory) {
		_ = newCallback.New()
	}

	w := NewTaskWorker(h, Config{MaxMessagesInFlight: 1, WindowMs: 10}, 0)
	ctx := context.Background()
	doneCh := make(chan task.Completion, 4)
	next := idGen()

	w.Enqueue(envelope.New(p, "0", nil, "v", 1))
	w.DispatchReady(ctx, next, doneCh)

	if _, fired := w.MaybeWindow(ctx, 100); fired {
		t.Fatal("window must not fire while inFlight > 0")
	}
	if windowed != 0 {
		t.Fatalf("expected window() not called, got %d calls", windowed)
	}
}
