package task

import "sync"

// Callback is handed to a TaskHandle's Process call via a
// CallbackFactory. Exactly one of Complete or Failure must be called,
// exactly once, from any goroutine. A TaskHandle may call Complete
// before Process returns (synchronous completion) or later from a
// goroutine it owns (asynchronous completion).
type Callback interface {
	Complete()
	Failure(err error)
}

// CallbackFactory creates exactly one Callback per dispatch. Handing
// the task a factory rather than a preconstructed Callback lets the
// task decide when to materialize it, while the run loop enforces
// one-callback-per-dispatch centrally.
type CallbackFactory interface {
	New() Callback
}

// Completion is delivered to the run loop's own goroutine once a
// dispatch's Callback fires. DispatchID identifies which outstanding
// dispatch completed, since one TaskWorker may have several
// dispatches outstanding at once under maxMessagesInFlight > 1. Err is
// nil for Complete and non-nil for Failure.
type Completion struct {
	DispatchID int64
	Err        error
}

// NewDispatchCallbackFactory builds a CallbackFactory whose single
// Callback posts its outcome onto doneCh, tagged with dispatchID.
// doneCh must be buffered or drained promptly by the caller; the run
// loop owns this channel.
func NewDispatchCallbackFactory(doneCh chan<- Completion, dispatchID int64) CallbackFactory {
	return &dispatchCallbackFactory{doneCh: doneCh, dispatchID: dispatchID}
}

type dispatchCallbackFactory struct {
	mu         sync.Mutex
	produced   bool
	doneCh     chan<- Completion
	dispatchID int64
}

func (f *dispatchCallbackFactory) New() Callback {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.produced {
		// A second callback from the same dispatch is a task bug; we
		// still hand back a callback so the task does not panic, but
		// it is wired to a nil channel and is a silent no-op.
		return &dispatchCallback{}
	}
	f.produced = true
	return &dispatchCallback{doneCh: f.doneCh, dispatchID: f.dispatchID}
}

// dispatchCallback is the default Callback: it posts the outcome onto
// a channel the run loop owns, and guards against a task calling
// Complete/Failure more than once.
type dispatchCallback struct {
	once       sync.Once
	doneCh     chan<- Completion
	dispatchID int64
}

func (c *dispatchCallback) Complete() {
	c.once.Do(func() {
		if c.doneCh != nil {
			c.doneCh <- Completion{DispatchID: c.dispatchID}
		}
	})
}

func (c *dispatchCallback) Failure(err error) {
	c.once.Do(func() {
		if c.doneCh != nil {
			c.doneCh <- Completion{DispatchID: c.dispatchID, Err: err}
		}
	})
}
