package task

import (
	"context"

	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/metrics"
	"github.com/chrisbu/taskloop/offsetmanager"
)

// Handle is the capability set the run loop drives on each task:
// process, window, commit, endOfStream, plus introspection the loop
// needs to route envelopes and schedule timers.
type Handle interface {
	// SystemStreamPartitions returns the partitions this task owns. With
	// an elasticity factor above 1, each id carries the key-bucket the
	// task owns, since the loop matches routed envelopes against the
	// key-bucketed id.
	SystemStreamPartitions() []envelope.PartitionID
	IsWindowableTask() bool
	OffsetManager() offsetmanager.OffsetManager
	Metrics() *metrics.TaskMetrics
	TaskName() string

	// Process dispatches a single envelope. The task may complete the
	// callback synchronously, before Process returns, or asynchronously
	// from any goroutine it owns.
	Process(ctx context.Context, env *envelope.Envelope, coord Coordinator, newCallback CallbackFactory)
	Window(ctx context.Context, coord Coordinator)
	Commit(ctx context.Context) error
	EndOfStream(ctx context.Context, coord Coordinator)
}
