package metrics

import (
	"context"
	"testing"
)

func TestNoopContainerMetricsDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	m := Noop()

	m.IncEnvelopes(ctx)
	m.IncProcesses(ctx)
	m.RecordIdle(ctx, 12.5)
}

func TestNewTaskMetricsFromNoopContainer(t *testing.T) {
	ctx := context.Background()
	tm, err := Noop().NewTaskMetrics("task0")
	if err != nil {
		t.Fatal(err)
	}

	tm.InFlightDelta(ctx, 1)
	tm.InFlightDelta(ctx, -1)
	tm.IncAsyncCallbackCompleted(ctx)
	tm.IncCommits(ctx)
	tm.IncWindows(ctx)
	tm.IncDroppedEnvelopes(ctx)
}

func TestNoopTaskMetricsHelper(t *testing.T) {
	tm := NoopTaskMetrics("task0")
	tm.IncCommits(context.Background())
}
