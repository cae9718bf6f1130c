// Package metrics wraps the container metrics surface (spec.md §6):
// container-level envelope/process counters, and per-task in-flight
// gauge and async-callback counters. Built on
// go.opentelemetry.io/otel/metric, mirroring the teacher's
// otel.Telemetry construction pattern — all instruments are noops with
// zero overhead when no MeterProvider is configured.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/chrisbu/taskloop"

// ContainerMetrics holds the container-wide instruments.
type ContainerMetrics struct {
	meter metric.Meter

	envelopes metric.Int64Counter
	processes metric.Int64Counter
	idleMs    metric.Float64Histogram
}

// NewContainerMetrics builds a ContainerMetrics from the given
// provider. A nil provider yields noop instruments.
func NewContainerMetrics(mp metric.MeterProvider) (*ContainerMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(scopeName)

	envelopes, err := meter.Int64Counter(
		"taskloop.container.envelopes",
		metric.WithDescription("Envelopes pulled from the consumer multiplexer"),
	)
	if err != nil {
		return nil, err
	}

	processes, err := meter.Int64Counter(
		"taskloop.container.processes",
		metric.WithDescription("Successful process() completions across all tasks"),
	)
	if err != nil {
		return nil, err
	}

	idleMs, err := meter.Float64Histogram(
		"taskloop.container.idle_ms",
		metric.WithDescription("Time spent blocked in choose() per loop turn"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &ContainerMetrics{meter: meter, envelopes: envelopes, processes: processes, idleMs: idleMs}, nil
}

// Noop returns a ContainerMetrics with every instrument a noop.
func Noop() *ContainerMetrics {
	m, _ := NewContainerMetrics(nil)
	return m
}

func (c *ContainerMetrics) IncEnvelopes(ctx context.Context) {
	c.envelopes.Add(ctx, 1)
}

func (c *ContainerMetrics) IncProcesses(ctx context.Context) {
	c.processes.Add(ctx, 1)
}

func (c *ContainerMetrics) RecordIdle(ctx context.Context, ms float64) {
	c.idleMs.Record(ctx, ms)
}

// NewTaskMetrics builds the per-task instrument set, scoped with a
// "task" attribute so a single container's per-task series are
// distinguishable in the same meter.
func (c *ContainerMetrics) NewTaskMetrics(taskName string) (*TaskMetrics, error) {
	return newTaskMetrics(c.meter, taskName)
}

// TaskMetrics holds the per-task instruments listed in spec.md §6:
// messagesInFlight gauge, asyncCallbackCompleted counter, plus the
// commit/window/dropped counters this module's expanded surface adds.
type TaskMetrics struct {
	taskName string

	messagesInFlight       metric.Int64UpDownCounter
	asyncCallbackCompleted metric.Int64Counter
	commits                metric.Int64Counter
	windows                metric.Int64Counter
	droppedEnvelopes       metric.Int64Counter
}

func newTaskMetrics(meter metric.Meter, taskName string) (*TaskMetrics, error) {
	messagesInFlight, err := meter.Int64UpDownCounter(
		"taskloop.task.messages_in_flight",
		metric.WithDescription("Messages dispatched to the task but not yet completed"),
	)
	if err != nil {
		return nil, err
	}

	asyncCallbackCompleted, err := meter.Int64Counter(
		"taskloop.task.async_callback_completed",
		metric.WithDescription("Callback completions observed for this task"),
	)
	if err != nil {
		return nil, err
	}

	commits, err := meter.Int64Counter(
		"taskloop.task.commits",
		metric.WithDescription("commit() invocations for this task"),
	)
	if err != nil {
		return nil, err
	}

	windows, err := meter.Int64Counter(
		"taskloop.task.windows",
		metric.WithDescription("window() invocations for this task"),
	)
	if err != nil {
		return nil, err
	}

	droppedEnvelopes, err := meter.Int64Counter(
		"taskloop.task.dropped_envelopes",
		metric.WithDescription("Envelopes routed to a key-bucket with no owning task in this container"),
	)
	if err != nil {
		return nil, err
	}

	return &TaskMetrics{
		taskName:               taskName,
		messagesInFlight:       messagesInFlight,
		asyncCallbackCompleted: asyncCallbackCompleted,
		commits:                commits,
		windows:                windows,
		droppedEnvelopes:       droppedEnvelopes,
	}, nil
}

func (t *TaskMetrics) InFlightDelta(ctx context.Context, delta int64) {
	t.messagesInFlight.Add(ctx, delta)
}

func (t *TaskMetrics) IncAsyncCallbackCompleted(ctx context.Context) {
	t.asyncCallbackCompleted.Add(ctx, 1)
}

func (t *TaskMetrics) IncCommits(ctx context.Context) {
	t.commits.Add(ctx, 1)
}

func (t *TaskMetrics) IncWindows(ctx context.Context) {
	t.windows.Add(ctx, 1)
}

func (t *TaskMetrics) IncDroppedEnvelopes(ctx context.Context) {
	t.droppedEnvelopes.Add(ctx, 1)
}

// NoopTaskMetrics returns a TaskMetrics with every instrument a noop.
func NoopTaskMetrics(taskName string) *TaskMetrics {
	m, _ := Noop().NewTaskMetrics(taskName)
	return m
}
