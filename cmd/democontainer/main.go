// Command democontainer bootstraps a single-threaded run loop container
// over either the in-memory ChannelMux (for a quick local smoke run) or
// a real Kafka cluster via kafkamux, wiring one taskexample.Task per
// input partition the way a real container's job-coordinator-assigned
// task set would.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/kafkamux"
	"github.com/chrisbu/taskloop/logger"
	"github.com/chrisbu/taskloop/metrics"
	"github.com/chrisbu/taskloop/mux"
	"github.com/chrisbu/taskloop/plugins/zaplogger"
	"github.com/chrisbu/taskloop/runloop"
	"github.com/chrisbu/taskloop/task"
	"github.com/chrisbu/taskloop/taskexample"
)

func main() {
	source := flag.String("source", "memory", "envelope source: memory or kafka")
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka bootstrap servers")
	topic := flag.String("topic", "orders", "Kafka topic to consume (kafka source only)")
	group := flag.String("group", "taskloop-demo", "Kafka consumer group (kafka source only)")
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zaplogger.New(zl)

	switch *source {
	case "memory":
		runMemoryDemo(log)
	case "kafka":
		runKafkaDemo(log, *brokers, *topic, *group)
	default:
		fmt.Fprintln(os.Stderr, "unknown -source:", *source, "(want memory or kafka)")
		os.Exit(1)
	}
}

// runMemoryDemo drives a handful of hand-fed envelopes through a single
// uppercasing task over ChannelMux, printing each result, then lets the
// end-of-stream sentinel bring the loop down cleanly.
func runMemoryDemo(log logger.Logger) {
	partition := envelope.NewPartitionID("memory", "greetings", 0)
	cm := mux.NewChannelMux()

	tk := taskexample.New("uppercaser", []envelope.PartitionID{partition},
		func(ctx context.Context, msg any) (any, error) {
			s, _ := msg.(string)
			return fmt.Sprintf("%s!", strings.ToUpper(s)), nil
		},
		taskexample.WithSink(printSink{}),
		taskexample.WithLogger(log),
	)

	cm.AddEnvelopes(
		envelope.New(partition, "0", nil, "hello", 5),
		envelope.New(partition, "1", nil, "world", 5),
		envelope.EndOfStream(partition),
	)

	rl := runloop.New(map[string]task.Handle{"uppercaser": tk}, cm,
		runloop.WithLogger(log),
		runloop.WithContainerMetrics(metrics.Noop()),
	)

	if err := rl.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "run loop exited with error:", err)
		os.Exit(1)
	}
}

// runKafkaDemo consumes topic under group and logs the value of every
// record from partition 0 (records of other partitions have no owning
// task and are dropped), committing offsets back to the group every
// commit interval. It runs until SIGINT/SIGTERM; on that signal the run
// loop returns at once, without waiting for in-flight work to drain.
func runKafkaDemo(log logger.Logger, brokerCSV, topic, group string) {
	mx, err := kafkamux.NewClient([]string{topic},
		kafkamux.WithBootstrapServers(splitCSV(brokerCSV)...),
		kafkamux.WithGroupID(group),
		kafkamux.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build kafka mux:", err)
		os.Exit(1)
	}
	defer mx.Close()

	partition := envelope.NewPartitionID("kafka", topic, 0)
	tk := taskexample.New("logger", []envelope.PartitionID{partition},
		func(ctx context.Context, msg any) (any, error) {
			log.Info("consumed record", "value", string(msg.([]byte)))
			return nil, nil
		},
		taskexample.WithCommit(kafkamux.CommitOffsets(mx)),
		taskexample.WithLogger(log),
	)

	rl := runloop.New(map[string]task.Handle{"logger": tk}, mx,
		runloop.WithLogger(log),
		runloop.WithContainerMetrics(metrics.Noop()),
		runloop.WithCommitInterval(5000),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rl.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "run loop exited with error:", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// printSink prints every task result to stdout; used only by the
// in-memory demo path.
type printSink struct{}

func (printSink) Send(ctx context.Context, name string, env *envelope.Envelope, result any) {
	fmt.Println(result)
}
