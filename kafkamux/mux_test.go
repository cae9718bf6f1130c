package kafkamux

import (
	"context"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chrisbu/taskloop/envelope"
)

func TestRecordToEnvelopeCarriesOffsetAndEventTime(t *testing.T) {
	r := &kgo.Record{
		Topic:     "orders",
		Partition: 3,
		Offset:    42,
		Key:       []byte("k1"),
		Value:     []byte("v1"),
		Timestamp: time.UnixMilli(1234),
	}

	env := recordToEnvelope("kafka", r)
	if env.Partition != envelope.NewPartitionID("kafka", "orders", 3) {
		t.Fatalf("unexpected partition: %v", env.Partition)
	}
	if env.Offset == nil || *env.Offset != "42" {
		t.Fatalf("expected offset \"42\", got %v", env.Offset)
	}
	if env.EventTime != 1234 {
		t.Fatalf("expected EventTime 1234, got %d", env.EventTime)
	}
	if string(env.Message.([]byte)) != "v1" {
		t.Fatalf("expected message v1, got %v", env.Message)
	}
}

func TestEmitEndOfStreamIsDeliveredAheadOfPolling(t *testing.T) {
	m := New(nil, defaultConfig(), nil)
	p := envelope.NewPartitionID("kafka", "orders", 0)
	m.EmitEndOfStream(p)

	env, err := m.Choose(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !env.IsEndOfStream() {
		t.Fatalf("expected an end-of-stream envelope, got %+v", env)
	}
	if env.Partition != p {
		t.Fatalf("expected partition %v, got %v", p, env.Partition)
	}
}

func TestChooseDrainsBufferedBatchBeforeRepolling(t *testing.T) {
	m := New(nil, defaultConfig(), nil)
	m.pending = []*kgo.Record{
		{Topic: "orders", Partition: 0, Offset: 1, Value: []byte("a")},
		{Topic: "orders", Partition: 0, Offset: 2, Value: []byte("b")},
	}

	first, err := m.Choose(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if *first.Offset != "1" {
		t.Fatalf("expected offset 1 first, got %v", first.Offset)
	}

	second, err := m.Choose(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if *second.Offset != "2" {
		t.Fatalf("expected offset 2 second, got %v", second.Offset)
	}
}
