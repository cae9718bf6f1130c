package kafkamux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/logger"
	"github.com/chrisbu/taskloop/mux"
)

var _ mux.ConsumerMux = (*Mux)(nil)

// Mux is a mux.ConsumerMux backed by a real *kgo.Client: PollFetches
// fills an internal per-call batch, Choose hands records out of that
// batch one at a time, and refills by polling again once it is drained.
// Choose must only ever be called by the run loop, one call at a time,
// same as ChannelMux — kgo.Client itself tolerates concurrent use, but
// this Mux's batch cursor does not.
type Mux struct {
	client *kgo.Client
	cfg    Config
	log    logger.Logger

	mu      sync.Mutex
	pending []*kgo.Record
	cursor  int

	// eosQueued holds end-of-stream envelopes enqueued via
	// EmitEndOfStream, drained by Choose ahead of any freshly polled
	// record so an explicit EOS signal is never starved by a busy topic.
	eosQueued []*envelope.Envelope
}

// New builds a Mux from a raw *kgo.Client already configured with
// kgo.ConsumerGroup and the topics to subscribe; see NewClient for a
// constructor that does that wiring for you.
func New(client *kgo.Client, cfg Config, log logger.Logger) *Mux {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Mux{client: client, cfg: cfg, log: log}
}

// NewClient builds the underlying *kgo.Client and wraps it in a Mux,
// subscribing to topics under cfg's consumer group.
func NewClient(topics []string, opts ...Option) (*Mux, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(topics...),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.DisableAutoCommit(),
		kgo.WithLogger(newKgoLogger(cfg.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkamux: create client: %w", err)
	}
	return New(client, cfg, cfg.Logger), nil
}

// EmitEndOfStream queues an explicit end-of-stream envelope for
// partition, delivered by the next Choose call ahead of any pending
// Kafka record. Kafka topics have no native end-of-stream signal, so a
// bootstrapper that knows a bounded source has been fully seeded calls
// this once per partition it owns rather than relying on Mux to detect
// it.
func (m *Mux) EmitEndOfStream(partition envelope.PartitionID) {
	m.mu.Lock()
	m.eosQueued = append(m.eosQueued, envelope.EndOfStream(partition))
	m.mu.Unlock()
}

func (m *Mux) Choose(ctx context.Context, block bool) (*envelope.Envelope, error) {
	m.mu.Lock()
	if len(m.eosQueued) > 0 {
		env := m.eosQueued[0]
		m.eosQueued = m.eosQueued[1:]
		m.mu.Unlock()
		return env, nil
	}
	if m.cursor < len(m.pending) {
		r := m.pending[m.cursor]
		m.cursor++
		m.mu.Unlock()
		return recordToEnvelope(m.cfg.System, r), nil
	}
	m.mu.Unlock()

	// block governs how long this call is willing to wait for a
	// record, mirroring ChannelMux: a non-blocking call polls with an
	// already-expired deadline so PollFetches returns whatever is
	// buffered and nothing more, while a blocking call is bounded by the
	// caller's own ctx (the run loop's idle deadline) and, when it is
	// positive, by cfg.PollTimeout, whichever ends first.
	pollCtx := ctx
	var cancel context.CancelFunc
	if !block {
		pollCtx, cancel = context.WithTimeout(ctx, 0)
	} else if m.cfg.PollTimeout > 0 {
		pollCtx, cancel = context.WithTimeout(ctx, m.cfg.PollTimeout)
	}
	if cancel != nil {
		defer cancel()
	}

	fetches := m.client.PollFetches(pollCtx)
	if errs := fetches.Errors(); len(errs) > 0 {
		for _, fe := range errs {
			if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
				continue
			}
			m.log.Error("poll fetch error", "topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
			return nil, fmt.Errorf("kafkamux: poll topic %s partition %d: %w", fe.Topic, fe.Partition, fe.Err)
		}
	}

	records := fetches.Records()
	if len(records) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	m.pending = records
	m.cursor = 1
	m.mu.Unlock()

	return recordToEnvelope(m.cfg.System, records[0]), nil
}

func recordToEnvelope(system string, r *kgo.Record) *envelope.Envelope {
	partition := envelope.NewPartitionID(system, r.Topic, r.Partition)
	offset := strconv.FormatInt(r.Offset, 10)
	env := envelope.New(partition, offset, r.Key, r.Value, len(r.Value))
	return env.WithEventTime(r.Timestamp.UnixMilli())
}

// Close flushes and closes the underlying client.
func (m *Mux) Close() {
	m.client.Close()
}

// Client exposes the underlying *kgo.Client for calls this package does
// not wrap itself.
func (m *Mux) Client() *kgo.Client { return m.client }
