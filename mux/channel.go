package mux

import (
	"context"
	"sync"

	"github.com/chrisbu/taskloop/envelope"
)

// ChannelMux is an in-memory ConsumerMux: envelopes are preloaded per
// partition and handed out round-robin across partitions that still
// have queued work, mirroring the round-robin-across-assigned-
// partitions behavior of a real consumer's poll loop. It is the
// ConsumerMux test double used throughout this module's own tests and
// the in-memory demo path.
type ChannelMux struct {
	mu       sync.Mutex
	order    []envelope.PartitionID
	queues   map[envelope.PartitionID][]*envelope.Envelope
	next     int
	notifyCh chan struct{}
}

// NewChannelMux returns an empty ChannelMux. Feed it with AddEnvelopes
// before or during a run loop's lifetime.
func NewChannelMux() *ChannelMux {
	return &ChannelMux{
		queues:   make(map[envelope.PartitionID][]*envelope.Envelope),
		notifyCh: make(chan struct{}, 1),
	}
}

// AddEnvelopes enqueues envs for later delivery, grouped by their
// partition (key-bucket included, if set — callers that want elasticity
// fan-out behavior in tests should push to each key-bucket partition
// explicitly, exactly as a real upstream write would land on one).
func (m *ChannelMux) AddEnvelopes(envs ...*envelope.Envelope) {
	m.mu.Lock()
	for _, e := range envs {
		p := e.Partition
		if _, ok := m.queues[p]; !ok {
			m.order = append(m.order, p)
		}
		m.queues[p] = append(m.queues[p], e)
	}
	m.mu.Unlock()

	select {
	case m.notifyCh <- struct{}{}:
	default:
	}
}

func (m *ChannelMux) Choose(ctx context.Context, block bool) (*envelope.Envelope, error) {
	for {
		m.mu.Lock()
		env := m.tryNextLocked()
		m.mu.Unlock()

		if env != nil {
			return env, nil
		}
		if !block {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notifyCh:
		}
	}
}

// tryNextLocked advances the round-robin cursor until it finds a
// partition with queued work, or concludes there is none.
func (m *ChannelMux) tryNextLocked() *envelope.Envelope {
	n := len(m.order)
	for i := 0; i < n; i++ {
		idx := (m.next + i) % n
		p := m.order[idx]
		q := m.queues[p]
		if len(q) == 0 {
			continue
		}
		env := q[0]
		m.queues[p] = q[1:]
		m.next = (idx + 1) % n
		return env
	}
	return nil
}
