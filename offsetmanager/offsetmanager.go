// Package offsetmanager provides the OffsetManager contract (spec.md
// §6) and a default in-memory implementation. The offset manager is
// per-container shared state: writes are serialized per (task,
// partition), not behind a single global lock, per the design note in
// spec.md §9.
package offsetmanager

import (
	"sync"
)

// OffsetManager records the latest processed offset per (task,
// partition) and hands back a point-in-time snapshot for a task to
// flush during commit. Implementations must be safe for concurrent
// callers.
type OffsetManager interface {
	// Update records offset as the latest processed offset for
	// (taskName, partition). Safe to call from any goroutine.
	Update(taskName, partition, offset string) error

	// Snapshot returns a copy of the offsets recorded for taskName,
	// keyed by partition string.
	Snapshot(taskName string) map[string]string
}

const shardCount = 32

// InMemoryOffsetManager is the default OffsetManager: a map keyed by
// taskName, split across shardCount shards by a hash of the task name,
// each shard guarded by its own mutex. Writers for different tasks
// contend only when their names hash to the same shard.
type InMemoryOffsetManager struct {
	shards [shardCount]*shard
}

type shard struct {
	mu     sync.Mutex
	byTask map[string]map[string]string
}

func New() *InMemoryOffsetManager {
	m := &InMemoryOffsetManager{}
	for i := range m.shards {
		m.shards[i] = &shard{byTask: make(map[string]map[string]string)}
	}
	return m
}

func (m *InMemoryOffsetManager) shardFor(taskName string) *shard {
	var h uint32
	for i := 0; i < len(taskName); i++ {
		h = h*31 + uint32(taskName[i])
	}
	return m.shards[h%shardCount]
}

func (m *InMemoryOffsetManager) Update(taskName, partition, offset string) error {
	s := m.shardFor(taskName)
	s.mu.Lock()
	defer s.mu.Unlock()

	offsets, ok := s.byTask[taskName]
	if !ok {
		offsets = make(map[string]string)
		s.byTask[taskName] = offsets
	}
	offsets[partition] = offset
	return nil
}

func (m *InMemoryOffsetManager) Snapshot(taskName string) map[string]string {
	s := m.shardFor(taskName)
	s.mu.Lock()
	defer s.mu.Unlock()

	offsets := s.byTask[taskName]
	out := make(map[string]string, len(offsets))
	for k, v := range offsets {
		out[k] = v
	}
	return out
}
