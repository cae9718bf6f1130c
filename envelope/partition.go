package envelope

import "strconv"

// PartitionID identifies a single addressable shard of an input
// stream: the (system, stream, partition) triple, plus an optional
// key-bucket sub-index used when elasticity is enabled.
//
// Two PartitionIDs are equal iff all four fields match. An absent
// KeyBucket is distinct from KeyBucket=0: HasKeyBucket must also
// agree for two ids to be equal.
type PartitionID struct {
	System       string
	Stream       string
	Partition    int32
	KeyBucket    int32
	HasKeyBucket bool
}

// NewPartitionID builds a PartitionID without a key-bucket.
func NewPartitionID(system, stream string, partition int32) PartitionID {
	return PartitionID{System: system, Stream: stream, Partition: partition}
}

// WithKeyBucket returns a copy of p scoped to the given key-bucket.
func (p PartitionID) WithKeyBucket(bucket int32) PartitionID {
	p.KeyBucket = bucket
	p.HasKeyBucket = true
	return p
}

// WithoutKeyBucket returns a copy of p with the key-bucket cleared,
// i.e. the raw (system, stream, partition) this id is a sub-index of.
func (p PartitionID) WithoutKeyBucket() PartitionID {
	p.KeyBucket = 0
	p.HasKeyBucket = false
	return p
}

// SameRawPartition reports whether p and other share the same
// underlying (system, stream, partition), ignoring key-bucket.
func (p PartitionID) SameRawPartition(other PartitionID) bool {
	return p.System == other.System && p.Stream == other.Stream && p.Partition == other.Partition
}

func (p PartitionID) String() string {
	s := p.System + "." + p.Stream + "." + strconv.FormatInt(int64(p.Partition), 10)
	if p.HasKeyBucket {
		s += "#" + strconv.FormatInt(int64(p.KeyBucket), 10)
	}
	return s
}
