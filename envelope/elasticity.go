package envelope

import (
	"fmt"
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes a deployment-specific hash for a key or offset used
// to route an envelope to a key-bucket. Which hash is "correct" is a
// property of whatever upstream system chose the key in the first
// place — see the doc on EffectivePartition.
type Hasher interface {
	Hash(v any) (uint32, error)
}

// JavaStringHasher reproduces java.lang.String.hashCode() for string
// (and []byte, treated as UTF-8) inputs: s[0]*31^(n-1) + ... + s[n-1],
// computed as a wrapping 32-bit signed integer. This is the default,
// chosen for compatibility with upstream systems that compute
// key-bucket placement the same way the original JVM implementation
// of this run loop did, so routing agrees across a mixed deployment.
type JavaStringHasher struct{}

func (JavaStringHasher) Hash(v any) (uint32, error) {
	s, err := toString(v)
	if err != nil {
		return 0, err
	}
	// Java hashes UTF-16 code units, so characters outside the Basic
	// Multilingual Plane contribute their two surrogate halves.
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return uint32(h), nil
}

// XXHasher hashes the raw bytes of a string/[]byte key with xxhash.
// Use this for deployments whose keys are opaque byte strings with no
// JVM-compatibility requirement; it is faster and better distributed
// than JavaStringHasher but will not agree with a JVM peer's routing.
type XXHasher struct{}

func (XXHasher) Hash(v any) (uint32, error) {
	s, err := toString(v)
	if err != nil {
		return 0, err
	}
	return uint32(xxhash.Sum64String(s)), nil
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return fmt.Sprint(t), nil
	}
}

// DefaultHasher is the Hasher used when none is supplied explicitly.
func DefaultHasher() Hasher {
	return JavaStringHasher{}
}

// EffectivePartition computes the PartitionID an envelope routes to
// under the given elasticity factor, per spec.md §3 "Elasticity
// routing":
//
//   - factor <= 1: the raw partition, unchanged.
//   - otherwise: h = key if non-nil, else offset; if h is also nil
//     (a watermark envelope carries neither), key-bucket 0. An EOS
//     envelope has no key but does carry its reserved offset, so it is
//     hashed like any other offset.
//   - otherwise: key-bucket = (|hash(h)| mod 31) mod factor. The mod-31
//     step spreads a poorly-distributed hash before the final fold.
//
// This is a pure function of its inputs: it does not consult e's
// Offset directly beyond reading it as the hash fallback, and it does
// not special-case end-of-stream or watermark fan-out — that is the
// caller's responsibility (spec.md §3 and §9's Open Question), kept
// out of this function so it stays unit-testable in isolation.
func EffectivePartition(e *Envelope, factor int, hasher Hasher) (PartitionID, error) {
	raw := e.Partition.WithoutKeyBucket()
	if factor <= 1 {
		return raw, nil
	}

	var h any
	switch {
	case e.Key != nil:
		h = e.Key
	case e.Offset != nil:
		h = *e.Offset
	default:
		return raw.WithKeyBucket(0), nil
	}

	if hasher == nil {
		hasher = DefaultHasher()
	}

	hashed, err := hasher.Hash(h)
	if err != nil {
		return PartitionID{}, fmt.Errorf("hash envelope key for elasticity routing: %w", err)
	}

	bucket := int32((abs32(int32(hashed)) % 31) % int32(factor))
	return raw.WithKeyBucket(bucket), nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
