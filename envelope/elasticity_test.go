package envelope

import "testing"

func TestJavaStringHasherKnownVectors(t *testing.T) {
	h := JavaStringHasher{}

	cases := []struct {
		in   string
		want uint32
	}{
		{"", 0},
		{"a", 97},
		{"key0", 3288497},
		{"hello", 99162322},
	}

	for _, c := range cases {
		got, err := h.Hash(c.in)
		if err != nil {
			t.Fatalf("Hash(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Hash(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEffectivePartitionFactorOneIsIdentity(t *testing.T) {
	raw := NewPartitionID("sys", "stream", 3)
	e := New(raw, "0", "key0", "v", 1)

	got, err := EffectivePartition(e, 1, JavaStringHasher{})
	if err != nil {
		t.Fatal(err)
	}
	if got != raw {
		t.Fatalf("expected raw partition unchanged, got %v", got)
	}
}

func TestEffectivePartitionKeyTakesPrecedenceOverOffset(t *testing.T) {
	raw := NewPartitionID("sys", "stream", 0)
	withKey := New(raw, "999", "key0", "v", 1)
	withoutKey := New(raw, "key0", nil, "v", 1)

	got1, err := EffectivePartition(withKey, 4, JavaStringHasher{})
	if err != nil {
		t.Fatal(err)
	}
	got2, err := EffectivePartition(withoutKey, 4, JavaStringHasher{})
	if err != nil {
		t.Fatal(err)
	}
	if got1 != got2 {
		t.Fatalf("expected key %q to route the same whether used as key or offset, got %v vs %v", "key0", got1, got2)
	}
}

func TestEffectivePartitionNilKeyAndOffsetRoutesToBucketZero(t *testing.T) {
	raw := NewPartitionID("sys", "stream", 0)
	wm := Watermark(raw, 5)

	got, err := EffectivePartition(wm, 4, JavaStringHasher{})
	if err != nil {
		t.Fatal(err)
	}
	want := raw.WithKeyBucket(0)
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEffectivePartitionIsPure(t *testing.T) {
	raw := NewPartitionID("sys", "stream", 0)
	e := New(raw, "7", "key0", "v", 1)

	a, err := EffectivePartition(e, 3, JavaStringHasher{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := EffectivePartition(e, 3, JavaStringHasher{})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("EffectivePartition is not pure: %v != %v", a, b)
	}
}

func TestEffectivePartitionBucketWithinRange(t *testing.T) {
	raw := NewPartitionID("sys", "stream", 0)
	for _, key := range []string{"a", "bb", "ccc", "dddd", "user-42", ""} {
		e := New(raw, "0", key, "v", 1)
		for factor := 2; factor <= 16; factor++ {
			got, err := EffectivePartition(e, factor, JavaStringHasher{})
			if err != nil {
				t.Fatal(err)
			}
			if !got.HasKeyBucket {
				t.Fatalf("expected key-bucket to be set for factor=%d", factor)
			}
			if got.KeyBucket < 0 || got.KeyBucket >= int32(factor) {
				t.Fatalf("bucket %d out of range [0,%d) for key %q", got.KeyBucket, factor, key)
			}
		}
	}
}

func TestEffectivePartitionXXHasherInRange(t *testing.T) {
	raw := NewPartitionID("sys", "stream", 0)
	e := New(raw, "0", "some-key", "v", 1)

	got, err := EffectivePartition(e, 5, XXHasher{})
	if err != nil {
		t.Fatal(err)
	}
	if got.KeyBucket < 0 || got.KeyBucket >= 5 {
		t.Fatalf("bucket %d out of range", got.KeyBucket)
	}
}
