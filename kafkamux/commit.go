package kafkamux

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/chrisbu/taskloop/envelope"
)

// CommitOffsets flushes an offsetmanager.OffsetManager snapshot
// (partition string to decimal offset string, exactly the shape
// OffsetManager.Snapshot returns) to the consumer group via the
// client's typed, asynchronous CommitOffsets call, blocking the caller
// until the broker responds. Intended as a taskexample.Task commit
// function: taskexample.WithCommit(kafkamux.CommitOffsets(mx)).
func CommitOffsets(m *Mux) func(ctx context.Context, snapshot map[string]string) error {
	return func(ctx context.Context, snapshot map[string]string) error {
		if len(snapshot) == 0 {
			return nil
		}

		toCommit := make(map[string]map[int32]kgo.EpochOffset)
		for partitionStr, offsetStr := range snapshot {
			p, err := parsePartitionString(partitionStr)
			if err != nil {
				return fmt.Errorf("kafkamux: commit: %w", err)
			}
			offset, err := strconv.ParseInt(offsetStr, 10, 64)
			if err != nil {
				return fmt.Errorf("kafkamux: commit: parse offset %q for %s: %w", offsetStr, partitionStr, err)
			}

			if _, ok := toCommit[p.Stream]; !ok {
				toCommit[p.Stream] = make(map[int32]kgo.EpochOffset)
			}
			// CommitOffsets commits the next offset to fetch, not the
			// last one processed.
			toCommit[p.Stream][p.Partition] = kgo.EpochOffset{Offset: offset + 1, Epoch: -1}
		}

		onDoneCh := make(chan error, 1)
		onDone := func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, _ *kmsg.OffsetCommitResponse, err error) {
			onDoneCh <- err
		}

		m.client.CommitOffsets(ctx, toCommit, onDone)

		select {
		case err := <-onDoneCh:
			if err != nil {
				return fmt.Errorf("kafkamux: commit offsets: %w", err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parsePartitionString inverts envelope.PartitionID.String() for the
// System.Stream.Partition form this package produces. The worker
// records offsets under each envelope's own partition, and the
// envelopes this package builds never carry a key-bucket; a "#bucket"
// suffix is stripped all the same.
func parsePartitionString(s string) (envelope.PartitionID, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 3 {
		return envelope.PartitionID{}, fmt.Errorf("malformed partition %q", s)
	}
	system := parts[0]
	partitionField := parts[len(parts)-1]
	stream := strings.Join(parts[1:len(parts)-1], ".")

	partitionField = strings.SplitN(partitionField, "#", 2)[0]
	n, err := strconv.ParseInt(partitionField, 10, 32)
	if err != nil {
		return envelope.PartitionID{}, fmt.Errorf("malformed partition %q: %w", s, err)
	}
	return envelope.NewPartitionID(system, stream, int32(n)), nil
}
