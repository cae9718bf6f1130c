// Package mux defines the ConsumerMux contract the run loop pulls
// envelopes from, plus ChannelMux, an in-memory implementation used by
// tests and the in-memory demo path.
package mux

import (
	"context"

	"github.com/chrisbu/taskloop/envelope"
)

// ConsumerMux is the external fetch source the run loop polls each
// turn. Choose blocks up to an implementation-defined bound when block
// is true and nothing is ready. It must be called only by the run loop,
// one call at a time: the loop waits for each call to return before it
// issues the next.
type ConsumerMux interface {
	Choose(ctx context.Context, block bool) (*envelope.Envelope, error)
}
