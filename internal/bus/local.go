package bus

import (
	"context"

	"github.com/wavelink-im/realtime/internal/core"
)

// LocalBus delivers publishes to local subscribers only. It is the degraded
// single-process mode used when the distributed transport is unavailable at
// startup; cross-process delivery guarantees do not hold.
type LocalBus struct {
	deliver core.DeliverFunc
}

// NewLocal constructs the single-process bus.
func NewLocal(deliver core.DeliverFunc) *LocalBus {
	return &LocalBus{deliver: deliver}
}

// Publish hands the event straight to the local delivery sink.
func (b *LocalBus) Publish(_ context.Context, roomID string, ev core.Event, originConnID string) error {
	b.deliver(roomID, ev, originConnID)
	return nil
}

// Subscribe is a no-op: local delivery needs no subscription table beyond
// the registry's own room membership.
func (b *LocalBus) Subscribe(string) error { return nil }

// Unsubscribe is a no-op.
func (b *LocalBus) Unsubscribe(string) error { return nil }
