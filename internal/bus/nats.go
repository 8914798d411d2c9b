package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/core"
)

// NATSBus fans events out over NATS subjects, one subject per room. Every
// process subscribes to the rooms its local connections joined, so a publish
// reaches subscribed connections regardless of which process holds them.
// Delivery is at-least-once; downstream handlers are idempotent on message ids.
type NATSBus struct {
	nc      *nats.Conn
	deliver core.DeliverFunc
	log     *zerolog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATS wraps an established NATS connection. deliver is the local sink
// room events are drained into; the publisher's own process receives its
// publishes through its subscription like any other process.
func NewNATS(nc *nats.Conn, deliver core.DeliverFunc, logger *zerolog.Logger) *NATSBus {
	return &NATSBus{
		nc:      nc,
		deliver: deliver,
		log:     logger,
		subs:    make(map[string]*nats.Subscription),
	}
}

// Publish broadcasts an event to every subscribed process.
func (b *NATSBus) Publish(_ context.Context, roomID string, ev core.Event, originConnID string) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	payload, err := json.Marshal(envelope{
		Room:   roomID,
		Event:  ev.Name,
		Data:   data,
		Origin: originConnID,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.nc.Publish(subjectForRoom(roomID), payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe starts draining a room's subject into the local delivery sink.
func (b *NATSBus) Subscribe(roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[roomID]; ok {
		return nil
	}
	sub, err := b.nc.Subscribe(subjectForRoom(roomID), b.handle)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	b.subs[roomID] = sub
	return nil
}

// Unsubscribe stops draining a room's subject.
func (b *NATSBus) Unsubscribe(roomID string) error {
	b.mu.Lock()
	sub, ok := b.subs[roomID]
	delete(b.subs, roomID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}

// Close drops all subscriptions. The NATS connection itself is owned by the
// caller that established it.
func (b *NATSBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Warn().Err(err).Str("room", roomID).Msg("unsubscribe on close failed")
		}
		delete(b.subs, roomID)
	}
}

func (b *NATSBus) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("invalid bus envelope")
		return
	}
	b.deliver(env.Room, core.Event{Name: env.Event, Data: env.Data}, env.Origin)
}
