package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/proto"
	"github.com/wavelink-im/realtime/internal/store"
	"github.com/wavelink-im/realtime/internal/store/memory"
	"github.com/wavelink-im/realtime/internal/utils"
)

// deliveryBus implements Bus by handing publishes straight to the registry's
// delivery sink, the single-process shape the selected transport collapses to.
type deliveryBus struct {
	deliver DeliverFunc
}

func (b *deliveryBus) Publish(_ context.Context, roomID string, ev Event, origin string) error {
	b.deliver(roomID, ev, origin)
	return nil
}

func (b *deliveryBus) Subscribe(string) error   { return nil }
func (b *deliveryBus) Unsubscribe(string) error { return nil }

// countingTracker implements Presence over an in-process connection count,
// broadcasting the same offline->online and online->offline transitions the
// production tracker does.
type countingTracker struct {
	store store.Store
	bus   Bus
	now   func() time.Time

	mu    sync.Mutex
	conns map[string]int
}

func newCountingTracker(st store.Store, bus Bus) *countingTracker {
	return &countingTracker{
		store: st,
		bus:   bus,
		now:   time.Now,
		conns: make(map[string]int),
	}
}

func (t *countingTracker) MarkOnline(ctx context.Context, userID string) error {
	t.mu.Lock()
	t.conns[userID]++
	first := t.conns[userID] == 1
	t.mu.Unlock()

	if first {
		t.notifyPeers(ctx, userID, Event{Name: proto.OutUserOnline, Data: proto.UserOnlineData{
			UserID: userID,
		}})
	}
	return nil
}

func (t *countingTracker) MarkOffline(ctx context.Context, userID string) (time.Time, error) {
	lastSeen := t.now()
	t.mu.Lock()
	t.conns[userID]--
	last := t.conns[userID] <= 0
	if last {
		delete(t.conns, userID)
	}
	t.mu.Unlock()

	if !last {
		return lastSeen, nil
	}
	if err := t.store.SetLastSeen(ctx, userID, lastSeen); err != nil {
		return lastSeen, err
	}
	t.notifyPeers(ctx, userID, Event{Name: proto.OutUserOffline, Data: proto.UserOfflineData{
		UserID:   userID,
		LastSeen: lastSeen,
	}})
	return lastSeen, nil
}

func (t *countingTracker) IsOnline(_ context.Context, userID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID] > 0, nil
}

func (t *countingTracker) notifyPeers(ctx context.Context, userID string, ev Event) {
	peers, err := t.store.RelevantPeerIDs(ctx, userID)
	if err != nil {
		return
	}
	for _, peer := range peers {
		if peer == userID {
			continue
		}
		t.bus.Publish(ctx, RoomForUser(peer), ev, "")
	}
}

// testHub wires a hub over the in-memory store, a direct-delivery bus and a
// connection-counting presence double.
type testHub struct {
	hub   *Hub
	store *memory.Store
	reg   *Registry
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	logger := zerolog.Nop()
	st := memory.New()
	reg := NewRegistry(&logger)
	fanout := &deliveryBus{deliver: reg.Deliver}
	reg.Bind(fanout)
	tracker := newCountingTracker(st, fanout)
	hub := NewHub(reg, fanout, st, tracker, &logger)

	return &testHub{hub: hub, store: st, reg: reg}
}

// connect registers a fresh connection for userID.
func (th *testHub) connect(userID string) *Client {
	c := NewClient(utils.NewID(), userID)
	th.hub.Connect(context.Background(), c)
	return c
}

// dispatch feeds one inbound event through the hub, the way the ws read
// loop would.
func (th *testHub) dispatch(t *testing.T, c *Client, event string, data any) {
	t.Helper()

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", event, err)
		}
		raw = b
	}
	th.hub.Dispatch(context.Background(), c, proto.Inbound{Event: event, Data: raw})
}

// join subscribes the connection to a chat and consumes the ack.
func (th *testHub) join(t *testing.T, c *Client, chatID string) {
	t.Helper()
	th.dispatch(t, c, proto.InJoinChat, proto.ChatRef{ChatID: chatID})
	mustEvent(t, c, proto.OutJoinedChat)
}

// mustEvent waits for the next event with the given name, skipping unrelated
// events delivered in between.
func mustEvent(t *testing.T, c *Client, name string) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event %q not received", name)
			return Event{}
		}
	}
}

// noEvent asserts that no event with the given name is delivered.
func noEvent(t *testing.T, c *Client, name string) {
	t.Helper()

	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-c.Events:
			if ev.Name == name {
				t.Fatalf("unexpected event %q: %+v", name, ev.Data)
			}
		case <-timeout:
			return
		}
	}
}

// mustError waits for a scoped error event with the given code.
func mustError(t *testing.T, c *Client, code string) {
	t.Helper()

	ev := mustEvent(t, c, proto.OutError)
	data, ok := ev.Data.(proto.ErrorData)
	if !ok {
		t.Fatalf("error event carries %T, want proto.ErrorData", ev.Data)
	}
	if data.Code != code {
		t.Fatalf("error code = %q, want %q (message: %s)", data.Code, code, data.Message)
	}
}
