package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/core"
	"github.com/wavelink-im/realtime/internal/proto"
	"github.com/wavelink-im/realtime/internal/store/memory"
)

type published struct {
	Room  string
	Event core.Event
}

// recordingBus captures publishes for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBus) Publish(_ context.Context, roomID string, ev core.Event, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{Room: roomID, Event: ev})
	return nil
}

func (b *recordingBus) Subscribe(string) error   { return nil }
func (b *recordingBus) Unsubscribe(string) error { return nil }

func (b *recordingBus) named(name string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.events {
		if p.Event.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func newTestTracker(st *memory.Store) (*Tracker, *recordingBus) {
	logger := zerolog.Nop()
	rec := &recordingBus{}
	return NewTracker(NewLocal(), st, rec, &logger), rec
}

func TestTrackerOnlineTransitionBroadcastsOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.AddChat("x", "alice", "bob", "carol")
	tracker, rec := newTestTracker(st)

	if err := tracker.MarkOnline(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.MarkOnline(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	events := rec.named(proto.OutUserOnline)
	if len(events) != 2 {
		t.Fatalf("user_online publishes = %d, want one per relevant peer", len(events))
	}
	rooms := map[string]bool{}
	for _, p := range events {
		rooms[p.Room] = true
		if p.Event.Data.(proto.UserOnlineData).UserID != "alice" {
			t.Fatalf("unexpected payload: %+v", p.Event.Data)
		}
	}
	if !rooms[core.RoomForUser("bob")] || !rooms[core.RoomForUser("carol")] {
		t.Fatalf("broadcast rooms = %v", rooms)
	}
}

func TestTrackerOfflineOnLastDisconnect(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.AddChat("x", "alice", "bob")
	tracker, rec := newTestTracker(st)

	tracker.MarkOnline(ctx, "alice")
	tracker.MarkOnline(ctx, "alice")

	if _, err := tracker.MarkOffline(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if got := rec.named(proto.OutUserOffline); len(got) != 0 {
		t.Fatalf("user_offline published before last disconnect: %d", len(got))
	}
	if online, _ := tracker.IsOnline(ctx, "alice"); !online {
		t.Fatal("user went offline with one connection still live")
	}

	lastSeen, err := tracker.MarkOffline(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	events := rec.named(proto.OutUserOffline)
	if len(events) != 1 {
		t.Fatalf("user_offline publishes = %d, want 1", len(events))
	}
	data := events[0].Event.Data.(proto.UserOfflineData)
	if data.UserID != "alice" || !data.LastSeen.Equal(lastSeen) {
		t.Fatalf("unexpected user_offline payload: %+v", data)
	}

	if persisted, ok := st.LastSeen("alice"); !ok || !persisted.Equal(lastSeen) {
		t.Fatalf("last seen not persisted: %v (%v)", persisted, ok)
	}
	if online, _ := tracker.IsOnline(ctx, "alice"); online {
		t.Fatal("user still online after last disconnect")
	}
}

func TestTrackerSharedSetAcrossProcesses(t *testing.T) {
	// Two trackers sharing one online set stand in for two server processes
	// sharing the distributed store.
	ctx := context.Background()
	st := memory.New()
	logger := zerolog.Nop()
	shared := NewLocal()
	p1 := NewTracker(shared, st, &recordingBus{}, &logger)
	p2 := NewTracker(shared, st, &recordingBus{}, &logger)

	p1.MarkOnline(ctx, "alice")
	p2.MarkOnline(ctx, "alice")

	p1.MarkOffline(ctx, "alice")
	if online, _ := p2.IsOnline(ctx, "alice"); !online {
		t.Fatal("user should stay online while the other process holds a connection")
	}

	p2.MarkOffline(ctx, "alice")
	if online, _ := p1.IsOnline(ctx, "alice"); online {
		t.Fatal("user should be offline after both processes disconnect")
	}
}

// failingPeerStore wraps the memory store with a broken peer lookup.
type failingPeerStore struct {
	*memory.Store
}

func (s *failingPeerStore) RelevantPeerIDs(context.Context, string) ([]string, error) {
	return nil, errors.New("store unavailable")
}

func TestRelevantPeersBestEffort(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	rec := &recordingBus{}
	tracker := NewTracker(NewLocal(), &failingPeerStore{memory.New()}, rec, &logger)

	if peers := tracker.RelevantPeers(ctx, "alice"); len(peers) != 0 {
		t.Fatalf("peer lookup failure must yield an empty set, got %v", peers)
	}

	// The disconnect path still completes cleanly.
	tracker.MarkOnline(ctx, "alice")
	if _, err := tracker.MarkOffline(ctx, "alice"); err != nil {
		t.Fatalf("disconnect failed on peer lookup error: %v", err)
	}
}
