package bus

import (
	"context"
	"testing"

	"github.com/wavelink-im/realtime/internal/core"
)

func TestSubjectForRoom(t *testing.T) {
	cases := map[string]string{
		"room:chat:42":    "fanout.room.chat.42",
		"room:user:alice": "fanout.room.user.alice",
	}
	for roomID, want := range cases {
		if got := subjectForRoom(roomID); got != want {
			t.Errorf("subjectForRoom(%q) = %q, want %q", roomID, got, want)
		}
	}
}

func TestLocalBusDeliversToSink(t *testing.T) {
	type delivery struct {
		room   string
		ev     core.Event
		origin string
	}
	var got []delivery
	b := NewLocal(func(roomID string, ev core.Event, origin string) {
		got = append(got, delivery{roomID, ev, origin})
	})

	ev := core.Event{Name: "user_typing", Data: map[string]string{"chatId": "x"}}
	if err := b.Publish(context.Background(), "room:chat:x", ev, "conn-1"); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].room != "room:chat:x" || got[0].ev.Name != "user_typing" || got[0].origin != "conn-1" {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
}
