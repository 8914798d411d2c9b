package core

import (
	"context"
	"testing"

	"github.com/wavelink-im/realtime/internal/proto"
)

func TestJoinChatThenReceiveMessages(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	bob := th.connect("bob")

	th.join(t, alice, "x")
	th.join(t, bob, "x")

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "hi",
	})

	ev := mustEvent(t, bob, proto.OutNewMessage)
	msg := ev.Data.(proto.MessageData)
	if msg.ChatID != "x" || msg.SenderID != "alice" || msg.Content != "hi" {
		t.Fatalf("unexpected message event: %+v", msg)
	}
}

func TestJoinChatUnauthorizedRefused(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice")

	mallory := th.connect("mallory")
	th.dispatch(t, mallory, proto.InJoinChat, proto.ChatRef{ChatID: "x"})

	mustError(t, mallory, ErrCodeForbidden)
	noEvent(t, mallory, proto.OutJoinedChat)
}

func TestLeaveChatStopsDelivery(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	bob := th.connect("bob")
	th.join(t, alice, "x")
	th.join(t, bob, "x")

	th.dispatch(t, bob, proto.InLeaveChat, proto.ChatRef{ChatID: "x"})
	mustEvent(t, bob, proto.OutLeftChat)

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "gone?",
	})
	noEvent(t, bob, proto.OutNewMessage)
}

func TestRoomIsolation(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("c1", "alice", "bob")
	th.store.AddChat("c2", "alice", "carol")

	alice := th.connect("alice")
	carol := th.connect("carol")
	th.join(t, alice, "c1")
	th.join(t, carol, "c2")

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "c1", Type: "TEXT", Content: "secret",
	})

	// carol joined c2 but not c1; the c1 message must never reach her.
	noEvent(t, carol, proto.OutNewMessage)
}

func TestUnknownEventProducesError(t *testing.T) {
	th := newTestHub(t)
	alice := th.connect("alice")

	th.hub.Dispatch(context.Background(), alice, proto.Inbound{Event: "warp_drive"})
	mustError(t, alice, ErrCodeValidation)
}

func TestMalformedPayloadProducesError(t *testing.T) {
	th := newTestHub(t)
	alice := th.connect("alice")

	th.hub.Dispatch(context.Background(), alice, proto.Inbound{
		Event: proto.InSendMessage,
		Data:  []byte(`{"chatId": 42}`),
	})
	mustError(t, alice, ErrCodeValidation)
}

func TestAutoJoinUserRoom(t *testing.T) {
	th := newTestHub(t)
	alice := th.connect("alice")

	// Events published to the per-user room reach the connection without any
	// explicit join.
	th.hub.bus.Publish(context.Background(), RoomForUser("alice"),
		Event{Name: proto.OutUserOnline, Data: proto.UserOnlineData{UserID: "bob"}}, "")

	ev := mustEvent(t, alice, proto.OutUserOnline)
	if ev.Data.(proto.UserOnlineData).UserID != "bob" {
		t.Fatalf("unexpected payload: %+v", ev.Data)
	}
}

func TestDisconnectRunsPresenceOnce(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	bob := th.connect("bob")

	// Duplicate disconnect signals for the same connection must emit exactly
	// one user_offline to each relevant peer.
	ctx := context.Background()
	th.hub.Disconnect(ctx, alice)
	th.hub.Disconnect(ctx, alice)

	mustEvent(t, bob, proto.OutUserOffline)
	noEvent(t, bob, proto.OutUserOffline)

	if _, ok := th.store.LastSeen("alice"); !ok {
		t.Fatal("last seen not persisted on disconnect")
	}
}

func TestPresenceBroadcastOnConnect(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	bob := th.connect("bob")
	_ = th.connect("alice")

	ev := mustEvent(t, bob, proto.OutUserOnline)
	if ev.Data.(proto.UserOnlineData).UserID != "alice" {
		t.Fatalf("unexpected user_online payload: %+v", ev.Data)
	}
}

func TestSecondConnectionNoDuplicateOnline(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	bob := th.connect("bob")
	first := th.connect("alice")
	mustEvent(t, bob, proto.OutUserOnline)

	second := th.connect("alice")
	noEvent(t, bob, proto.OutUserOnline)

	// Closing one of two devices keeps the user online.
	th.hub.Disconnect(context.Background(), first)
	noEvent(t, bob, proto.OutUserOffline)

	th.hub.Disconnect(context.Background(), second)
	mustEvent(t, bob, proto.OutUserOffline)
}
