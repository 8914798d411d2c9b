package core

import (
	"testing"

	"github.com/wavelink-im/realtime/internal/proto"
)

func TestSendMessageFanout(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	bob := th.connect("bob")
	th.join(t, alice, "x")
	th.join(t, bob, "x")

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "hi",
	})

	got := mustEvent(t, bob, proto.OutNewMessage).Data.(proto.MessageData)
	own := mustEvent(t, alice, proto.OutNewMessage).Data.(proto.MessageData)
	if got.ID == "" || got.ID != own.ID {
		t.Fatalf("message ids differ: sender %q, peer %q", own.ID, got.ID)
	}

	delivered := mustEvent(t, alice, proto.OutMessageDelivered).Data.(proto.MessageDeliveredData)
	if delivered.MessageID != got.ID || delivered.ChatID != "x" {
		t.Fatalf("unexpected message_delivered: %+v", delivered)
	}

	// Each connection sees the message exactly once.
	noEvent(t, bob, proto.OutNewMessage)
	noEvent(t, alice, proto.OutNewMessage)
}

func TestSendMessageRequiresRoomMembership(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	// Member of the chat, but never joined the room on this connection.
	alice := th.connect("alice")
	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "hi",
	})
	mustError(t, alice, ErrCodeForbidden)
}

func TestSendMessageNeedsContentOrFile(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	th.join(t, alice, "x")

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{ChatID: "x", Type: "TEXT"})
	mustError(t, alice, ErrCodeValidation)

	// A file reference alone is a valid payload.
	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "IMAGE", FileURL: "https://cdn.example.com/pic.png",
	})
	mustEvent(t, alice, proto.OutNewMessage)
}

func TestReplyTargetMustBeSameChat(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")
	th.store.AddChat("y", "alice", "bob")

	alice := th.connect("alice")
	th.join(t, alice, "x")
	th.join(t, alice, "y")

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "y", Type: "TEXT", Content: "original",
	})
	original := mustEvent(t, alice, proto.OutNewMessage).Data.(proto.MessageData)

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "cross-chat reply", ReplyToID: original.ID,
	})
	mustError(t, alice, ErrCodeValidation)

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "reply", ReplyToID: "no-such-message",
	})
	mustError(t, alice, ErrCodeNotFound)
}

func TestMarkReadIdempotent(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	bob := th.connect("bob")
	th.join(t, alice, "x")
	th.join(t, bob, "x")

	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "read me",
	})
	msg := mustEvent(t, bob, proto.OutNewMessage).Data.(proto.MessageData)

	th.dispatch(t, bob, proto.InMarkRead, proto.MarkReadData{MessageID: msg.ID})
	first := mustEvent(t, alice, proto.OutMessageRead).Data.(proto.MessageReadData)
	if first.MessageID != msg.ID || first.UserID != "bob" {
		t.Fatalf("unexpected message_read: %+v", first)
	}

	// The second call is a no-op publish of the same fact.
	th.dispatch(t, bob, proto.InMarkRead, proto.MarkReadData{MessageID: msg.ID})
	second := mustEvent(t, alice, proto.OutMessageRead).Data.(proto.MessageReadData)
	if !second.ReadAt.Equal(first.ReadAt) {
		t.Fatalf("read timestamps differ: %v vs %v", first.ReadAt, second.ReadAt)
	}
}

func TestMarkReadRequiresMembership(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	th.join(t, alice, "x")
	th.dispatch(t, alice, proto.InSendMessage, proto.SendMessageData{
		ChatID: "x", Type: "TEXT", Content: "private",
	})
	msg := mustEvent(t, alice, proto.OutNewMessage).Data.(proto.MessageData)

	mallory := th.connect("mallory")
	th.dispatch(t, mallory, proto.InMarkRead, proto.MarkReadData{MessageID: msg.ID})
	mustError(t, mallory, ErrCodeForbidden)
}

func TestTypingExcludesOrigin(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	alice := th.connect("alice")
	bob := th.connect("bob")
	th.join(t, alice, "x")
	th.join(t, bob, "x")

	th.dispatch(t, alice, proto.InTypingStart, proto.ChatRef{ChatID: "x"})
	typing := mustEvent(t, bob, proto.OutUserTyping).Data.(proto.TypingData)
	if typing.UserID != "alice" || typing.ChatID != "x" {
		t.Fatalf("unexpected user_typing: %+v", typing)
	}
	noEvent(t, alice, proto.OutUserTyping)

	th.dispatch(t, alice, proto.InTypingStop, proto.ChatRef{ChatID: "x"})
	mustEvent(t, bob, proto.OutUserStoppedTyping)
	noEvent(t, alice, proto.OutUserStoppedTyping)
}

func TestTypingRequiresRoomMembership(t *testing.T) {
	th := newTestHub(t)
	th.store.AddChat("x", "alice", "bob")

	mallory := th.connect("mallory")
	th.dispatch(t, mallory, proto.InTypingStart, proto.ChatRef{ChatID: "x"})
	mustError(t, mallory, ErrCodeForbidden)
}
