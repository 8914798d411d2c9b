package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/proto"
	"github.com/wavelink-im/realtime/internal/store"
)

// Gateway validates and routes user-originated messaging actions into room
// broadcasts, coordinating with the persistent store before acknowledging.
type Gateway struct {
	reg   *Registry
	bus   Bus
	store store.Store
	log   *zerolog.Logger
	now   func() time.Time
}

// NewGateway constructs the messaging gateway.
func NewGateway(reg *Registry, bus Bus, st store.Store, logger *zerolog.Logger) *Gateway {
	return &Gateway{
		reg:   reg,
		bus:   bus,
		store: st,
		log:   logger,
		now:   time.Now,
	}
}

// SendMessage durably creates a message and fans it out to the chat room.
// The message_delivered broadcast means "fanned out", not "read".
func (g *Gateway) SendMessage(ctx context.Context, c *Client, data proto.SendMessageData) error {
	room := RoomForChat(data.ChatID)
	if !g.reg.InRoom(c, room) {
		return errForbidden("not a member of this chat")
	}
	if data.Type == "" {
		return errValidation("message type is required")
	}
	if data.Content == "" && data.FileURL == "" {
		return errValidation("message needs text content or a file reference")
	}
	if data.ReplyToID != "" {
		target, err := g.store.GetMessage(ctx, data.ReplyToID)
		if errors.Is(err, store.ErrNotFound) {
			return errNotFound("reply target does not exist")
		}
		if err != nil {
			return fmt.Errorf("resolve reply target: %w", err)
		}
		if target.ChatID != data.ChatID {
			return errValidation("reply target belongs to a different chat")
		}
	}

	msg, err := g.store.CreateMessage(ctx, data.ChatID, c.UserID, store.MessagePayload{
		Type:      data.Type,
		Content:   data.Content,
		FileURL:   data.FileURL,
		ReplyToID: data.ReplyToID,
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	g.publish(ctx, room, Event{Name: proto.OutNewMessage, Data: proto.MessageData{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Content:   msg.Content,
		FileURL:   msg.FileURL,
		ReplyToID: msg.ReplyToID,
		CreatedAt: msg.CreatedAt,
	}}, "")
	g.publish(ctx, room, Event{Name: proto.OutMessageDelivered, Data: proto.MessageDeliveredData{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
	}}, "")
	return nil
}

// MarkRead idempotently records a read marker and broadcasts message_read.
// A repeated call re-publishes the same fact with the original timestamp.
func (g *Gateway) MarkRead(ctx context.Context, c *Client, data proto.MarkReadData) error {
	msg, err := g.store.GetMessage(ctx, data.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound("message does not exist")
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	if _, err := g.store.ChatMembership(ctx, msg.ChatID, c.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errForbidden("not a member of this chat")
		}
		return fmt.Errorf("check membership: %w", err)
	}

	readAt, err := g.store.MarkRead(ctx, msg.ID, msg.ChatID, c.UserID, g.now())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	g.publish(ctx, RoomForChat(msg.ChatID), Event{Name: proto.OutMessageRead, Data: proto.MessageReadData{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		UserID:    c.UserID,
		ReadAt:    readAt,
	}}, "")
	return nil
}

// TypingStart relays user_typing to the chat room, excluding the origin.
// Throttling and the stop debounce are the client's responsibility; consumers
// apply their own display timeout so a lost stop never sticks.
func (g *Gateway) TypingStart(ctx context.Context, c *Client, data proto.ChatRef) error {
	return g.typing(ctx, c, data.ChatID, proto.OutUserTyping)
}

// TypingStop relays user_stopped_typing to the chat room, excluding the origin.
func (g *Gateway) TypingStop(ctx context.Context, c *Client, data proto.ChatRef) error {
	return g.typing(ctx, c, data.ChatID, proto.OutUserStoppedTyping)
}

func (g *Gateway) typing(ctx context.Context, c *Client, chatID, event string) error {
	room := RoomForChat(chatID)
	if !g.reg.InRoom(c, room) {
		return errForbidden("not a member of this chat")
	}
	g.publish(ctx, room, Event{Name: event, Data: proto.TypingData{
		ChatID: chatID,
		UserID: c.UserID,
	}}, c.ID)
	return nil
}

func (g *Gateway) publish(ctx context.Context, roomID string, ev Event, origin string) {
	if err := g.bus.Publish(ctx, roomID, ev, origin); err != nil {
		g.log.Warn().Err(err).Str("room", roomID).Str("event", ev.Name).Msg("bus publish failed")
	}
}
