package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/proto"
	"github.com/wavelink-im/realtime/internal/store"
)

// Hub routes inbound client events to the messaging gateway and the call
// manager through an explicit dispatch table. Every handler is independently
// wrapped for error isolation: a failure or panic in one event never
// terminates the connection or affects other connections.
type Hub struct {
	reg      *Registry
	bus      Bus
	store    store.Store
	presence Presence
	gateway  *Gateway
	calls    *CallManager
	log      *zerolog.Logger

	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, c *Client, data []byte) error

// NewHub wires the session registry, gateway and call manager together.
func NewHub(reg *Registry, bus Bus, st store.Store, pres Presence, logger *zerolog.Logger) *Hub {
	h := &Hub{
		reg:      reg,
		bus:      bus,
		store:    st,
		presence: pres,
		gateway:  NewGateway(reg, bus, st, logger),
		calls:    NewCallManager(bus, st, logger),
		log:      logger,
	}
	h.handlers = map[string]handlerFunc{
		proto.InJoinChat:     decode(h.joinChat),
		proto.InLeaveChat:    decode(h.leaveChat),
		proto.InSendMessage:  decode(h.gateway.SendMessage),
		proto.InTypingStart:  decode(h.gateway.TypingStart),
		proto.InTypingStop:   decode(h.gateway.TypingStop),
		proto.InMarkRead:     decode(h.gateway.MarkRead),
		proto.InCallInitiate: decode(h.calls.Initiate),
		proto.InCallAccept:   decode(h.calls.Accept),
		proto.InCallReject:   decode(h.calls.Reject),
		proto.InCallEnd:      decode(h.calls.End),
		proto.InCallOffer:    decode(h.calls.RelayOffer),
		proto.InCallAnswer:   decode(h.calls.RelayAnswer),
		proto.InIceCandidate: decode(h.calls.RelayIceCandidate),
	}
	return h
}

// Connect registers an authenticated connection and marks its user online.
func (h *Hub) Connect(ctx context.Context, c *Client) {
	h.reg.Register(c)
	if err := h.presence.MarkOnline(ctx, c.UserID); err != nil {
		h.log.Warn().Err(err).Str("user_id", c.UserID).Msg("mark online failed")
	}
	h.log.Debug().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("connection registered")
}

// Disconnect tears the connection down. The presence path runs exactly once
// even under concurrent duplicate disconnect signals, and is detached from
// the connection's context so in-flight durable writes still complete.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	if !h.reg.Unregister(c) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := h.presence.MarkOffline(ctx, c.UserID); err != nil {
		h.log.Warn().Err(err).Str("user_id", c.UserID).Msg("mark offline failed")
	}
	h.log.Debug().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("connection unregistered")
}

// Dispatch runs the handler for one inbound event. Domain errors become a
// scoped error event on the originating connection; panics are recovered and
// reported the same way.
func (h *Hub) Dispatch(ctx context.Context, c *Client, in proto.Inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error().Interface("panic", rec).Str("event", in.Event).Str("conn_id", c.ID).Msg("handler panic")
			h.sendError(c, &CoreError{Code: ErrCodeInternal, Message: "internal error"})
		}
	}()

	handler, ok := h.handlers[in.Event]
	if !ok {
		h.sendError(c, errValidation(fmt.Sprintf("unknown event %q", in.Event)))
		return
	}
	if err := handler(ctx, c, in.Data); err != nil {
		var ce *CoreError
		if !errors.As(err, &ce) {
			h.log.Error().Err(err).Str("event", in.Event).Str("conn_id", c.ID).Msg("handler error")
			ce = &CoreError{Code: ErrCodeInternal, Message: "internal error"}
		}
		h.sendError(c, ce)
	}
}

// joinChat authorizes the join against the external store before subscribing
// the connection to the chat room. Unauthorized joins are refused with an
// explicit error event, never silently dropped.
func (h *Hub) joinChat(ctx context.Context, c *Client, data proto.ChatRef) error {
	if data.ChatID == "" {
		return errValidation("chatId is required")
	}
	if _, err := h.store.ChatMembership(ctx, data.ChatID, c.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errForbidden("not a member of this chat")
		}
		return fmt.Errorf("check membership: %w", err)
	}
	h.reg.Join(c, RoomForChat(data.ChatID))
	c.Send(Event{Name: proto.OutJoinedChat, Data: proto.ChatRef{ChatID: data.ChatID}})
	return nil
}

func (h *Hub) leaveChat(_ context.Context, c *Client, data proto.ChatRef) error {
	if data.ChatID == "" {
		return errValidation("chatId is required")
	}
	h.reg.Leave(c, RoomForChat(data.ChatID))
	c.Send(Event{Name: proto.OutLeftChat, Data: proto.ChatRef{ChatID: data.ChatID}})
	return nil
}

func (h *Hub) sendError(c *Client, ce *CoreError) {
	c.Send(Event{Name: proto.OutError, Data: proto.ErrorData{Code: ce.Code, Message: ce.Message}})
}

// decode adapts a typed handler to the raw dispatch table, rejecting
// malformed payloads before the handler runs.
func decode[T any](fn func(ctx context.Context, c *Client, data T) error) handlerFunc {
	return func(ctx context.Context, c *Client, raw []byte) error {
		var data T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return errValidation("malformed payload")
			}
		}
		return fn(ctx, c, data)
	}
}
