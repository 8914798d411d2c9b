package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/proto"
	"github.com/wavelink-im/realtime/internal/store"
)

// CallManager runs the lifecycle of two-party calls and relays opaque
// negotiation payloads between exactly the two recorded participants.
//
// State transitions: INITIATED -> ACCEPTED -> ENDED, INITIATED -> REJECTED,
// INITIATED -> MISSED. Terminal states admit no transition. Transitions are
// decided under the manager's lock; durable writes and broadcasts happen
// after the lock is released.
type CallManager struct {
	bus   Bus
	store store.Store
	log   *zerolog.Logger
	now   func() time.Time

	mu    sync.Mutex
	calls map[string]*callSession
}

type callSession struct {
	ID        string
	ChatID    string
	CallerID  string
	CalleeID  string
	Kind      string
	State     store.CallState
	StartedAt time.Time
}

// NewCallManager constructs the call signaling state machine.
func NewCallManager(bus Bus, st store.Store, logger *zerolog.Logger) *CallManager {
	return &CallManager{
		bus:   bus,
		store: st,
		log:   logger,
		now:   time.Now,
		calls: make(map[string]*callSession),
	}
}

// Initiate starts a call in a two-party chat. The callee is the single other
// chat member; a chat without exactly one other member cannot host a call.
func (m *CallManager) Initiate(ctx context.Context, c *Client, data proto.CallInitiateData) error {
	if data.CallType != "audio" && data.CallType != "video" {
		return errValidation("callType must be audio or video")
	}
	if _, err := m.store.ChatMembership(ctx, data.ChatID, c.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errForbidden("not a member of this chat")
		}
		return fmt.Errorf("check membership: %w", err)
	}

	members, err := m.store.ChatMemberIDs(ctx, data.ChatID)
	if err != nil {
		return fmt.Errorf("list chat members: %w", err)
	}
	var callee string
	others := 0
	for _, id := range members {
		if id != c.UserID {
			callee = id
			others++
		}
	}
	if others != 1 {
		return errValidation("calls require a chat with exactly one other member")
	}

	sess := &callSession{
		ID:        uuid.New().String(),
		ChatID:    data.ChatID,
		CallerID:  c.UserID,
		CalleeID:  callee,
		Kind:      data.CallType,
		State:     store.CallInitiated,
		StartedAt: m.now(),
	}

	if err := m.store.CreateCall(ctx, &store.Call{
		ID:        sess.ID,
		ChatID:    sess.ChatID,
		CallerID:  sess.CallerID,
		CalleeID:  sess.CalleeID,
		Kind:      sess.Kind,
		State:     sess.State,
		StartedAt: sess.StartedAt,
	}); err != nil {
		return fmt.Errorf("create call record: %w", err)
	}

	m.mu.Lock()
	m.calls[sess.ID] = sess
	m.mu.Unlock()

	m.publish(ctx, RoomForUser(callee), Event{Name: proto.OutIncomingCall, Data: proto.IncomingCallData{
		CallID:   sess.ID,
		ChatID:   sess.ChatID,
		CallerID: sess.CallerID,
		CallType: sess.Kind,
	}})
	c.Send(Event{Name: proto.OutCallInitiated, Data: proto.CallInitiatedData{
		CallID:   sess.ID,
		CalleeID: callee,
	}})
	return nil
}

// Accept transitions INITIATED -> ACCEPTED. Only the recorded callee may
// accept; a call already accepted or ended elsewhere yields a state conflict,
// which settles the race between two callee devices.
func (m *CallManager) Accept(ctx context.Context, c *Client, data proto.CallRef) error {
	m.mu.Lock()
	sess, ok := m.calls[data.CallID]
	if !ok {
		m.mu.Unlock()
		return errNotFound("call does not exist")
	}
	if sess.CalleeID != c.UserID {
		m.mu.Unlock()
		return errForbidden("only the callee can accept this call")
	}
	if sess.State != store.CallInitiated {
		m.mu.Unlock()
		return errStateConflict("call is not awaiting an answer")
	}
	sess.State = store.CallAccepted
	caller := sess.CallerID
	m.mu.Unlock()

	m.updateRecord(ctx, data.CallID, store.CallPatch{State: callStatePtr(store.CallAccepted)})
	m.publish(ctx, RoomForUser(caller), Event{Name: proto.OutCallAccepted, Data: proto.CallStateData{
		CallID: data.CallID,
	}})
	return nil
}

// Reject transitions INITIATED -> REJECTED and notifies the caller.
func (m *CallManager) Reject(ctx context.Context, c *Client, data proto.CallRef) error {
	m.mu.Lock()
	sess, ok := m.calls[data.CallID]
	if !ok {
		m.mu.Unlock()
		return errNotFound("call does not exist")
	}
	if sess.CalleeID != c.UserID {
		m.mu.Unlock()
		return errForbidden("only the callee can reject this call")
	}
	if sess.State != store.CallInitiated {
		m.mu.Unlock()
		return errStateConflict("call is not awaiting an answer")
	}
	sess.State = store.CallRejected
	caller := sess.CallerID
	endedAt := m.now()
	delete(m.calls, data.CallID)
	m.mu.Unlock()

	m.updateRecord(ctx, data.CallID, store.CallPatch{
		State:   callStatePtr(store.CallRejected),
		EndedAt: &endedAt,
	})
	m.publish(ctx, RoomForUser(caller), Event{Name: proto.OutCallRejected, Data: proto.CallStateData{
		CallID: data.CallID,
	}})
	return nil
}

// End terminates a call from either side. An accepted call ends with a
// floored duration in seconds; an unanswered one becomes MISSED. Ending a
// call already in a terminal state is a silent no-op.
func (m *CallManager) End(ctx context.Context, c *Client, data proto.CallRef) error {
	m.mu.Lock()
	sess, ok := m.calls[data.CallID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if sess.CallerID != c.UserID && sess.CalleeID != c.UserID {
		m.mu.Unlock()
		return errForbidden("not a participant in this call")
	}
	prev := sess.State
	if prev != store.CallInitiated && prev != store.CallAccepted {
		m.mu.Unlock()
		return nil
	}
	endedAt := m.now()
	next := store.CallMissed
	var duration *int64
	if prev == store.CallAccepted {
		next = store.CallEnded
		secs := int64(endedAt.Sub(sess.StartedAt) / time.Second)
		duration = &secs
	}
	sess.State = next
	other := sess.CallerID
	if c.UserID == sess.CallerID {
		other = sess.CalleeID
	}
	delete(m.calls, data.CallID)
	m.mu.Unlock()

	m.updateRecord(ctx, data.CallID, store.CallPatch{
		State:    callStatePtr(next),
		EndedAt:  &endedAt,
		Duration: duration,
	})
	m.publish(ctx, RoomForUser(other), Event{Name: proto.OutCallEnded, Data: proto.CallEndedData{
		CallID:   data.CallID,
		Duration: duration,
	}})
	return nil
}

// RelayOffer relays an opaque session description to the target participant.
func (m *CallManager) RelayOffer(ctx context.Context, c *Client, data proto.CallSignalData) error {
	return m.relay(ctx, c, data, proto.OutCallOffer, data.SDP, nil)
}

// RelayAnswer relays an opaque session description to the target participant.
func (m *CallManager) RelayAnswer(ctx context.Context, c *Client, data proto.CallSignalData) error {
	return m.relay(ctx, c, data, proto.OutCallAnswer, data.SDP, nil)
}

// RelayIceCandidate relays an opaque network candidate to the target participant.
func (m *CallManager) RelayIceCandidate(ctx context.Context, c *Client, data proto.CallSignalData) error {
	return m.relay(ctx, c, data, proto.OutIceCandidate, nil, data.Candidate)
}

// relay verifies that the sender and target are exactly the two recorded
// participants of the call, then forwards the blob to the target's per-user
// room so delivery is independent of device or process.
func (m *CallManager) relay(ctx context.Context, c *Client, data proto.CallSignalData, event string, sdp, candidate json.RawMessage) error {
	m.mu.Lock()
	sess, ok := m.calls[data.CallID]
	if !ok {
		m.mu.Unlock()
		return errNotFound("call does not exist")
	}
	pair := map[string]bool{sess.CallerID: true, sess.CalleeID: true}
	if !pair[c.UserID] || !pair[data.TargetUserID] || c.UserID == data.TargetUserID {
		m.mu.Unlock()
		return errForbidden("not a participant in this call")
	}
	m.mu.Unlock()

	m.publish(ctx, RoomForUser(data.TargetUserID), Event{Name: event, Data: proto.CallSignalData{
		CallID:       data.CallID,
		TargetUserID: data.TargetUserID,
		FromUserID:   c.UserID,
		SDP:          sdp,
		Candidate:    candidate,
	}})
	return nil
}

func (m *CallManager) updateRecord(ctx context.Context, callID string, patch store.CallPatch) {
	if err := m.store.UpdateCall(ctx, callID, patch); err != nil {
		m.log.Warn().Err(err).Str("call_id", callID).Msg("update call record failed")
	}
}

func (m *CallManager) publish(ctx context.Context, roomID string, ev Event) {
	if err := m.bus.Publish(ctx, roomID, ev, ""); err != nil {
		m.log.Warn().Err(err).Str("room", roomID).Str("event", ev.Name).Msg("bus publish failed")
	}
}

func callStatePtr(s store.CallState) *store.CallState {
	return &s
}
