package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for events coming from the client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is the envelope for events sent to the client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound event names. These are the wire contract and must not change.
const (
	InJoinChat     = "join_chat"
	InLeaveChat    = "leave_chat"
	InSendMessage  = "send_message"
	InTypingStart  = "typing_start"
	InTypingStop   = "typing_stop"
	InMarkRead     = "mark_read"
	InCallInitiate = "call_initiate"
	InCallAccept   = "call_accept"
	InCallReject   = "call_reject"
	InCallEnd      = "call_end"
	InCallOffer    = "call_offer"
	InCallAnswer   = "call_answer"
	InIceCandidate = "ice_candidate"
)

// Outbound event names.
const (
	OutJoinedChat        = "joined_chat"
	OutLeftChat          = "left_chat"
	OutNewMessage        = "new_message"
	OutMessageDelivered  = "message_delivered"
	OutMessageRead       = "message_read"
	OutUserTyping        = "user_typing"
	OutUserStoppedTyping = "user_stopped_typing"
	OutUserOnline        = "user_online"
	OutUserOffline       = "user_offline"
	OutIncomingCall      = "incoming_call"
	OutCallInitiated     = "call_initiated"
	OutCallAccepted      = "call_accepted"
	OutCallRejected      = "call_rejected"
	OutCallEnded         = "call_ended"
	OutCallOffer         = "call_offer"
	OutCallAnswer        = "call_answer"
	OutIceCandidate      = "ice_candidate"
	OutError             = "error"
)

// ChatRef identifies a chat in join/leave and typing events.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// SendMessageData is the payload of send_message.
type SendMessageData struct {
	ChatID    string `json:"chatId"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	FileURL   string `json:"fileUrl,omitempty"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// MarkReadData is the payload of mark_read.
type MarkReadData struct {
	MessageID string `json:"messageId"`
}

// CallInitiateData is the payload of call_initiate.
type CallInitiateData struct {
	ChatID   string `json:"chatId"`
	CallType string `json:"callType"`
}

// CallRef identifies a call in accept/reject/end events.
type CallRef struct {
	CallID string `json:"callId"`
}

// CallSignalData carries an opaque negotiation blob between the two call
// participants. SDP and Candidate are relayed, never parsed.
type CallSignalData struct {
	CallID       string          `json:"callId"`
	TargetUserID string          `json:"targetUserId"`
	FromUserID   string          `json:"fromUserId,omitempty"`
	SDP          json.RawMessage `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// MessageData is the payload of new_message.
type MessageData struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	ReplyToID string    `json:"replyToId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageDeliveredData is the payload of message_delivered.
type MessageDeliveredData struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// MessageReadData is the payload of message_read.
type MessageReadData struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// TypingData is the payload of user_typing and user_stopped_typing.
type TypingData struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// UserOnlineData is the payload of user_online.
type UserOnlineData struct {
	UserID string `json:"userId"`
}

// UserOfflineData is the payload of user_offline.
type UserOfflineData struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// IncomingCallData is the payload of incoming_call.
type IncomingCallData struct {
	CallID   string `json:"callId"`
	ChatID   string `json:"chatId"`
	CallerID string `json:"callerId"`
	CallType string `json:"callType"`
}

// CallInitiatedData is the payload of call_initiated.
type CallInitiatedData struct {
	CallID   string `json:"callId"`
	CalleeID string `json:"calleeId"`
}

// CallStateData is the payload of call_accepted and call_rejected.
type CallStateData struct {
	CallID string `json:"callId"`
}

// CallEndedData is the payload of call_ended. Duration is in whole seconds
// and only set for calls that were accepted.
type CallEndedData struct {
	CallID   string `json:"callId"`
	Duration *int64 `json:"duration,omitempty"`
}

// ErrorData describes an operation error scoped to the originating connection.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
