package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced chat, message or call does not exist.
var ErrNotFound = errors.New("not found")

// Member represents a user's membership in a chat.
type Member struct {
	ChatID   string
	UserID   string
	JoinedAt time.Time
}

// MessagePayload is the client-supplied part of a message. Exactly one of
// Content or FileURL may be empty, never both.
type MessagePayload struct {
	Type      string
	Content   string
	FileURL   string
	ReplyToID string
}

// Message represents a persisted chat message.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Type      string
	Content   string
	FileURL   string
	ReplyToID string
	CreatedAt time.Time
}

// CallState is the lifecycle state of a call record.
type CallState string

const (
	CallInitiated CallState = "INITIATED"
	CallAccepted  CallState = "ACCEPTED"
	CallEnded     CallState = "ENDED"
	CallRejected  CallState = "REJECTED"
	CallMissed    CallState = "MISSED"
)

// Call represents a two-party call record.
type Call struct {
	ID        string
	ChatID    string
	CallerID  string
	CalleeID  string
	Kind      string // "audio" or "video"
	State     CallState
	StartedAt time.Time
	EndedAt   *time.Time
	Duration  *int64 // seconds, floored
}

// CallPatch is a partial update applied to a call record.
type CallPatch struct {
	State    *CallState
	EndedAt  *time.Time
	Duration *int64
}

// Store is the contract with the external persistent store. The realtime core
// never owns durable state; everything behind this interface is request/response.
type Store interface {
	// ChatMembership returns the membership record for userID in chatID,
	// or ErrNotFound if the user is not a member.
	ChatMembership(ctx context.Context, chatID, userID string) (*Member, error)

	// ChatMemberIDs lists the user IDs of all members of a chat.
	ChatMemberIDs(ctx context.Context, chatID string) ([]string, error)

	// CreateMessage durably records a message and touches the chat's
	// last-activity timestamp.
	CreateMessage(ctx context.Context, chatID, senderID string, payload MessagePayload) (*Message, error)

	// GetMessage fetches a message by ID, or ErrNotFound.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// MarkRead records a read marker and advances the reader's per-chat
	// last-read pointer as one atomic unit. It is idempotent: a repeated call
	// returns the timestamp of the first one.
	MarkRead(ctx context.Context, messageID, chatID, userID string, at time.Time) (time.Time, error)

	// CreateCall durably records a new call session.
	CreateCall(ctx context.Context, call *Call) error

	// UpdateCall applies a partial update to a call record.
	UpdateCall(ctx context.Context, callID string, patch CallPatch) error

	// RelevantPeerIDs returns the users who should be notified of userID's
	// presence changes: co-members of their chats plus users holding them as
	// an accepted or pending contact.
	RelevantPeerIDs(ctx context.Context, userID string) ([]string, error)

	// SetLastSeen durably records the user's last-seen timestamp.
	SetLastSeen(ctx context.Context, userID string, at time.Time) error

	Close() error
}
