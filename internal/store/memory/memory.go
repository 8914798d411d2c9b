// Package memory implements store.Store entirely in process. It backs the
// core tests and carries the same contract as the sqlite implementation.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wavelink-im/realtime/internal/store"
)

// Store is an in-memory store.Store implementation.
type Store struct {
	mu       sync.Mutex
	members  map[string]map[string]time.Time // chatID -> userID -> joinedAt
	messages map[string]*store.Message
	reads    map[string]time.Time // messageID+"\x00"+userID -> readAt
	lastRead map[string]time.Time // chatID+"\x00"+userID -> at
	calls    map[string]*store.Call
	contacts map[string]map[string]struct{} // owner -> contact set
	lastSeen map[string]time.Time
	activity map[string]time.Time // chatID -> last activity
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		members:  make(map[string]map[string]time.Time),
		messages: make(map[string]*store.Message),
		reads:    make(map[string]time.Time),
		lastRead: make(map[string]time.Time),
		calls:    make(map[string]*store.Call),
		contacts: make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		activity: make(map[string]time.Time),
	}
}

// AddChat seeds a chat with the given members.
func (s *Store) AddChat(chatID string, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[chatID] == nil {
		s.members[chatID] = make(map[string]time.Time)
	}
	for _, id := range memberIDs {
		s.members[chatID][id] = time.Now()
	}
}

// AddContact records that owner holds contact in their contact list.
func (s *Store) AddContact(ownerID, contactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contacts[ownerID] == nil {
		s.contacts[ownerID] = make(map[string]struct{})
	}
	s.contacts[ownerID][contactID] = struct{}{}
}

func (s *Store) ChatMembership(_ context.Context, chatID, userID string) (*store.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	joinedAt, ok := s.members[chatID][userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Member{ChatID: chatID, UserID: userID, JoinedAt: joinedAt}, nil
}

func (s *Store) ChatMemberIDs(_ context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.members[chatID]))
	for id := range s.members[chatID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) CreateMessage(_ context.Context, chatID, senderID string, payload store.MessagePayload) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &store.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Type:      payload.Type,
		Content:   payload.Content,
		FileURL:   payload.FileURL,
		ReplyToID: payload.ReplyToID,
		CreatedAt: time.Now(),
	}
	s.messages[msg.ID] = msg
	s.activity[chatID] = msg.CreatedAt
	return msg, nil
}

func (s *Store) GetMessage(_ context.Context, messageID string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *Store) MarkRead(_ context.Context, messageID, chatID, userID string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	readKey := messageID + "\x00" + userID
	if existing, ok := s.reads[readKey]; ok {
		return existing, nil
	}
	s.reads[readKey] = at
	pointerKey := chatID + "\x00" + userID
	if at.After(s.lastRead[pointerKey]) {
		s.lastRead[pointerKey] = at
	}
	return at, nil
}

func (s *Store) CreateCall(_ context.Context, call *store.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *call
	s.calls[call.ID] = &cp
	return nil
}

func (s *Store) UpdateCall(_ context.Context, callID string, patch store.CallPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	if patch.State != nil {
		call.State = *patch.State
	}
	if patch.EndedAt != nil {
		call.EndedAt = patch.EndedAt
	}
	if patch.Duration != nil {
		call.Duration = patch.Duration
	}
	return nil
}

// Call returns the recorded call, for test assertions.
func (s *Store) Call(callID string) *store.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil
	}
	cp := *call
	return &cp
}

func (s *Store) RelevantPeerIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, members := range s.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		for id := range members {
			if id != userID {
				seen[id] = struct{}{}
			}
		}
	}
	for owner, set := range s.contacts {
		if _, ok := set[userID]; ok && owner != userID {
			seen[owner] = struct{}{}
		}
	}
	peers := make([]string, 0, len(seen))
	for id := range seen {
		peers = append(peers, id)
	}
	return peers, nil
}

func (s *Store) SetLastSeen(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = at
	return nil
}

// LastSeen returns the recorded last-seen timestamp, for test assertions.
func (s *Store) LastSeen(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastSeen[userID]
	return at, ok
}

func (s *Store) Close() error { return nil }
