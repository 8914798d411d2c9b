// Package presence maintains the cluster-wide online set and last-seen
// timestamps. The shared set lives in redis so any process can answer
// isOnline correctly; a local in-process approximation is selected at
// startup when redis is unreachable.
package presence

import (
	"context"
	"sync"
)

// Set counts live connections per user across the cluster. Connect reports
// whether the user transitioned offline->online, Disconnect whether the last
// connection anywhere is gone. Every mutation is a single idempotent
// per-key operation; no multi-key transactions are needed.
type Set interface {
	Connect(ctx context.Context, userID string) (first bool, err error)
	Disconnect(ctx context.Context, userID string) (last bool, err error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// LocalSet approximates the online set from this process's own observed
// connects and disconnects. Cross-process accuracy degrades, but the
// disconnect path never fails.
type LocalSet struct {
	mu    sync.Mutex
	conns map[string]int
}

// NewLocal constructs the in-process fallback set.
func NewLocal() *LocalSet {
	return &LocalSet{conns: make(map[string]int)}
}

func (s *LocalSet) Connect(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[userID]++
	return s.conns[userID] == 1, nil
}

func (s *LocalSet) Disconnect(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.conns[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(s.conns, userID)
		return true, nil
	}
	s.conns[userID] = n - 1
	return false, nil
}

func (s *LocalSet) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[userID] > 0, nil
}
