package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/core"
	"github.com/wavelink-im/realtime/internal/proto"
	"github.com/wavelink-im/realtime/internal/store"
)

// Tracker maintains online/offline state and notifies relevant peers of
// transitions through the fan-out bus.
type Tracker struct {
	set   Set
	store store.Store
	bus   core.Bus
	log   *zerolog.Logger
	now   func() time.Time
}

// NewTracker constructs a tracker over the selected online set.
func NewTracker(set Set, st store.Store, bus core.Bus, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		set:   set,
		store: st,
		bus:   bus,
		log:   logger,
		now:   time.Now,
	}
}

// MarkOnline records a new connection. On the offline->online transition it
// broadcasts user_online to each relevant peer's per-user room.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) error {
	first, err := t.set.Connect(ctx, userID)
	if err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	if !first {
		return nil
	}
	t.notifyPeers(ctx, userID, core.Event{Name: proto.OutUserOnline, Data: proto.UserOnlineData{
		UserID: userID,
	}})
	return nil
}

// MarkOffline records a connection teardown. When the last connection
// anywhere is gone it durably persists the last-seen timestamp and
// broadcasts user_offline. The disconnect path must always complete, so
// store failures are logged rather than propagated past the broadcast.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) (time.Time, error) {
	lastSeen := t.now()
	last, err := t.set.Disconnect(ctx, userID)
	if err != nil {
		return lastSeen, fmt.Errorf("mark offline: %w", err)
	}
	if !last {
		return lastSeen, nil
	}
	if err := t.store.SetLastSeen(ctx, userID, lastSeen); err != nil {
		t.log.Warn().Err(err).Str("user_id", userID).Msg("persist last seen failed")
	}
	t.notifyPeers(ctx, userID, core.Event{Name: proto.OutUserOffline, Data: proto.UserOfflineData{
		UserID:   userID,
		LastSeen: lastSeen,
	}})
	return lastSeen, nil
}

// IsOnline reports whether the user has at least one live connection
// anywhere in the cluster.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	return t.set.IsOnline(ctx, userID)
}

// RelevantPeers returns the users to notify of userID's presence changes.
// Best-effort: a store failure yields an empty set so a disconnect can
// still complete cleanly.
func (t *Tracker) RelevantPeers(ctx context.Context, userID string) []string {
	peers, err := t.store.RelevantPeerIDs(ctx, userID)
	if err != nil {
		t.log.Warn().Err(err).Str("user_id", userID).Msg("relevant peers lookup failed")
		return nil
	}
	return peers
}

func (t *Tracker) notifyPeers(ctx context.Context, userID string, ev core.Event) {
	for _, peer := range t.RelevantPeers(ctx, userID) {
		if peer == userID {
			continue
		}
		if err := t.bus.Publish(ctx, core.RoomForUser(peer), ev, ""); err != nil {
			t.log.Warn().Err(err).Str("peer", peer).Str("event", ev.Name).Msg("presence broadcast failed")
		}
	}
}
