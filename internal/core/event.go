package core

import (
	"context"
	"time"
)

// Event is a named payload delivered to subscribed connections. Name is the
// wire event name; Data is marshaled as-is into the outbound envelope.
type Event struct {
	Name string
	Data any
}

// DeliverFunc is the sink a Bus pushes received events into. originConnID is
// non-empty when the originating connection must be excluded from delivery
// (typing indicators).
type DeliverFunc func(roomID string, ev Event, originConnID string)

// Bus is the fan-out transport. A Publish must reach every currently
// subscribed connection in roomID across every process, with at-least-once
// semantics; local delivery happens through the same path as remote delivery.
type Bus interface {
	Publish(ctx context.Context, roomID string, ev Event, originConnID string) error
	Subscribe(roomID string) error
	Unsubscribe(roomID string) error
}

// Presence is the tracker for the cluster-wide online set. MarkOnline and
// MarkOffline broadcast user_online/user_offline to relevant peers on the
// offline->online and online->offline transitions.
type Presence interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) (time.Time, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}
