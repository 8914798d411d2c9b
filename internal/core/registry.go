package core

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks live connections and which rooms they joined. It is the
// only owner of connection state; all methods are safe for concurrent use.
// Bus subscribe/unsubscribe calls happen outside the lock so a suspension in
// the transport never blocks unrelated connections.
type Registry struct {
	log *zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}

	bus Bus
}

// NewRegistry constructs an empty registry. Bind must be called with the
// selected bus before any connection registers.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		log:     logger,
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Bind attaches the fan-out bus the registry keeps room subscriptions on.
func (r *Registry) Bind(bus Bus) {
	r.bus = bus
}

// Register adds the connection and auto-joins its per-user room, used for
// presence and call-signaling delivery independent of chat membership.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	first := r.joinLocked(c, RoomForUser(c.UserID))
	r.mu.Unlock()

	if first {
		r.subscribe(RoomForUser(c.UserID))
	}
}

// Unregister removes the connection from every room it joined. It reports
// whether the connection was still registered, so duplicate disconnect
// signals run the presence path exactly once.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	if _, ok := r.clients[c.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, c.ID)

	var emptied []string
	for roomID := range c.rooms {
		if r.leaveLocked(c, roomID) {
			emptied = append(emptied, roomID)
		}
	}
	c.rooms = make(map[string]struct{})
	r.mu.Unlock()

	for _, roomID := range emptied {
		r.unsubscribe(roomID)
	}
	return true
}

// Join subscribes the connection to a room. The authorization check against
// the external store is the caller's responsibility.
func (r *Registry) Join(c *Client, roomID string) {
	r.mu.Lock()
	first := r.joinLocked(c, roomID)
	r.mu.Unlock()

	if first {
		r.subscribe(roomID)
	}
}

// Leave unsubscribes the connection from a room.
func (r *Registry) Leave(c *Client, roomID string) {
	r.mu.Lock()
	delete(c.rooms, roomID)
	empty := r.leaveLocked(c, roomID)
	r.mu.Unlock()

	if empty {
		r.unsubscribe(roomID)
	}
}

// InRoom reports whether the connection has joined roomID.
func (r *Registry) InRoom(c *Client, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Deliver pushes an event to every local member of a room. It is the sink
// the bus drains into; skipConnID excludes the originating connection.
func (r *Registry) Deliver(roomID string, ev Event, skipConnID string) {
	r.mu.RLock()
	members := r.rooms[roomID]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if skipConnID != "" && c.ID == skipConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Send(ev)
	}
}

// joinLocked adds c to roomID and reports whether it became the first local
// member, meaning the bus subscription must be established.
func (r *Registry) joinLocked(c *Client, roomID string) bool {
	c.rooms[roomID] = struct{}{}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[roomID] = members
	}
	members[c] = struct{}{}
	return !ok
}

// leaveLocked removes c from roomID and reports whether the room emptied.
func (r *Registry) leaveLocked(c *Client, roomID string) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

func (r *Registry) subscribe(roomID string) {
	if err := r.bus.Subscribe(roomID); err != nil {
		r.log.Warn().Err(err).Str("room", roomID).Msg("bus subscribe failed")
	}
}

func (r *Registry) unsubscribe(roomID string) {
	if err := r.bus.Unsubscribe(roomID); err != nil {
		r.log.Warn().Err(err).Str("room", roomID).Msg("bus unsubscribe failed")
	}
}
