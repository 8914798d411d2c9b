package core

// Client is a single authenticated connection as seen by the core layer.
type Client struct {
	ID     string
	UserID string
	Events chan Event

	// rooms is guarded by the owning Registry's mutex.
	rooms map[string]struct{}
}

// NewClient constructs a client for an authenticated connection.
func NewClient(connID, userID string) *Client {
	return &Client{
		ID:     connID,
		UserID: userID,
		Events: make(chan Event, 32),
		rooms:  make(map[string]struct{}),
	}
}

// Send queues an event for the connection's write loop. Slow consumers are
// dropped rather than allowed to block delivery to other connections.
func (c *Client) Send(ev Event) {
	select {
	case c.Events <- ev:
	default:
	}
}
