package ws

import (
	"sort"
	"sync"
)

// Registry is the process-wide source of truth for who is online. It
// maps each user to their latest connection; an older connection of the
// same user stays open but stops counting for presence.
type Registry struct {
	mu     sync.Mutex
	online map[int]string // latest conn id by user id
	hub    *Hub
}

// NewRegistry constructs a Registry bound to the hub it broadcasts
// presence snapshots through.
func NewRegistry(hub *Hub) *Registry {
	return &Registry{
		online: make(map[int]string),
		hub:    hub,
	}
}

// RecordOnline maps the user to this connection, displacing any earlier
// mapping, then broadcasts the presence snapshot to everyone.
func (r *Registry) RecordOnline(userID int, connID string) {
	r.mu.Lock()
	r.online[userID] = connID
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.hub.BroadcastAll(EventOnlineUsers, snapshot)
}

// RecordOffline removes the mapping only when it still points at the
// closing connection, so a stale close never evicts a newer session.
func (r *Registry) RecordOffline(userID int, connID string) {
	r.mu.Lock()
	current, ok := r.online[userID]
	if !ok || current != connID {
		r.mu.Unlock()
		return
	}
	delete(r.online, userID)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.hub.BroadcastAll(EventOnlineUsers, snapshot)
}

// Lookup returns the connection id currently mapped for the user.
func (r *Registry) Lookup(userID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.online[userID]
	return connID, ok
}

// OnlineUserIDs returns the sorted set of online user ids.
func (r *Registry) OnlineUserIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []int {
	ids := make([]int, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
