package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tourlab/termbroker/internal/bus"
)

// ConnectionID identifies one WebSocket connection.
type ConnectionID string

// ConnectionRegistry tracks live WebSocket connections. Admitting a
// connection subscribes it to the bus; removing it unsubscribes.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[ConnectionID]time.Time
	bus   *bus.Bus
}

// NewConnectionRegistry returns an empty registry feeding from b.
func NewConnectionRegistry(b *bus.Bus) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[ConnectionID]time.Time),
		bus:   b,
	}
}

// Admit registers a new connection. The returned subscription receives
// every message published from now on.
func (r *ConnectionRegistry) Admit() (ConnectionID, *bus.Subscription) {
	id := ConnectionID(uuid.NewString())
	sub := r.bus.Subscribe(string(id))
	r.mu.Lock()
	r.conns[id] = time.Now()
	r.mu.Unlock()
	return id, sub
}

// Remove deregisters id and closes its subscription. Unknown ids are a no-op.
func (r *ConnectionRegistry) Remove(id ConnectionID) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		r.bus.Unsubscribe(string(id))
	}
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
