package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/p2pcall/internal/signaling"
)

// EndpointID identifies one connected channel for its lifetime.
type EndpointID string

// Endpoint is the relay's handle on one connected channel.
type Endpoint interface {
	// Send queues env for delivery. It must not block.
	Send(env signaling.Envelope) error
}

// Registry maintains the EndpointID → Endpoint table. It is safe for
// concurrent add, remove and iteration; readers receive snapshots.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[EndpointID]Endpoint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[EndpointID]Endpoint),
	}
}

// Add stores ep under a freshly generated id and returns it.
func (r *Registry) Add(ep Endpoint) EndpointID {
	id := EndpointID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[id] = ep
	return id
}

// Remove deletes id. It reports whether id was present.
func (r *Registry) Remove(id EndpointID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return false
	}
	delete(r.endpoints, id)
	return true
}

// Get looks up the endpoint for id.
func (r *Registry) Get(id EndpointID) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	return ep, ok
}

// Others returns a snapshot of every endpoint except id.
func (r *Registry) Others(id EndpointID) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for other, ep := range r.endpoints {
		if other == id {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// All returns a snapshot of every registered endpoint.
func (r *Registry) All() []Endpoint {
	return r.Others("")
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
