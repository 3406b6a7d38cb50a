package relay

import (
	"sync"
)

// ClientRegistry is the local client table: clientId → peer session for
// peers connected to this replica, with a secondary index by API key.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*PeerSession          // clientId → session
	byKey   map[string]map[string]*PeerSession // apiKey → clientId → session
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*PeerSession),
		byKey:   make(map[string]map[string]*PeerSession),
	}
}

// Evict removes and returns the current session for a clientId, if any.
// The caller closes it (duplicate connection) before adding a replacement.
func (r *ClientRegistry) Evict(clientID string) *PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.clients[clientID]
	if old != nil {
		r.removeLocked(old)
	}
	return old
}

// Add inserts a session into both indexes.
func (r *ClientRegistry) Add(s *PeerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[s.ClientID] = s
	keyed := r.byKey[s.APIKey]
	if keyed == nil {
		keyed = make(map[string]*PeerSession)
		r.byKey[s.APIKey] = keyed
	}
	keyed[s.ClientID] = s
}

// Remove deletes a session, but only if it is still the current entry for
// its clientId. Returns true when this call removed it; a session evicted
// by a newer duplicate must not delete its replacement.
func (r *ClientRegistry) Remove(s *PeerSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[s.ClientID] != s {
		return false
	}
	r.removeLocked(s)
	return true
}

func (r *ClientRegistry) removeLocked(s *PeerSession) {
	delete(r.clients, s.ClientID)
	if keyed := r.byKey[s.APIKey]; keyed != nil {
		delete(keyed, s.ClientID)
		if len(keyed) == 0 {
			delete(r.byKey, s.APIKey)
		}
	}
}

// Get returns the session hosting a clientId, or nil.
func (r *ClientRegistry) Get(clientID string) *PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[clientID]
}

// ListForKey returns all local sessions authenticated with an API key.
func (r *ClientRegistry) ListForKey(apiKey string) []*PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keyed := r.byKey[apiKey]
	out := make([]*PeerSession, 0, len(keyed))
	for _, s := range keyed {
		out = append(out, s)
	}
	return out
}

// All returns a snapshot of every connected session.
func (r *ClientRegistry) All() []*PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PeerSession, 0, len(r.clients))
	for _, s := range r.clients {
		out = append(out, s)
	}
	return out
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
