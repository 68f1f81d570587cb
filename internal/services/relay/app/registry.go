// Package server hosts the event relay: it bridges committed ledger events
// to WebSocket subscribers, per delivery and per user.
package server

import "sync"

// Registry tracks which connections subscribed to which channels. A single
// mutex guards both directions: channel to connections for fan-out, and
// connection to channels so a disconnect purges every membership at once.
type Registry struct {
	mu         sync.Mutex
	deliveries map[string]map[*Peer]struct{}
	users      map[string]map[*Peer]struct{}
	byPeer     map[*Peer]*memberships
}

type memberships struct {
	deliveries map[string]struct{}
	users      map[string]struct{}
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		deliveries: make(map[string]map[*Peer]struct{}),
		users:      make(map[string]map[*Peer]struct{}),
		byPeer:     make(map[*Peer]*memberships),
	}
}

// SubscribeDelivery adds the connection to a delivery channel.
func (r *Registry) SubscribeDelivery(p *Peer, deliveryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addMember(r.deliveries, deliveryID, p)
	r.track(p).deliveries[deliveryID] = struct{}{}
}

// UnsubscribeDelivery removes the connection from a delivery channel.
func (r *Registry) UnsubscribeDelivery(p *Peer, deliveryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropMember(r.deliveries, deliveryID, p)
	if m, ok := r.byPeer[p]; ok {
		delete(m.deliveries, deliveryID)
		r.pruneIfEmpty(p, m)
	}
}

// SubscribeUser adds the connection to a user's private channel.
func (r *Registry) SubscribeUser(p *Peer, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addMember(r.users, userID, p)
	r.track(p).users[userID] = struct{}{}
}

// UnsubscribeUser removes the connection from a user's private channel.
func (r *Registry) UnsubscribeUser(p *Peer, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropMember(r.users, userID, p)
	if m, ok := r.byPeer[p]; ok {
		delete(m.users, userID)
		r.pruneIfEmpty(p, m)
	}
}

// RemoveConn purges every membership the connection holds.
func (r *Registry) RemoveConn(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPeer[p]
	if !ok {
		return
	}
	for deliveryID := range m.deliveries {
		dropMember(r.deliveries, deliveryID, p)
	}
	for userID := range m.users {
		dropMember(r.users, userID, p)
	}
	delete(r.byPeer, p)
}

// DeliveryMembers snapshots the subscribers of a delivery channel.
func (r *Registry) DeliveryMembers(deliveryID string) []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return members(r.deliveries[deliveryID])
}

// UserMembers snapshots the subscribers of a user's private channel.
func (r *Registry) UserMembers(userID string) []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return members(r.users[userID])
}

// Empty reports whether no memberships remain.
func (r *Registry) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries) == 0 && len(r.users) == 0 && len(r.byPeer) == 0
}

func (r *Registry) track(p *Peer) *memberships {
	m, ok := r.byPeer[p]
	if !ok {
		m = &memberships{
			deliveries: make(map[string]struct{}),
			users:      make(map[string]struct{}),
		}
		r.byPeer[p] = m
	}
	return m
}

func (r *Registry) pruneIfEmpty(p *Peer, m *memberships) {
	if len(m.deliveries) == 0 && len(m.users) == 0 {
		delete(r.byPeer, p)
	}
}

func addMember(channels map[string]map[*Peer]struct{}, id string, p *Peer) {
	set, ok := channels[id]
	if !ok {
		set = make(map[*Peer]struct{})
		channels[id] = set
	}
	set[p] = struct{}{}
}

func dropMember(channels map[string]map[*Peer]struct{}, id string, p *Peer) {
	set, ok := channels[id]
	if !ok {
		return
	}
	delete(set, p)
	if len(set) == 0 {
		delete(channels, id)
	}
}

func members(set map[*Peer]struct{}) []*Peer {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Peer, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
