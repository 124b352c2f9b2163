// Package registry holds the relay's table of directly connected client nodes.
//
// A Registry is not safe for concurrent use; the relay service owns it from a
// single goroutine.
package registry

import (
	"time"

	"peer-relay/pkg/model"
)

// Registry keeps LocalNodes keyed by connection id, remembering registration
// order so that scans are deterministic for an unchanged table.
type Registry struct {
	nodes map[string]*model.LocalNode
	order []string
}

func New() *Registry {
	return &Registry{nodes: make(map[string]*model.LocalNode)}
}

// Register binds or overwrites the LocalNode of connID. The second return is
// true when the connection had no LocalNode before.
func (r *Registry) Register(connID, address, transportAddr string, port int, height model.Height, now time.Time) (model.LocalNode, bool) {
	if n, ok := r.nodes[connID]; ok {
		n.Address = address
		n.TransportAddress = transportAddr
		n.Port = port
		n.BlockchainHeight = height
		n.LastSeenAt = now
		return *n, false
	}
	n := &model.LocalNode{
		ID:               connID,
		Address:          address,
		TransportAddress: transportAddr,
		Port:             port,
		BlockchainHeight: height,
		ConnectedAt:      now,
		LastSeenAt:       now,
	}
	r.nodes[connID] = n
	r.order = append(r.order, connID)
	return *n, true
}

// Touch refreshes lastSeenAt; false if connID is not registered.
func (r *Registry) Touch(connID string, now time.Time) bool {
	n, ok := r.nodes[connID]
	if !ok {
		return false
	}
	n.LastSeenAt = now
	return true
}

// UpdateHeight records a new blockchain height and refreshes lastSeenAt.
func (r *Registry) UpdateHeight(connID string, height model.Height, now time.Time) bool {
	n, ok := r.nodes[connID]
	if !ok {
		return false
	}
	n.BlockchainHeight = height
	n.LastSeenAt = now
	return true
}

// Remove deletes the LocalNode of connID. Removing twice is a no-op.
func (r *Registry) Remove(connID string) (model.LocalNode, bool) {
	n, ok := r.nodes[connID]
	if !ok {
		return model.LocalNode{}, false
	}
	delete(r.nodes, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *n, true
}

func (r *Registry) Get(connID string) (model.LocalNode, bool) {
	n, ok := r.nodes[connID]
	if !ok {
		return model.LocalNode{}, false
	}
	return *n, true
}

// Snapshot returns all LocalNodes in registration order, minus excluding.
func (r *Registry) Snapshot(excluding string) []model.LocalNode {
	out := make([]model.LocalNode, 0, len(r.order))
	for _, id := range r.order {
		if id == excluding {
			continue
		}
		out = append(out, *r.nodes[id])
	}
	return out
}

// Find returns the first node, in registration order, matching either criterion.
func (r *Registry) Find(nodeID, address string) (model.LocalNode, bool) {
	for _, id := range r.order {
		if n := r.nodes[id]; n.Matches(nodeID, address) {
			return *n, true
		}
	}
	return model.LocalNode{}, false
}

// Stale lists connections silent for at least timeout as of now.
func (r *Registry) Stale(now time.Time, timeout time.Duration) []string {
	var out []string
	for _, id := range r.order {
		if !now.Before(r.nodes[id].LastSeenAt.Add(timeout)) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.nodes) }
