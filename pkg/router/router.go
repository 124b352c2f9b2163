// Package router decides where a unicast message goes and who receives a
// broadcast. It only reads relay state; the relay service performs the sends.
package router

import "peer-relay/pkg/model"

// Kind is the outcome class of a routing decision.
type Kind int

const (
	None Kind = iota
	Local
	Remote
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "none"
	}
}

// Decision is transient; it is never stored.
type Decision struct {
	Kind Kind
	Node model.LocalNode  // set for Local
	Peer model.RemotePeer // set for Remote
	Link model.BridgeLink // set for Remote
}

// Locals finds directly connected nodes.
type Locals interface {
	Find(nodeID, address string) (model.LocalNode, bool)
	Snapshot(excluding string) []model.LocalNode
}

// Remotes finds nodes learned over bridges.
type Remotes interface {
	Lookup(nodeID, address string) (model.RemotePeer, bool)
}

// Links exposes bridge links that are currently open.
type Links interface {
	Open(name string) (model.BridgeLink, bool)
	OpenLinks() []model.BridgeLink
}

// Resolve picks the unicast target: local nodes first, then remote peers. A
// remote hit whose bridge is no longer open resolves to None even though the
// cache row still exists.
func Resolve(locals Locals, remotes Remotes, links Links, nodeID, address string) Decision {
	if nodeID == "" && address == "" {
		return Decision{Kind: None}
	}
	if n, ok := locals.Find(nodeID, address); ok {
		return Decision{Kind: Local, Node: n}
	}
	p, ok := remotes.Lookup(nodeID, address)
	if !ok {
		return Decision{Kind: None}
	}
	l, ok := links.Open(p.OriginBridge)
	if !ok {
		return Decision{Kind: None}
	}
	return Decision{Kind: Remote, Peer: p, Link: l}
}

// Fanout lists broadcast recipients.
type Fanout struct {
	Nodes []model.LocalNode
	Links []model.BridgeLink
}

// PlanBroadcast returns every local node except the sender and every open
// link. Links are included even when there are no local recipients.
func PlanBroadcast(locals Locals, links Links, sender string) Fanout {
	return Fanout{
		Nodes: locals.Snapshot(sender),
		Links: links.OpenLinks(),
	}
}
