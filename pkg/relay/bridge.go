package relay

import (
	"peer-relay/pkg/bridge"
	"peer-relay/pkg/model"
	"peer-relay/pkg/wire"
)

func (s *Service) handleBridgeFrame(sess *session, typ string, data []byte) {
	now := s.clock.Now()
	id := sess.conn.ID()
	s.links.Touch(id, now)
	link, ok := s.links.ByConn(id)
	if !ok {
		return
	}
	if !wire.IsBridgeFrame(typ) {
		// Bridges never get error replies.
		s.log.Warn("unexpected frame on bridge", "bridge", link.Name, "type", typ)
		return
	}

	switch typ {
	case wire.TypeBridgeWelcome:
		var f wire.BridgeWelcome
		if s.decode(sess, typ, data, &f) {
			s.links.Identify(id, f.RelayName, f.RelayRegion)
			s.applySync(link, f.RelayName, f.LocalPeers)
		}
	case wire.TypePeerSync:
		var f wire.PeerSync
		if s.decode(sess, typ, data, &f) {
			s.links.Identify(id, f.RelayName, "")
			s.applySync(link, f.RelayName, f.Peers)
		}
	case wire.TypeBridgeMessage:
		var f wire.BridgeMessage
		if s.decode(sess, typ, data, &f) {
			s.deliverBridged(link, f)
		}
	case wire.TypeBridgeBroadcast:
		var f wire.BridgeBroadcast
		if s.decode(sess, typ, data, &f) {
			s.deliverBridgedBroadcast(link, f)
		}
	case wire.TypeBridgePing:
		s.send(sess, wire.BridgeHeartbeat{Type: wire.TypeBridgePong, RelayName: s.name, Timestamp: wire.Millis(now)})
	}
}

func (s *Service) applySync(link model.BridgeLink, relay string, peers []wire.PeerInfo) {
	if relay == "" {
		relay = link.RemoteRelay
	}
	changed := s.remotes.ApplySync(link.Name, relay, remotePeers(peers))
	s.observe()
	s.log.Debug("peer sync applied", "bridge", link.Name, "peers", len(peers), "changed", changed)
	if changed {
		s.broadcastPeerList()
	}
}

// deliverBridged hands a bridged unicast to a local node. It is never
// forwarded to another bridge.
func (s *Service) deliverBridged(link model.BridgeLink, f wire.BridgeMessage) {
	n, ok := s.nodes.Find(f.TargetNodeID, f.TargetAddress)
	if !ok {
		s.log.Warn("bridged message target not found", "bridge", link.Name, "targetAddress", f.TargetAddress, "targetNodeId", f.TargetNodeID)
		return
	}
	s.sendTo(n.ID, wire.NodeMessage{
		Type:       wire.TypeNodeMessage,
		From:       f.From,
		FromNodeID: f.FromNodeID,
		FromRelay:  link.RemoteRelay,
		Payload:    f.Payload,
		Bridged:    true,
		Timestamp:  wire.Millis(s.clock.Now()),
	})
}

// deliverBridgedBroadcast reaches every local node and stops there: one
// federation hop, so bridge cycles cannot loop a broadcast.
func (s *Service) deliverBridgedBroadcast(link model.BridgeLink, f wire.BridgeBroadcast) {
	now := wire.Millis(s.clock.Now())
	for _, n := range s.nodes.Snapshot("") {
		s.sendTo(n.ID, wire.NodeMessage{
			Type:       wire.TypeNodeMessage,
			From:       f.From,
			FromNodeID: f.FromNodeID,
			FromRelay:  link.RemoteRelay,
			Payload:    f.Payload,
			Bridged:    true,
			Broadcast:  true,
			Timestamp:  now,
		})
	}
}

// syncBridges pushes the local snapshot to every link.
func (s *Service) syncBridges() {
	if s.links.Len() == 0 {
		return
	}
	frame := s.peerSync(s.clock.Now())
	for _, l := range s.links.All() {
		s.sendTo(l.ConnID, frame)
	}
}

// openLinks exposes links whose connection has not started closing. A link
// stays in the table until its close is processed, so a closing link can
// still own cache rows; the router treats it as gone.
type openLinks struct {
	table    *bridge.Table
	sessions map[string]*session
}

func (s *Service) openLinks() openLinks {
	return openLinks{table: s.links, sessions: s.sessions}
}

func (o openLinks) Open(name string) (model.BridgeLink, bool) {
	l, ok := o.table.Get(name)
	if !ok || !o.live(l) {
		return model.BridgeLink{}, false
	}
	return l, true
}

func (o openLinks) OpenLinks() []model.BridgeLink {
	all := o.table.All()
	out := all[:0]
	for _, l := range all {
		if o.live(l) {
			out = append(out, l)
		}
	}
	return out
}

func (o openLinks) live(l model.BridgeLink) bool {
	sess, ok := o.sessions[l.ConnID]
	if !ok {
		return false
	}
	select {
	case <-sess.conn.Done():
		return false
	default:
		return true
	}
}
