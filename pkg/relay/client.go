package relay

import (
	"strings"

	"peer-relay/pkg/model"
	"peer-relay/pkg/router"
	"peer-relay/pkg/wire"
)

func (s *Service) handleFrame(id string, data []byte) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	kind := sess.kind.String()
	typ, err := wire.Peek(data)
	if err != nil {
		s.metrics.Malformed.WithLabelValues(kind).Inc()
		s.log.Warn("ignoring malformed frame", "conn", id, "kind", kind, "err", err)
		return
	}
	s.metrics.Frames.WithLabelValues(kind, typ).Inc()
	if sess.kind == model.KindBridge {
		s.handleBridgeFrame(sess, typ, data)
		return
	}
	s.handleClientFrame(sess, typ, data)
}

func (s *Service) handleClientFrame(sess *session, typ string, data []byte) {
	if !wire.IsClientRequest(typ) {
		s.log.Warn("unknown message type", "conn", sess.conn.ID(), "type", typ)
		s.send(sess, errorFrame("Unknown message type: "+typ))
		return
	}
	switch typ {
	case wire.TypeRegister:
		var f wire.Register
		if s.decode(sess, typ, data, &f) {
			s.register(sess, f)
		}
	case wire.TypeGetPeers:
		s.send(sess, s.peerList(wire.TypePeerList, sess.conn.ID(), s.clock.Now()))
	case wire.TypePing:
		now := s.clock.Now()
		s.nodes.Touch(sess.conn.ID(), now)
		s.send(sess, wire.Heartbeat{Type: wire.TypePong, Timestamp: wire.Millis(now)})
	case wire.TypeUpdateStatus:
		var f wire.UpdateStatus
		if s.decode(sess, typ, data, &f) {
			if !s.nodes.UpdateHeight(sess.conn.ID(), f.BlockchainHeight, s.clock.Now()) {
				s.send(sess, errorFrame("node not registered"))
			}
		}
	case wire.TypeRelayMessage:
		var f wire.RelayMessage
		if s.decode(sess, typ, data, &f) {
			s.relayMessage(sess, f)
		}
	case wire.TypeBroadcast:
		var f wire.Broadcast
		if s.decode(sess, typ, data, &f) {
			s.broadcast(sess, f)
		}
	}
}

// decode reports false, after logging, when a frame of a known type has
// fields of the wrong shape. Such frames get the malformed treatment.
func (s *Service) decode(sess *session, typ string, data []byte, v any) bool {
	if err := wire.Decode(data, v); err != nil {
		s.metrics.Malformed.WithLabelValues(sess.kind.String()).Inc()
		s.log.Warn("ignoring malformed frame", "conn", sess.conn.ID(), "type", typ, "err", err)
		return false
	}
	return true
}

func (s *Service) register(sess *session, f wire.Register) {
	addr := strings.TrimSpace(f.Address)
	if addr == "" {
		s.send(sess, errorFrame("register requires an address"))
		return
	}
	now := s.clock.Now()
	id := sess.conn.ID()
	n, created := s.nodes.Register(id, addr, sess.conn.RemoteAddr(), f.Port, f.BlockchainHeight, now)
	s.log.Info("node registered", "conn", id, "address", n.Address, "port", n.Port, "height", n.BlockchainHeight, "new", created)
	s.observe()
	s.send(sess, wire.Registered{
		Type:      wire.TypeRegistered,
		NodeID:    id,
		RelayName: s.name,
		Timestamp: wire.Millis(now),
	})
	s.broadcastPeerList()
	s.syncBridges()
}

// sender returns the address a message is attributed to; unregistered
// connections are attributed to their connection id.
func (s *Service) sender(id string) string {
	if n, ok := s.nodes.Get(id); ok {
		return n.Address
	}
	return id
}

func (s *Service) relayMessage(sess *session, f wire.RelayMessage) {
	now := s.clock.Now()
	id := sess.conn.ID()
	if f.TargetNodeID == "" && f.TargetAddress == "" {
		s.metrics.Relayed.WithLabelValues("failed").Inc()
		s.send(sess, relayFailed("missing target", f, now))
		return
	}

	d := router.Resolve(s.nodes, s.remotes, s.openLinks(), f.TargetNodeID, f.TargetAddress)
	switch d.Kind {
	case router.Local:
		s.sendTo(d.Node.ID, wire.NodeMessage{
			Type:       wire.TypeNodeMessage,
			From:       s.sender(id),
			FromNodeID: id,
			Payload:    f.Payload,
			Timestamp:  wire.Millis(now),
		})
		s.metrics.Relayed.WithLabelValues("local").Inc()
		s.send(sess, wire.RelaySuccess{
			Type:          wire.TypeRelaySuccess,
			TargetAddress: d.Node.Address,
			TargetNodeID:  d.Node.ID,
			Timestamp:     wire.Millis(now),
		})
	case router.Remote:
		s.sendTo(d.Link.ConnID, wire.BridgeMessage{
			Type:          wire.TypeBridgeMessage,
			From:          s.sender(id),
			FromNodeID:    id,
			TargetAddress: d.Peer.Address,
			TargetNodeID:  d.Peer.NodeID,
			Payload:       f.Payload,
			Timestamp:     wire.Millis(now),
		})
		s.metrics.Relayed.WithLabelValues("bridged").Inc()
		s.log.Debug("message bridged", "from", id, "target", d.Peer.Address, "bridge", d.Link.Name)
		s.send(sess, wire.RelaySuccess{
			Type:          wire.TypeRelaySuccess,
			TargetAddress: d.Peer.Address,
			TargetNodeID:  d.Peer.NodeID,
			Bridged:       true,
			Timestamp:     wire.Millis(now),
		})
	default:
		s.metrics.Relayed.WithLabelValues("failed").Inc()
		s.send(sess, relayFailed("Target node not found", f, now))
	}
}

func (s *Service) broadcast(sess *session, f wire.Broadcast) {
	now := s.clock.Now()
	id := sess.conn.ID()
	from := s.sender(id)
	plan := router.PlanBroadcast(s.nodes, s.openLinks(), id)

	for _, n := range plan.Nodes {
		s.sendTo(n.ID, wire.NodeMessage{
			Type:       wire.TypeNodeMessage,
			From:       from,
			FromNodeID: id,
			Payload:    f.Payload,
			Broadcast:  true,
			Timestamp:  wire.Millis(now),
		})
	}
	for _, l := range plan.Links {
		s.sendTo(l.ConnID, wire.BridgeBroadcast{
			Type:       wire.TypeBridgeBroadcast,
			From:       from,
			FromNodeID: id,
			Payload:    f.Payload,
			Timestamp:  wire.Millis(now),
		})
	}
	s.metrics.Broadcasts.Inc()
	s.send(sess, wire.BroadcastSent{
		Type:            wire.TypeBroadcastSent,
		LocalRecipients: len(plan.Nodes),
		BridgedTo:       len(plan.Links),
		Timestamp:       wire.Millis(now),
	})
}

func (s *Service) broadcastPeerList() {
	now := s.clock.Now()
	for _, n := range s.nodes.Snapshot("") {
		s.sendTo(n.ID, s.peerList(wire.TypePeerListUpdate, n.ID, now))
	}
}
