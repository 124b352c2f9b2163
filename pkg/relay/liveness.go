package relay

import "peer-relay/pkg/wire"

// sweepStale evicts nodes whose lastSeenAt is at least the node timeout old.
// Their sockets are closed here; the close that follows finds no registry
// entry and triggers nothing further.
func (s *Service) sweepStale() {
	now := s.clock.Now()
	stale := s.nodes.Stale(now, s.timeout)
	if len(stale) == 0 {
		return
	}
	for _, id := range stale {
		n, _ := s.nodes.Remove(id)
		s.metrics.Evictions.Inc()
		s.log.Info("evicting stale node", "conn", id, "address", n.Address, "lastSeen", n.LastSeenAt)
		if sess, ok := s.sessions[id]; ok {
			_ = sess.conn.Close()
		}
	}
	s.observe()
	s.broadcastPeerList()
	s.syncBridges()
}

// heartbeatBridges pushes a full resync and a ping on every link.
func (s *Service) heartbeatBridges() {
	if s.links.Len() == 0 {
		return
	}
	now := s.clock.Now()
	sync := s.peerSync(now)
	ping := wire.BridgeHeartbeat{Type: wire.TypeBridgePing, RelayName: s.name, Timestamp: wire.Millis(now)}
	for _, l := range s.links.All() {
		s.sendTo(l.ConnID, sync)
		s.sendTo(l.ConnID, ping)
	}
}
