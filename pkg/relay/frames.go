package relay

import (
	"time"

	"peer-relay/pkg/model"
	"peer-relay/pkg/wire"
)

func welcomeFrame(id, name, region string, now time.Time) wire.Welcome {
	return wire.Welcome{
		Type:        wire.TypeWelcome,
		NodeID:      id,
		RelayName:   name,
		RelayRegion: region,
		Timestamp:   wire.Millis(now),
	}
}

func shutdownFrame(now time.Time) wire.ServerShutdown {
	return wire.ServerShutdown{
		Type:      wire.TypeServerShutdown,
		Message:   "Relay is shutting down",
		Timestamp: wire.Millis(now),
	}
}

func errorFrame(msg string) wire.Error {
	return wire.Error{Type: wire.TypeError, Message: msg}
}

func localInfo(n model.LocalNode) wire.PeerInfo {
	return wire.PeerInfo{
		NodeID:           n.ID,
		Address:          n.Address,
		IP:               n.TransportAddress,
		Port:             n.Port,
		BlockchainHeight: n.BlockchainHeight,
		LastSeen:         wire.Millis(n.LastSeenAt),
	}
}

func remoteInfo(p model.RemotePeer) wire.PeerInfo {
	return wire.PeerInfo{
		NodeID:           p.NodeID,
		Address:          p.Address,
		IP:               p.TransportAddress,
		Port:             p.Port,
		BlockchainHeight: p.BlockchainHeight,
		RelayName:        p.OriginRelay,
		Remote:           true,
	}
}

func remotePeers(in []wire.PeerInfo) []model.RemotePeer {
	out := make([]model.RemotePeer, 0, len(in))
	for _, p := range in {
		out = append(out, model.RemotePeer{
			NodeID:           p.NodeID,
			Address:          p.Address,
			TransportAddress: p.IP,
			Port:             p.Port,
			BlockchainHeight: p.BlockchainHeight,
		})
	}
	return out
}

// peerList builds the list seen by connection exclude: local nodes other than
// itself followed by every remote peer.
func (s *Service) peerList(typ, exclude string, now time.Time) wire.PeerList {
	locals := s.nodes.Snapshot(exclude)
	remotes := s.remotes.All()
	peers := make([]wire.PeerInfo, 0, len(locals)+len(remotes))
	for _, n := range locals {
		peers = append(peers, localInfo(n))
	}
	for _, p := range remotes {
		peers = append(peers, remoteInfo(p))
	}
	return wire.PeerList{
		Type:        typ,
		Peers:       peers,
		LocalCount:  len(locals),
		RemoteCount: len(remotes),
		Count:       len(peers),
		Timestamp:   wire.Millis(now),
	}
}

func (s *Service) localPeers() []wire.PeerInfo {
	locals := s.nodes.Snapshot("")
	out := make([]wire.PeerInfo, 0, len(locals))
	for _, n := range locals {
		out = append(out, localInfo(n))
	}
	return out
}

func (s *Service) bridgeWelcome(now time.Time) wire.BridgeWelcome {
	return wire.BridgeWelcome{
		Type:        wire.TypeBridgeWelcome,
		RelayName:   s.name,
		RelayRegion: s.region,
		LocalPeers:  s.localPeers(),
		Timestamp:   wire.Millis(now),
	}
}

func (s *Service) peerSync(now time.Time) wire.PeerSync {
	return wire.PeerSync{
		Type:      wire.TypePeerSync,
		RelayName: s.name,
		Peers:     s.localPeers(),
		Timestamp: wire.Millis(now),
	}
}

func relayFailed(reason string, f wire.RelayMessage, now time.Time) wire.RelayFailed {
	return wire.RelayFailed{
		Type:          wire.TypeRelayFailed,
		Reason:        reason,
		TargetAddress: f.TargetAddress,
		TargetNodeID:  f.TargetNodeID,
		Timestamp:     wire.Millis(now),
	}
}
