// Package wire defines the JSON frames exchanged between relays, client nodes
// and bridged relays. Every frame is one JSON object with a string "type".
package wire

// Client-facing frame types.
const (
	TypeWelcome        = "welcome"
	TypeRegister       = "register"
	TypeRegistered     = "registered"
	TypeGetPeers       = "getPeers"
	TypePeerList       = "peerList"
	TypePeerListUpdate = "peerListUpdate"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeUpdateStatus   = "updateStatus"
	TypeRelayMessage   = "relayMessage"
	TypeRelaySuccess   = "relaySuccess"
	TypeRelayFailed    = "relayFailed"
	TypeNodeMessage    = "nodeMessage"
	TypeBroadcast      = "broadcast"
	TypeBroadcastSent  = "broadcastSent"
	TypeError          = "error"
	TypeServerShutdown = "serverShutdown"
)

// Bridge-only frame types.
const (
	TypeBridgeWelcome   = "bridge_welcome"
	TypePeerSync        = "peer_sync"
	TypeBridgeMessage   = "bridge_message"
	TypeBridgeBroadcast = "bridge_broadcast"
	TypeBridgePing      = "bridge_ping"
	TypeBridgePong      = "bridge_pong"
)

var clientInbound = map[string]struct{}{
	TypeRegister:     {},
	TypeGetPeers:     {},
	TypePing:         {},
	TypeUpdateStatus: {},
	TypeRelayMessage: {},
	TypeBroadcast:    {},
}

var bridgeInbound = map[string]struct{}{
	TypeBridgeWelcome:   {},
	TypePeerSync:        {},
	TypeBridgeMessage:   {},
	TypeBridgeBroadcast: {},
	TypeBridgePing:      {},
	TypeBridgePong:      {},
}

// IsClientRequest reports whether t may be sent by a client node.
func IsClientRequest(t string) bool {
	_, ok := clientInbound[t]
	return ok
}

// IsBridgeFrame reports whether t may be sent over a bridge link.
func IsBridgeFrame(t string) bool {
	_, ok := bridgeInbound[t]
	return ok
}
