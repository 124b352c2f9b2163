package wire

import (
	"encoding/json"

	"peer-relay/pkg/model"
)

// PeerInfo is one entry of a peer list, local or remote.
type PeerInfo struct {
	NodeID           string       `json:"nodeId"`
	Address          string       `json:"address"`
	IP               string       `json:"ip,omitempty"`
	Port             int          `json:"port"`
	BlockchainHeight model.Height `json:"blockchainHeight"`
	LastSeen         int64        `json:"lastSeen,omitempty"`
	RelayName        string       `json:"relayName,omitempty"`
	Remote           bool         `json:"remote,omitempty"`
}

type Welcome struct {
	Type        string `json:"type"`
	NodeID      string `json:"nodeId"`
	RelayName   string `json:"relayName"`
	RelayRegion string `json:"relayRegion"`
	Timestamp   int64  `json:"timestamp"`
}

type Register struct {
	Type             string       `json:"type"`
	Address          string       `json:"address"`
	Port             int          `json:"port"`
	BlockchainHeight model.Height `json:"blockchainHeight"`
}

type Registered struct {
	Type      string `json:"type"`
	NodeID    string `json:"nodeId"`
	RelayName string `json:"relayName"`
	Timestamp int64  `json:"timestamp"`
}

// PeerList is used for both peerList replies and unsolicited peerListUpdate pushes.
type PeerList struct {
	Type        string     `json:"type"`
	Peers       []PeerInfo `json:"peers"`
	LocalCount  int        `json:"localCount"`
	RemoteCount int        `json:"remoteCount"`
	Count       int        `json:"count"`
	Timestamp   int64      `json:"timestamp"`
}

// Heartbeat covers ping and pong on client connections.
type Heartbeat struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type UpdateStatus struct {
	Type             string       `json:"type"`
	BlockchainHeight model.Height `json:"blockchainHeight"`
}

type RelayMessage struct {
	Type          string          `json:"type"`
	TargetNodeID  string          `json:"targetNodeId,omitempty"`
	TargetAddress string          `json:"targetAddress,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type RelaySuccess struct {
	Type          string `json:"type"`
	TargetAddress string `json:"targetAddress"`
	TargetNodeID  string `json:"targetNodeId,omitempty"`
	Bridged       bool   `json:"bridged,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

type RelayFailed struct {
	Type          string `json:"type"`
	Reason        string `json:"reason"`
	TargetAddress string `json:"targetAddress"`
	TargetNodeID  string `json:"targetNodeId"`
	Timestamp     int64  `json:"timestamp"`
}

type NodeMessage struct {
	Type       string          `json:"type"`
	From       string          `json:"from"`
	FromNodeID string          `json:"fromNodeId"`
	FromRelay  string          `json:"fromRelay,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Bridged    bool            `json:"bridged,omitempty"`
	Broadcast  bool            `json:"broadcast,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

type Broadcast struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type BroadcastSent struct {
	Type            string `json:"type"`
	LocalRecipients int    `json:"localRecipients"`
	BridgedTo       int    `json:"bridgedTo"`
	Timestamp       int64  `json:"timestamp"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerShutdown struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type BridgeWelcome struct {
	Type        string     `json:"type"`
	RelayName   string     `json:"relayName"`
	RelayRegion string     `json:"relayRegion"`
	LocalPeers  []PeerInfo `json:"localPeers"`
	Timestamp   int64      `json:"timestamp"`
}

type PeerSync struct {
	Type      string     `json:"type"`
	RelayName string     `json:"relayName"`
	Peers     []PeerInfo `json:"peers"`
	Timestamp int64      `json:"timestamp"`
}

type BridgeMessage struct {
	Type          string          `json:"type"`
	From          string          `json:"from"`
	FromNodeID    string          `json:"fromNodeId"`
	TargetAddress string          `json:"targetAddress"`
	TargetNodeID  string          `json:"targetNodeId"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"`
}

type BridgeBroadcast struct {
	Type       string          `json:"type"`
	From       string          `json:"from"`
	FromNodeID string          `json:"fromNodeId"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  int64           `json:"timestamp"`
}

// BridgeHeartbeat covers bridge_ping and bridge_pong.
type BridgeHeartbeat struct {
	Type      string `json:"type"`
	RelayName string `json:"relayName,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
