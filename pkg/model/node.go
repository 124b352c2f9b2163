package model

import "time"

// LocalNode is a client node directly connected to this relay.
// ID doubles as the connection id assigned at accept time.
type LocalNode struct {
	ID               string    `json:"nodeId"`
	Address          string    `json:"address"`          // client-claimed logical id
	TransportAddress string    `json:"ip"`               // remote socket address
	Port             int       `json:"port"`             // declared by the client, not verified
	BlockchainHeight Height    `json:"blockchainHeight"`
	ConnectedAt      time.Time `json:"connectedAt"`
	LastSeenAt       time.Time `json:"lastSeen"`
}

// Matches reports whether the node is the target of a unicast request.
// Empty criteria never match.
func (n LocalNode) Matches(nodeID, address string) bool {
	return (nodeID != "" && n.ID == nodeID) || (address != "" && n.Address == address)
}
