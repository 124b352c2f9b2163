package model

// RemotePeer is a node known only through a bridge to the relay it is connected to.
type RemotePeer struct {
	NodeID           string `json:"nodeId"`
	Address          string `json:"address"`
	TransportAddress string `json:"ip,omitempty"`
	Port             int    `json:"port"`
	BlockchainHeight Height `json:"blockchainHeight"`
	OriginBridge     string `json:"bridge"`    // BridgeLink the row was learned from
	OriginRelay      string `json:"relayName"` // relay the node is directly connected to
}

// Matches applies the same rule as LocalNode.Matches.
func (p RemotePeer) Matches(nodeID, address string) bool {
	return (nodeID != "" && p.NodeID == nodeID) || (address != "" && p.Address == address)
}
