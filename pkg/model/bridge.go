package model

import "time"

// Direction tells which side dialed a bridge.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// BridgeLink is an open connection to another relay.
type BridgeLink struct {
	Name         string    `json:"bridgeName"`
	ConnID       string    `json:"connectionId"`
	Direction    Direction `json:"direction"`
	RemoteRelay  string    `json:"remoteRelay"`
	RemoteRegion string    `json:"remoteRegion,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeenAt   time.Time `json:"lastSeen"`
}
