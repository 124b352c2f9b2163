package model

// ConnKind is decided by the transport at accept time, before any frame is read.
type ConnKind int

const (
	KindClient ConnKind = iota
	KindBridge
)

func (k ConnKind) String() string {
	if k == KindBridge {
		return "bridge"
	}
	return "client"
}

// BridgeMeta carries the connect-time bridge marker.
type BridgeMeta struct {
	Name      string // link name on this side
	Relay     string // relay name announced by the remote side
	Region    string
	Direction Direction
}
