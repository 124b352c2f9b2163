// Package metrics exposes relay counters and gauges to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay groups the collectors updated by the relay service, transport and
// bridge manager.
type Relay struct {
	LocalNodes    prometheus.Gauge
	RemotePeers   prometheus.Gauge
	BridgeLinks   *prometheus.GaugeVec   // direction
	Connections   *prometheus.CounterVec // kind
	Frames        *prometheus.CounterVec // kind, type
	Malformed     *prometheus.CounterVec // kind
	Relayed       *prometheus.CounterVec // result
	Broadcasts    prometheus.Counter
	Evictions     prometheus.Counter
	BridgeDials   *prometheus.CounterVec // peer, result
	DroppedFrames prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		LocalNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_local_nodes",
			Help: "Client nodes registered on this relay.",
		}),
		RemotePeers: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_remote_peers",
			Help: "Nodes known through bridges.",
		}),
		BridgeLinks: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_bridge_links",
			Help: "Open bridge links by direction.",
		}, []string{"direction"}),
		Connections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Accepted or dialed connections by kind.",
		}, []string{"kind"}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_received_total",
			Help: "Decoded frames by connection kind and type.",
		}, []string{"kind", "type"}),
		Malformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_malformed_total",
			Help: "Frames ignored because they were not valid JSON envelopes.",
		}, []string{"kind"}),
		Relayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_unicast_total",
			Help: "Unicast relay outcomes (local, bridged, failed).",
		}, []string{"result"}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Broadcasts accepted from local nodes.",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_stale_evictions_total",
			Help: "Local nodes evicted by the liveness sweep.",
		}),
		BridgeDials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_bridge_dials_total",
			Help: "Outbound bridge dial attempts by peer and result.",
		}, []string{"peer", "result"}),
		DroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Outgoing frames dropped because the connection queue was full or closed.",
		}),
	}
}

// NewUnregistered returns collectors bound to a private registry, for tests
// and embedded use.
func NewUnregistered() *Relay {
	return New(prometheus.NewRegistry())
}
