package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"peer-relay/pkg/metrics"
	"peer-relay/pkg/model"
	"peer-relay/pkg/transport"
)

const DefaultReconnectInterval = 5 * time.Second

// PeerState is the dial state of one configured bridge peer.
type PeerState string

const (
	StateDisabled   PeerState = "disabled"
	StateConnecting PeerState = "connecting"
	StateConnected  PeerState = "connected"
)

// Peer is a relay this relay dials.
type Peer struct {
	Name    string
	URL     string
	Enabled bool
}

// Status is exposed on the status API.
type Status struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	State       PeerState `json:"state"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	LastChange  time.Time `json:"lastChange"`
}

// Server takes ownership of a dialed bridge connection. ServeConn blocks
// until the connection ends.
type Server interface {
	ServeConn(ctx context.Context, kind model.ConnKind, meta model.BridgeMeta, c *transport.Conn)
}

// DialFunc opens a connection to a peer relay.
type DialFunc func(ctx context.Context, url string, header http.Header) (*transport.Conn, error)

type ManagerConfig struct {
	Self              string
	Region            string
	Peers             []Peer
	ReconnectInterval time.Duration
	Dial              DialFunc
	Clock             clock.Clock
	Logger            *slog.Logger
	Metrics           *metrics.Relay
}

// Manager keeps one outbound link per enabled peer. A failed dial or a
// closed link is retried after a fixed delay for as long as the manager runs.
type Manager struct {
	cfg    ManagerConfig
	server Server
	log    *slog.Logger

	mu     sync.Mutex
	status map[string]*Status
}

func NewManager(cfg ManagerConfig, server Server) *Manager {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	log := cfg.Logger.With("component", "bridge")
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string, header http.Header) (*transport.Conn, error) {
			return transport.Dial(ctx, url, header, log)
		}
	}
	m := &Manager{
		cfg:    cfg,
		server: server,
		log:    log,
		status: make(map[string]*Status, len(cfg.Peers)),
	}
	now := cfg.Clock.Now()
	for _, p := range cfg.Peers {
		st := &Status{Name: p.Name, URL: p.URL, State: StateDisabled, LastChange: now}
		if p.Enabled {
			st.State = StateConnecting
		}
		m.status[p.Name] = st
	}
	return m
}

// Run dials every enabled peer until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, p := range m.cfg.Peers {
		if !p.Enabled {
			m.log.Info("bridge peer disabled", "peer", p.Name)
			continue
		}
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			m.maintain(ctx, p)
		}(p)
	}
	wg.Wait()
	return nil
}

func (m *Manager) maintain(ctx context.Context, p Peer) {
	header := transport.BridgeHeader(m.cfg.Self, m.cfg.Region)
	for ctx.Err() == nil {
		m.update(p.Name, func(st *Status) {
			st.State = StateConnecting
			st.Attempts++
		})
		conn, err := m.cfg.Dial(ctx, p.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.cfg.Metrics.BridgeDials.WithLabelValues(p.Name, "error").Inc()
			m.log.Warn("bridge dial failed", "peer", p.Name, "url", p.URL, "retryIn", m.cfg.ReconnectInterval, "err", err)
			m.update(p.Name, func(st *Status) { st.LastError = err.Error() })
			if !m.wait(ctx) {
				return
			}
			continue
		}

		m.cfg.Metrics.BridgeDials.WithLabelValues(p.Name, "ok").Inc()
		m.log.Info("bridge connected", "peer", p.Name, "url", p.URL)
		m.update(p.Name, func(st *Status) {
			st.State = StateConnected
			st.LastError = ""
			st.ConnectedAt = m.cfg.Clock.Now()
		})
		meta := model.BridgeMeta{Name: p.Name, Relay: p.Name, Direction: model.Outbound}
		m.server.ServeConn(ctx, model.KindBridge, meta, conn)
		_ = conn.Close()
		<-conn.Flushed()

		m.update(p.Name, func(st *Status) { st.State = StateConnecting })
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("bridge closed, reconnecting", "peer", p.Name, "retryIn", m.cfg.ReconnectInterval)
		if !m.wait(ctx) {
			return
		}
	}
}

func (m *Manager) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.cfg.Clock.After(m.cfg.ReconnectInterval):
		return true
	}
}

func (m *Manager) update(name string, fn func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.status[name]; ok {
		fn(st)
		st.LastChange = m.cfg.Clock.Now()
	}
}

// Statuses returns a copy of every peer's state in configuration order.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.cfg.Peers))
	for _, p := range m.cfg.Peers {
		out = append(out, *m.status[p.Name])
	}
	return out
}
