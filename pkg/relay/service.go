// Package relay is the discovery service: it owns the node registry, the
// remote peer cache and the bridge link table, and handles every frame that
// arrives on client and bridge connections.
//
// The Service is an actor. Run executes closures posted to its mailbox one at
// a time, together with the sweep and heartbeat ticks, so handlers never run
// concurrently and need no locks.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"peer-relay/pkg/bridge"
	"peer-relay/pkg/metrics"
	"peer-relay/pkg/model"
	"peer-relay/pkg/peercache"
	"peer-relay/pkg/registry"
	"peer-relay/pkg/transport"
)

const (
	DefaultSweepInterval     = 60 * time.Second
	DefaultNodeTimeout       = 120 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	defaultMailboxSize       = 1024
)

// ErrStopped is returned by calls made after Run has exited.
var ErrStopped = errors.New("relay service stopped")

// Conn is the part of a connection the service needs.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(v any) error
	Close() error
	Done() <-chan struct{}
}

type Options struct {
	Name              string
	Region            string
	SweepInterval     time.Duration
	NodeTimeout       time.Duration
	HeartbeatInterval time.Duration
	MailboxSize       int
	Clock             clock.Clock
	Logger            *slog.Logger
	Metrics           *metrics.Relay
}

type session struct {
	conn Conn
	kind model.ConnKind
	link string // bridge name, bridge sessions only
}

type Service struct {
	name    string
	region  string
	timeout time.Duration
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Relay

	mailbox   chan func()
	done      chan struct{}
	sweep     *clock.Ticker
	heartbeat *clock.Ticker
	startedAt time.Time

	// Owned by the Run goroutine.
	nodes    *registry.Registry
	remotes  *peercache.Cache
	links    *bridge.Table
	sessions map[string]*session
}

func New(opts Options) *Service {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = DefaultNodeTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	return &Service{
		name:      opts.Name,
		region:    opts.Region,
		timeout:   opts.NodeTimeout,
		clock:     opts.Clock,
		log:       opts.Logger.With("component", "relay", "relay", opts.Name),
		metrics:   opts.Metrics,
		mailbox:   make(chan func(), opts.MailboxSize),
		done:      make(chan struct{}),
		sweep:     opts.Clock.Ticker(opts.SweepInterval),
		heartbeat: opts.Clock.Ticker(opts.HeartbeatInterval),
		startedAt: opts.Clock.Now(),
		nodes:     registry.New(),
		remotes:   peercache.New(),
		links:     bridge.NewTable(),
		sessions:  make(map[string]*session),
	}
}

func (s *Service) Name() string { return s.name }

// Run processes the mailbox and timers until ctx is cancelled, then notifies
// client nodes and closes every connection.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.sweep.Stop()
	defer s.heartbeat.Stop()

	s.log.Info("relay service started", "region", s.region)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.mailbox:
			fn()
		case <-s.sweep.C:
			s.sweepStale()
		case <-s.heartbeat.C:
			s.heartbeatBridges()
		}
	}
}

// Done is closed once Run has returned.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.mailbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the service goroutine and waits for it.
func (s *Service) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() { fn(); close(finished) }) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Attach binds a new connection to the service. Client connections receive
// welcome. Inbound bridges receive bridge_welcome, outbound bridges peer_sync.
func (s *Service) Attach(kind model.ConnKind, meta model.BridgeMeta, c Conn) bool {
	return s.post(func() { s.attach(kind, meta, c) })
}

// Frame hands one raw frame read from connection id to the service.
func (s *Service) Frame(id string, data []byte) {
	s.post(func() { s.handleFrame(id, data) })
}

// Detach runs the close path of connection id. It is the same for graceful
// and abrupt closes, and a no-op for unknown ids.
func (s *Service) Detach(id string) {
	s.post(func() { s.detach(id) })
}

// ServeConn implements transport.Handler. It blocks until the connection ends.
func (s *Service) ServeConn(ctx context.Context, kind model.ConnKind, meta model.BridgeMeta, c *transport.Conn) {
	if !s.Attach(kind, meta, c) {
		_ = c.Close()
		return
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.ReadLoop(func(b []byte) { s.Frame(c.ID(), b) }); err != nil {
		s.log.Debug("connection read ended", "conn", c.ID(), "kind", kind, "err", err)
	}
	s.Detach(c.ID())
}

func (s *Service) attach(kind model.ConnKind, meta model.BridgeMeta, c Conn) {
	now := s.clock.Now()
	sess := &session{conn: c, kind: kind}
	s.sessions[c.ID()] = sess
	s.metrics.Connections.WithLabelValues(kind.String()).Inc()

	if kind == model.KindClient {
		s.log.Info("client connected", "conn", c.ID(), "remote", c.RemoteAddr())
		s.send(sess, welcomeFrame(c.ID(), s.name, s.region, now))
		return
	}

	link := s.links.Add(model.BridgeLink{
		Name:         meta.Name,
		ConnID:       c.ID(),
		Direction:    meta.Direction,
		RemoteRelay:  meta.Relay,
		RemoteRegion: meta.Region,
		ConnectedAt:  now,
		LastSeenAt:   now,
	})
	sess.link = link.Name
	s.observe()
	s.log.Info("bridge connected", "bridge", link.Name, "direction", link.Direction, "remote", c.RemoteAddr())
	if link.Direction == model.Inbound {
		s.send(sess, s.bridgeWelcome(now))
	} else {
		s.send(sess, s.peerSync(now))
	}
}

func (s *Service) detach(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	_ = sess.conn.Close()

	if sess.kind == model.KindClient {
		n, ok := s.nodes.Remove(id)
		if !ok {
			s.log.Debug("client disconnected", "conn", id)
			return
		}
		s.log.Info("node disconnected", "conn", id, "address", n.Address)
		s.observe()
		s.broadcastPeerList()
		s.syncBridges()
		return
	}

	link, ok := s.links.RemoveByConn(id)
	if !ok {
		return
	}
	purged := s.remotes.OnBridgeClosed(link.Name)
	s.observe()
	s.log.Info("bridge disconnected", "bridge", link.Name, "purgedPeers", purged)
	s.broadcastPeerList()
}

func (s *Service) shutdown() {
	now := s.clock.Now()
	for _, sess := range s.sessions {
		if sess.kind == model.KindClient {
			s.send(sess, shutdownFrame(now))
		}
		_ = sess.conn.Close()
	}
	s.log.Info("relay service stopped", "clients", s.nodes.Len(), "bridges", s.links.Len())
}

// send is fire-and-forget; a full or closed queue drops the frame.
func (s *Service) send(sess *session, v any) {
	if err := sess.conn.Send(v); err != nil {
		s.metrics.DroppedFrames.Inc()
		if errors.Is(err, transport.ErrClosed) {
			s.log.Debug("frame dropped on closed connection", "conn", sess.conn.ID())
			return
		}
		s.log.Warn("frame dropped", "conn", sess.conn.ID(), "err", err)
	}
}

func (s *Service) sendTo(id string, v any) {
	if sess, ok := s.sessions[id]; ok {
		s.send(sess, v)
	}
}

func (s *Service) observe() {
	s.metrics.LocalNodes.Set(float64(s.nodes.Len()))
	s.metrics.RemotePeers.Set(float64(s.remotes.Len()))
	var in, out int
	for _, l := range s.links.All() {
		if l.Direction == model.Inbound {
			in++
		} else {
			out++
		}
	}
	s.metrics.BridgeLinks.WithLabelValues(string(model.Inbound)).Set(float64(in))
	s.metrics.BridgeLinks.WithLabelValues(string(model.Outbound)).Set(float64(out))
}

// Snapshot is a point-in-time copy of the service state.
type Snapshot struct {
	Name        string             `json:"relayName"`
	Region      string             `json:"relayRegion"`
	StartedAt   time.Time          `json:"startedAt"`
	Uptime      time.Duration      `json:"uptime"` // measured on the service clock
	LocalNodes  []model.LocalNode  `json:"localNodes"`
	RemotePeers []model.RemotePeer `json:"remotePeers"`
	Links       []model.BridgeLink `json:"bridges"`
}

// Status copies the current tables.
func (s *Service) Status(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() {
		snap = Snapshot{
			Name:        s.name,
			Region:      s.region,
			StartedAt:   s.startedAt,
			Uptime:      s.clock.Since(s.startedAt),
			LocalNodes:  s.nodes.Snapshot(""),
			RemotePeers: s.remotes.All(),
			Links:       s.links.All(),
		}
	})
	return snap, err
}
