// Package client is the node side of the relay protocol: it keeps one
// connection to a relay, registers on every connect and reconnects with
// exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"peer-relay/pkg/model"
	"peer-relay/pkg/transport"
	"peer-relay/pkg/wire"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultMinBackoff   = time.Second
	DefaultMaxBackoff   = 60 * time.Second
)

var ErrNotConnected = errors.New("not connected to relay")

type Config struct {
	URL              string
	Address          string
	Port             int
	BlockchainHeight int64
	PingInterval     time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	Clock            clock.Clock
	Logger           *slog.Logger
}

// Handler receives the raw frame of a subscribed type.
type Handler func(frame []byte)

type Client struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	conn     *transport.Conn
	nodeID   string
	height   int64
	handlers map[string][]Handler
}

func New(cfg Config) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "client", "address", cfg.Address),
		height:   cfg.BlockchainHeight,
		handlers: map[string][]Handler{},
	}
}

// On subscribes fn to frames of type typ. Handlers run on the read goroutine.
func (c *Client) On(typ string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[typ] = append(c.handlers[typ], fn)
}

// NodeID is the id assigned by the relay on the current connection.
func (c *Client) NodeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeID
}

// Run keeps the connection up until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.MinBackoff
	for {
		conn, err := transport.Dial(ctx, c.cfg.URL, nil, c.log)
		if err == nil {
			c.log.Info("connected to relay", "url", c.cfg.URL)
			c.session(ctx, conn)
			delay = c.cfg.MinBackoff
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("relay connection lost", "retryIn", delay)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("relay dial failed", "url", c.cfg.URL, "retryIn", delay, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.cfg.Clock.After(delay):
		}
		if err != nil {
			delay = nextBackoff(delay, c.cfg.MaxBackoff)
		}
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit || next <= 0 {
		return limit
	}
	return next
}

func (c *Client) session(ctx context.Context, conn *transport.Conn) {
	c.mu.Lock()
	c.conn = conn
	height := c.height
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.nodeID = ""
		c.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.Send(wire.Register{
		Type:             wire.TypeRegister,
		Address:          c.cfg.Address,
		Port:             c.cfg.Port,
		BlockchainHeight: model.HeightOf(height),
	}); err != nil {
		c.log.Warn("register failed", "err", err)
	}

	go c.pingLoop(conn)
	if err := conn.ReadLoop(c.dispatch); err != nil {
		c.log.Debug("read ended", "err", err)
	}
}

func (c *Client) pingLoop(conn *transport.Conn) {
	t := c.cfg.Clock.Ticker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case now := <-t.C:
			_ = conn.Send(wire.Heartbeat{Type: wire.TypePing, Timestamp: wire.Millis(now)})
		}
	}
}

func (c *Client) dispatch(frame []byte) {
	typ, err := wire.Peek(frame)
	if err != nil {
		c.log.Warn("ignoring malformed frame from relay", "err", err)
		return
	}
	switch typ {
	case wire.TypeWelcome:
		var w wire.Welcome
		if wire.Decode(frame, &w) == nil {
			c.mu.Lock()
			c.nodeID = w.NodeID
			c.mu.Unlock()
		}
	case wire.TypeError:
		var e wire.Error
		_ = wire.Decode(frame, &e)
		c.log.Warn("relay reported error", "message", e.Message)
	case wire.TypeServerShutdown:
		c.log.Info("relay is shutting down")
	}

	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[typ]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(frame)
	}
}

// Send queues any frame on the current connection.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(v)
}

func (c *Client) GetPeers() error {
	return c.Send(struct {
		Type string `json:"type"`
	}{wire.TypeGetPeers})
}

// RelayTo asks the relay to deliver payload to the node registered as address.
func (c *Client) RelayTo(address string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.Send(wire.RelayMessage{Type: wire.TypeRelayMessage, TargetAddress: address, Payload: raw})
}

func (c *Client) Broadcast(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.Send(wire.Broadcast{Type: wire.TypeBroadcast, Payload: raw})
}

// UpdateStatus reports a new height; it is also used on the next register.
func (c *Client) UpdateStatus(height int64) error {
	c.mu.Lock()
	c.height = height
	c.mu.Unlock()
	return c.Send(wire.UpdateStatus{Type: wire.TypeUpdateStatus, BlockchainHeight: model.HeightOf(height)})
}
