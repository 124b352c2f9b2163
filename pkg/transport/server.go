// Package transport accepts and dials the relay's WebSocket connections and
// decides, before any frame is read, whether a connection is a client node or
// a bridge from another relay.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"peer-relay/pkg/model"
)

// Connect-time bridge marker. HeaderBridge carries the dialing relay's name.
const (
	HeaderBridge = "X-Relay-Bridge"
	HeaderRegion = "X-Relay-Region"
)

// Handler owns an accepted connection until it returns.
type Handler interface {
	ServeConn(ctx context.Context, kind model.ConnKind, meta model.BridgeMeta, c *Conn)
}

// Server upgrades HTTP requests and hands connections to a Handler.
type Server struct {
	handler  Handler
	banner   string
	upgrader websocket.Upgrader
	log      *slog.Logger

	// Hijacked connections are invisible to http.Server.Shutdown.
	conns sync.WaitGroup
}

func NewServer(h Handler, banner string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: h,
		banner:  banner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.With("component", "transport"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, s.banner)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	kind, meta := Classify(r)
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newConn(ws, remoteHost(r), s.log)
	s.log.Debug("connection accepted", "conn", c.ID(), "kind", kind, "remote", c.RemoteAddr())
	s.handler.ServeConn(r.Context(), kind, meta, c)
	_ = c.Close()
	<-c.Flushed()
}

// Wait blocks until every accepted connection has been handed back by its
// Handler and has written out its queued frames, or until ctx ends. Call it
// after the listener has stopped accepting.
func (s *Server) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Classify decides the connection kind from the request headers.
func Classify(r *http.Request) (model.ConnKind, model.BridgeMeta) {
	name := strings.TrimSpace(r.Header.Get(HeaderBridge))
	if name == "" {
		return model.KindClient, model.BridgeMeta{}
	}
	return model.KindBridge, model.BridgeMeta{
		Name:      name,
		Relay:     name,
		Region:    strings.TrimSpace(r.Header.Get(HeaderRegion)),
		Direction: model.Inbound,
	}
}

func remoteHost(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BridgeHeader builds the marker headers a relay sends when dialing a peer relay.
func BridgeHeader(self, region string) http.Header {
	h := http.Header{}
	h.Set(HeaderBridge, self)
	if region != "" {
		h.Set(HeaderRegion, region)
	}
	return h
}

var dialer = websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
}

// Dial opens a connection to url. A nil header dials as a client node.
func Dial(ctx context.Context, url string, header http.Header, logger *slog.Logger) (*Conn, error) {
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	remote := url
	if addr := ws.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return newConn(ws, remote, logger), nil
}
