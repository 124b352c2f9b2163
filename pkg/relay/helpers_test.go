package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"peer-relay/pkg/logging"
	"peer-relay/pkg/model"
	"peer-relay/pkg/transport"
)

// fakeConn records every frame the service sends.
type fakeConn struct {
	id     string
	remote string

	mu     sync.Mutex
	frames [][]byte

	done chan struct{}
	once sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, remote: "10.0.0.1", done: make(chan struct{})}
}

func (f *fakeConn) ID() string            { return f.id }
func (f *fakeConn) RemoteAddr() string    { return f.remote }
func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) Send(v any) error {
	select {
	case <-f.done:
		return transport.ErrClosed
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, b := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(b, &env)
		out = append(out, env.Type)
	}
	return out
}

// ofType returns the raw frames of type typ in send order.
func (f *fakeConn) ofType(typ string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, b := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(b, &env) == nil && env.Type == typ {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeConn) count(typ string) int { return len(f.ofType(typ)) }

// last decodes the most recent frame of type typ into v.
func (f *fakeConn) last(t *testing.T, typ string, v any) {
	t.Helper()
	frames := f.ofType(typ)
	require.NotEmpty(t, frames, "no %s frame on %s (got %v)", typ, f.id, f.types())
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], v))
}

type harness struct {
	t   *testing.T
	svc *Service
	clk *clock.Mock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clk := clock.NewMock()
	opts.Clock = clk
	if opts.Name == "" {
		opts.Name = "relay-eu"
		opts.Region = "eu-west"
	}
	opts.Logger = logging.Discard()
	svc := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-svc.Done()
	})
	return &harness{t: t, svc: svc, clk: clk}
}

// quietHarness never fires its tickers; sweeps and heartbeats are run explicitly.
func quietHarness(t *testing.T) *harness {
	return newHarness(t, Options{SweepInterval: 24 * time.Hour, HeartbeatInterval: 24 * time.Hour})
}

// do runs fn on the service goroutine.
func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.svc.call(context.Background(), fn))
}

// flush waits until everything posted so far has been handled.
func (h *harness) flush() { h.do(func() {}) }

func (h *harness) client(id string) *fakeConn {
	c := newFakeConn(id)
	require.True(h.t, h.svc.Attach(model.KindClient, model.BridgeMeta{}, c))
	h.flush()
	return c
}

func (h *harness) registered(id, address string, port int) *fakeConn {
	c := h.client(id)
	h.frame(c, map[string]any{"type": "register", "address": address, "port": port, "blockchainHeight": 1})
	return c
}

func (h *harness) bridge(id, name string, dir model.Direction) *fakeConn {
	c := newFakeConn(id)
	meta := model.BridgeMeta{Name: name, Relay: name, Direction: dir}
	require.True(h.t, h.svc.Attach(model.KindBridge, meta, c))
	h.flush()
	return c
}

func (h *harness) frame(c *fakeConn, v any) {
	h.t.Helper()
	b, err := json.Marshal(v)
	require.NoError(h.t, err)
	h.raw(c, b)
}

func (h *harness) raw(c *fakeConn, b []byte) {
	h.svc.Frame(c.id, b)
	h.flush()
}

func (h *harness) detach(c *fakeConn) {
	_ = c.Close()
	h.svc.Detach(c.id)
	h.flush()
}

func (h *harness) status() Snapshot {
	h.t.Helper()
	snap, err := h.svc.Status(context.Background())
	require.NoError(h.t, err)
	return snap
}

func syncFrame(relay string, addrs ...string) map[string]any {
	peers := make([]map[string]any, 0, len(addrs))
	for _, a := range addrs {
		peers = append(peers, map[string]any{"nodeId": "id-" + a, "address": a, "ip": "192.0.2.10", "port": 6000})
	}
	return map[string]any{"type": "peer_sync", "relayName": relay, "peers": peers, "timestamp": 1}
}
