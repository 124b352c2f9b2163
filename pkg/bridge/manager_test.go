package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-relay/pkg/logging"
	"peer-relay/pkg/model"
	"peer-relay/pkg/transport"
)

type acceptedConn struct {
	kind model.ConnKind
	meta model.BridgeMeta
	conn *transport.Conn
}

// recorder serves connections until they close and reports each one.
type recorder struct {
	got chan acceptedConn
}

func newRecorder() *recorder { return &recorder{got: make(chan acceptedConn, 8)} }

func (r *recorder) ServeConn(_ context.Context, kind model.ConnKind, meta model.BridgeMeta, c *transport.Conn) {
	r.got <- acceptedConn{kind: kind, meta: meta, conn: c}
	_ = c.ReadLoop(func([]byte) {})
}

func (r *recorder) next(t *testing.T) acceptedConn {
	t.Helper()
	select {
	case a := <-r.got:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return acceptedConn{}
	}
}

func TestManagerRetriesFailedDialsWithFixedDelay(t *testing.T) {
	clk := clock.NewMock()
	var attempts atomic.Int32
	m := NewManager(ManagerConfig{
		Self:  "relay-eu",
		Peers: []Peer{{Name: "relay-us", URL: "ws://nowhere/ws", Enabled: true}, {Name: "relay-ap", URL: "ws://off/ws"}},
		Dial: func(ctx context.Context, url string, header http.Header) (*transport.Conn, error) {
			attempts.Add(1)
			assert.Equal(t, "relay-eu", header.Get(transport.HeaderBridge))
			return nil, errors.New("connection refused")
		},
		Clock:  clk,
		Logger: logging.Discard(),
	}, newRecorder())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = m.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return attempts.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		clk.Add(DefaultReconnectInterval)
		return attempts.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	st := m.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "relay-us", st[0].Name)
	assert.Equal(t, StateConnecting, st[0].State)
	assert.Equal(t, "connection refused", st[0].LastError)
	assert.GreaterOrEqual(t, st[0].Attempts, 3)
	assert.Equal(t, StateDisabled, st[1].State)
	assert.Zero(t, st[1].Attempts)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestManagerReconnectsAfterClose(t *testing.T) {
	remote := newRecorder()
	srv := httptest.NewServer(transport.NewServer(remote, "remote", logging.Discard()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	clk := clock.NewMock()
	local := newRecorder()
	m := NewManager(ManagerConfig{
		Self:   "relay-eu",
		Region: "eu-west",
		Peers:  []Peer{{Name: "relay-us", URL: url, Enabled: true}},
		Clock:  clk,
		Logger: logging.Discard(),
	}, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	in := remote.next(t)
	assert.Equal(t, model.KindBridge, in.kind)
	assert.Equal(t, "relay-eu", in.meta.Name)
	assert.Equal(t, "eu-west", in.meta.Region)

	out := local.next(t)
	assert.Equal(t, model.Outbound, out.meta.Direction)
	assert.Equal(t, "relay-us", out.meta.Name)
	require.Eventually(t, func() bool { return m.Statuses()[0].State == StateConnected }, time.Second, time.Millisecond)

	_ = in.conn.Close()
	require.Eventually(t, func() bool { return m.Statuses()[0].State == StateConnecting }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		clk.Add(DefaultReconnectInterval)
		return len(remote.got) > 0
	}, 2*time.Second, 10*time.Millisecond)
	remote.next(t)
	local.next(t)
	assert.Equal(t, 2, m.Statuses()[0].Attempts)
}
