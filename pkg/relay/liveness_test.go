package relay

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-relay/pkg/logging"
	"peer-relay/pkg/model"
	"peer-relay/pkg/wire"
)

func TestEvictionNeverBeforeTimeout(t *testing.T) {
	h := quietHarness(t)
	a := h.registered("a", "nodeA", 5000)
	b := h.registered("b", "nodeB", 5001)
	link := h.bridge("l1", "relay-us", model.Outbound)

	h.clk.Add(60 * time.Second)
	h.frame(b, map[string]any{"type": "ping"})
	h.clk.Add(59 * time.Second)
	h.do(h.svc.sweepStale)
	assert.False(t, a.closed(), "119s of silence is not enough")
	assert.Len(t, h.status().LocalNodes, 2)

	b.reset()
	link.reset()
	h.clk.Add(time.Second)
	h.do(h.svc.sweepStale)

	assert.True(t, a.closed())
	assert.False(t, b.closed())
	assert.Equal(t, 1, b.count(wire.TypePeerListUpdate))
	assert.Equal(t, 1, link.count(wire.TypePeerSync))
	nodes := h.status().LocalNodes
	require.Len(t, nodes, 1)
	assert.Equal(t, "nodeB", nodes[0].Address)

	// The close that follows the eviction must not notify again.
	h.svc.Detach(a.id)
	h.flush()
	assert.Equal(t, 1, b.count(wire.TypePeerListUpdate))
}

func TestSweepTickerEvictsSilentNode(t *testing.T) {
	h := newHarness(t, Options{HeartbeatInterval: 24 * time.Hour})
	a := h.registered("a", "nodeA", 5000)
	b := h.registered("b", "nodeB", 5001)

	h.clk.Add(30 * time.Second)
	h.frame(b, map[string]any{"type": "ping"})

	h.clk.Add(30 * time.Second) // sweep at 60s
	assert.Never(t, a.closed, 50*time.Millisecond, 5*time.Millisecond)

	h.clk.Add(60 * time.Second) // sweep at 120s
	require.Eventually(t, a.closed, time.Second, 5*time.Millisecond)
	assert.False(t, b.closed(), "b was seen at 30s")

	h.clk.Add(60 * time.Second) // sweep at 180s
	require.Eventually(t, b.closed, time.Second, 5*time.Millisecond)
}

func TestHeartbeatResyncsAndPingsEveryLink(t *testing.T) {
	h := newHarness(t, Options{SweepInterval: 24 * time.Hour})
	h.registered("a", "nodeA", 5000)
	out := h.bridge("l1", "relay-us", model.Outbound)
	in := h.bridge("l2", "relay-ap", model.Inbound)
	out.reset()
	in.reset()

	h.clk.Add(30 * time.Second)
	for _, l := range []*fakeConn{out, in} {
		require.Eventually(t, func() bool { return l.count(wire.TypeBridgePing) == 1 }, time.Second, 5*time.Millisecond)
		var sync wire.PeerSync
		l.last(t, wire.TypePeerSync, &sync)
		require.Len(t, sync.Peers, 1)
		assert.Equal(t, "nodeA", sync.Peers[0].Address)
	}
}

func TestShutdownNotifiesClientsAndClosesEverything(t *testing.T) {
	svc := New(Options{Name: "relay-eu", Clock: clock.NewMock(), Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()

	a, x, link := newFakeConn("a"), newFakeConn("x"), newFakeConn("l1")
	require.True(t, svc.Attach(model.KindClient, model.BridgeMeta{}, a))
	require.True(t, svc.Attach(model.KindClient, model.BridgeMeta{}, x))
	require.True(t, svc.Attach(model.KindBridge, model.BridgeMeta{Name: "relay-us", Direction: model.Outbound}, link))
	svc.Frame("a", []byte(`{"type":"register","address":"nodeA","port":5000}`))
	require.NoError(t, svc.call(context.Background(), func() {}))

	cancel()
	<-svc.Done()

	for _, c := range []*fakeConn{a, x} {
		assert.True(t, c.closed())
		assert.Equal(t, 1, c.count(wire.TypeServerShutdown))
	}
	assert.True(t, link.closed())
	assert.Zero(t, link.count(wire.TypeServerShutdown))

	assert.False(t, svc.Attach(model.KindClient, model.BridgeMeta{}, newFakeConn("late")))
	_, err := svc.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
