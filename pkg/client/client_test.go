package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peer-relay/pkg/logging"
	"peer-relay/pkg/model"
	"peer-relay/pkg/relay"
	"peer-relay/pkg/transport"
	"peer-relay/pkg/wire"
)

func startRelay(t *testing.T) string {
	t.Helper()
	svc := relay.New(relay.Options{Name: "relay-test", Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()
	srv := httptest.NewServer(transport.NewServer(svc, "relay-test", logging.Discard()))
	t.Cleanup(func() {
		cancel()
		<-svc.Done()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func startClient(t *testing.T, url, address string) (*Client, chan []byte) {
	t.Helper()
	c := New(Config{URL: url, Address: address, Port: 5000, MinBackoff: 10 * time.Millisecond, Logger: logging.Discard()})
	frames := make(chan []byte, 32)
	for _, typ := range []string{wire.TypeRegistered, wire.TypeNodeMessage, wire.TypeBroadcastSent, wire.TypePeerList, wire.TypeRelaySuccess} {
		c.On(typ, func(b []byte) { frames <- b })
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = c.Run(ctx); close(done) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, frames
}

func await(t *testing.T, frames chan []byte, typ string, v any) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case b := <-frames:
			got, err := wire.Peek(b)
			require.NoError(t, err)
			if got == typ {
				require.NoError(t, json.Unmarshal(b, v))
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestClientsExchangeMessages(t *testing.T) {
	url := startRelay(t)
	a, aFrames := startClient(t, url, "nodeA")
	b, bFrames := startClient(t, url, "nodeB")

	var reg wire.Registered
	await(t, aFrames, wire.TypeRegistered, &reg)
	assert.Equal(t, a.NodeID(), reg.NodeID)
	await(t, bFrames, wire.TypeRegistered, &reg)

	require.NoError(t, b.RelayTo("nodeA", map[string]string{"msg": "hi"}))
	var ok wire.RelaySuccess
	await(t, bFrames, wire.TypeRelaySuccess, &ok)
	assert.Equal(t, "nodeA", ok.TargetAddress)

	var msg wire.NodeMessage
	await(t, aFrames, wire.TypeNodeMessage, &msg)
	assert.Equal(t, "nodeB", msg.From)
	assert.JSONEq(t, `{"msg":"hi"}`, string(msg.Payload))

	require.NoError(t, a.Broadcast("gm"))
	var sent wire.BroadcastSent
	await(t, aFrames, wire.TypeBroadcastSent, &sent)
	assert.Equal(t, 1, sent.LocalRecipients)
	await(t, bFrames, wire.TypeNodeMessage, &msg)
	assert.True(t, msg.Broadcast)

	require.NoError(t, a.UpdateStatus(77))
	require.NoError(t, a.GetPeers())
	var list wire.PeerList
	await(t, aFrames, wire.TypePeerList, &list)
	require.Len(t, list.Peers, 1)
	assert.Equal(t, "nodeB", list.Peers[0].Address)
}

// dropper closes every connection after reading its first frame.
type dropper struct {
	accepted atomic.Int32
	first    chan []byte
}

func (d *dropper) ServeConn(_ context.Context, _ model.ConnKind, _ model.BridgeMeta, c *transport.Conn) {
	d.accepted.Add(1)
	_ = c.ReadLoop(func(b []byte) {
		select {
		case d.first <- b:
		default:
		}
		_ = c.Close()
	})
}

func TestClientReconnectsAndReregisters(t *testing.T) {
	d := &dropper{first: make(chan []byte, 8)}
	srv := httptest.NewServer(transport.NewServer(d, "dropper", logging.Discard()))
	defer srv.Close()

	startClient(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", "nodeA")

	require.Eventually(t, func() bool { return d.accepted.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
	for i := 0; i < 2; i++ {
		var reg wire.Register
		require.NoError(t, json.Unmarshal(<-d.first, &reg))
		assert.Equal(t, wire.TypeRegister, reg.Type)
		assert.Equal(t, "nodeA", reg.Address)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws", Address: "nodeA", Logger: logging.Discard()})
	assert.ErrorIs(t, c.GetPeers(), ErrNotConnected)
	assert.ErrorIs(t, c.RelayTo("nodeB", 1), ErrNotConnected)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(40*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(time.Minute, time.Minute))
}
