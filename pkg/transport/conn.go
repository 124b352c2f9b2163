package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"peer-relay/pkg/wire"
)

const (
	sendQueueSize = 256
	maxFrameSize  = 1 << 20
	writeWait     = 10 * time.Second
)

var (
	// ErrClosed is returned by Send once the connection has been closed.
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Send when the write queue is saturated; the frame is dropped.
	ErrQueueFull = errors.New("send queue full")
)

// Conn is one WebSocket connection with a dedicated write goroutine.
// Send never blocks; Close is idempotent and flushes already queued frames.
type Conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	log    *slog.Logger

	send      chan []byte
	done      chan struct{}
	flushed   chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, remote string, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		id:      id,
		remote:  remote,
		ws:      ws,
		log:     logger.With("conn", id),
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID is the connection id; for client connections it doubles as the node id.
func (c *Conn) ID() string { return c.id }

// RemoteAddr is the transport address of the other side.
func (c *Conn) RemoteAddr() string { return c.remote }

// Send encodes v and queues it for writing.
func (c *Conn) Send(v any) error {
	b, err := wire.Encode(v)
	if err != nil {
		return err
	}
	return c.SendRaw(b)
}

// SendRaw queues an already encoded frame.
func (c *Conn) SendRaw(b []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close stops the connection after queued frames are written.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Done is closed when Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Flushed is closed once the write goroutine has exited and the socket is
// closed. Frames queued before Close have been written by then, unless a
// write failed.
func (c *Conn) Flushed() <-chan struct{} { return c.flushed }

// ReadLoop delivers every text or binary message to onFrame until the
// connection fails or is closed. It always closes the connection on return.
func (c *Conn) ReadLoop(onFrame func([]byte)) error {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
				errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		onFrame(data)
	}
}

func (c *Conn) writeLoop() {
	defer close(c.flushed)
	defer c.ws.Close()
	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				c.log.Debug("write failed", "err", err)
				c.Close()
				return
			}
		case <-c.done:
		drain:
			for {
				select {
				case b := <-c.send:
					if err := c.write(b); err != nil {
						return
					}
				default:
					break drain
				}
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Conn) write(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}
