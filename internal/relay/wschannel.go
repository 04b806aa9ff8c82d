package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/standardbeagle/perfdash/internal/debug"
)

// wsChannel is a Channel over a WebSocket connection. Frames are queued and
// written by a dedicated goroutine so Send never blocks the broker.
type wsChannel struct {
	id   string
	name string
	conn *websocket.Conn

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	writeTimeout time.Duration
	pingInterval time.Duration
}

func newWSChannel(conn *websocket.Conn, name string, queue int, writeTimeout, pingInterval time.Duration) *wsChannel {
	if queue <= 0 {
		queue = 1
	}
	ch := &wsChannel{
		id:           uuid.NewString(),
		name:         name,
		conn:         conn,
		out:          make(chan []byte, queue),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
	go ch.writeLoop()
	return ch
}

func (c *wsChannel) ID() string   { return c.id }
func (c *wsChannel) Name() string { return c.name }

// Send queues msg. It fails with ErrChannelClosed after Close and with
// ErrSendQueueFull when the writer has fallen behind.
func (c *wsChannel) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	default:
		return ErrSendQueueFull
	}
}

// Close stops the writer, which sends a close frame and closes the
// connection. Frames still queued are dropped.
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Done is closed once the underlying connection is closed.
func (c *wsChannel) Done() <-chan struct{} {
	return c.done
}

func (c *wsChannel) writeLoop() {
	defer close(c.done)
	defer c.conn.Close()

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.out:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				debug.Log("relay", "channel %s: write failed: %v", c.id, err)
				c.Close()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeoutOr(time.Second))); err != nil {
				debug.Log("relay", "channel %s: ping failed: %v", c.id, err)
				c.Close()
				return
			}
		}
	}
}

func (c *wsChannel) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

func (c *wsChannel) writeTimeoutOr(d time.Duration) time.Duration {
	if c.writeTimeout > 0 {
		return c.writeTimeout
	}
	return d
}
