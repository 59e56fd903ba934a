package bus

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by operations on a conn after Close has run.
var ErrClosed = errors.New("bus: connection closed")

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
}

// conn wraps a *websocket.Conn with a single writer goroutine (gorilla
// websocket connections may not be written to concurrently from multiple
// goroutines) and fans out received envelopes to onRecv.
type conn struct {
	ws     *websocket.Conn
	send   chan Envelope
	onRecv func(Envelope)
	onDone func(error)

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, onRecv func(Envelope), onDone func(error)) *conn {
	c := &conn{
		ws:     ws,
		send:   make(chan Envelope, 256),
		onRecv: onRecv,
		onDone: onDone,
		closed: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case env, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *conn) readLoop() {
	var lastErr error
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			lastErr = err
			break
		}
		if c.onRecv != nil {
			c.onRecv(env)
		}
	}
	c.Close()
	if c.onDone != nil {
		c.onDone(lastErr)
	}
}

// Write enqueues env for sending. It never blocks the caller past the
// channel buffer; a full buffer is treated as transient backpressure by
// callers that need retry semantics (Pusher).
func (c *conn) Write(env Envelope) error {
	select {
	case <-c.closed:
		return ErrClosed
	case c.send <- env:
		return nil
	default:
		return errTransient
	}
}

// WriteBlocking enqueues env, blocking up to timeout if the send buffer is
// full.
func (c *conn) WriteBlocking(env Envelope, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.closed:
		return ErrClosed
	case c.send <- env:
		return nil
	case <-t.C:
		return errTransient
	}
}

func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

var errTransient = errors.New("bus: transient backpressure")
