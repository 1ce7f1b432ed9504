package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type client struct {
	id   string
	conn *websocket.Conn

	// send holds encoded frames; only the write loop touches conn for writes.
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func newClient(id string, conn *websocket.Conn, queue int, limiter *rate.Limiter) *client {
	return &client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, queue),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// kick closes the connection; the read loop then fails and runs cleanup.
// Safe to call from any goroutine, any number of times.
func (c *client) kick() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

func (c *client) writeFrame(b []byte, timeout time.Duration) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}
