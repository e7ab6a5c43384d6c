package wsserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second

	maxFrameSize = 1 << 20
)

// connection wraps one upgraded websocket. All writes go through the
// send queue and the single write pump; TrySend never blocks, so a
// slow reader shows up as a full queue rather than a stalled caller.
type connection struct {
	ws *websocket.Conn

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	// closeCode and closeReason are set by the first Close call and
	// written by the write pump before the socket is torn down.
	closeCode   int
	closeReason string
}

func newConnection(ws *websocket.Conn, sendQueueCapacity int) *connection {
	ws.SetReadLimit(maxFrameSize)
	return &connection{
		ws:     ws,
		send:   make(chan []byte, sendQueueCapacity),
		closed: make(chan struct{}),
	}
}

// TrySend enqueues an encoded frame without blocking. It reports false
// when the queue is full or the connection is closing.
func (c *connection) TrySend(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close records the close code and reason and wakes the write pump to
// deliver them. Safe to call multiple times; only the first wins.
func (c *connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closed)
	})
}

// writePump drains the send queue onto the socket and sends periodic
// pings. It owns all writes; it exits once Close fires or a write
// fails, delivering the close frame on the way out.
func (c *connection) writePump() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.ws.Close()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ping.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.closed:
			// Flush whatever is already queued before closing.
			for {
				select {
				case frame := <-c.send:
					c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
					if c.ws.WriteMessage(websocket.TextMessage, frame) != nil {
						return
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
					msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
					c.ws.WriteMessage(websocket.CloseMessage, msg)
					return
				}
			}
		}
	}
}

// readLoop yields inbound text frames to handle until the peer goes
// away or Close fires.
func (c *connection) readLoop(handle func(raw []byte)) {
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.Close(websocket.CloseAbnormalClosure, "")
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		handle(raw)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}
