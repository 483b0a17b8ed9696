package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the maximum time allowed to write one frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may go without a pong before it is
	// considered dead at the transport level. This is independent of, and
	// shorter than, the application-level heartbeat timeout the registry
	// sweep enforces (spec §4.1): it exists to catch a TCP half-open
	// connection quickly, not to implement the heartbeat policy itself.
	pongWait = 30 * time.Second

	// pingPeriod must be less than pongWait so the peer has time to reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds a single inbound frame. Console output and log
	// lines are the largest expected payloads; 64KiB comfortably covers a
	// batch of lines without allowing an unbounded frame.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the capacity of the per-connection outbound queue.
	// A peer slower than this is disconnected on overflow (spec §5 backpressure).
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// conn wraps one upgraded WebSocket and runs its read/write pumps. The same
// shape serves both agent and client connections (spec §4.1.1) — only the
// dispatch callback handed in at construction differs.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	onMessage func(data []byte, isBinary bool)
	onClose   func()

	log *zap.Logger
}

func newConn(w http.ResponseWriter, r *http.Request, log *zap.Logger) (*conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &conn{ws: ws, send: make(chan []byte, sendBufferSize), log: log}, nil
}

// Send implements registry.Sender. It never blocks: a full queue means the
// peer is too slow, and the connection is closed instead.
func (c *conn) Send(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("gateway: send buffer full, dropping connection")
		_ = c.Close()
		return errSendBufferFull
	}
}

func (c *conn) Close() error {
	return c.ws.Close()
}

// run starts the write pump in a new goroutine and blocks the caller on the
// read pump, mirroring the teacher lineage's Client.Run split — the
// difference here is that readPump actually dispatches application frames
// instead of only detecting disconnects, since both agents and clients send
// more than pongs (spec §4.1 inbound message tables).
func (c *conn) run() {
	go c.writePump()
	c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		if c.onClose != nil {
			c.onClose()
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.log.Warn("gateway: unexpected close", zap.Error(err))
			}
			return
		}
		if c.onMessage != nil {
			c.onMessage(data, msgType == websocket.BinaryMessage)
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("gateway: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
