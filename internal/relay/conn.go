package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

type wsConn struct {
	conn       *websocket.Conn
	send       chan []byte
	pingPeriod time.Duration

	mu     sync.RWMutex
	closed bool
}

// newWSConn caps inbound frame size and arms the ping/pong keepalive:
// the write pump pings every pingPeriod, and each pong pushes the read
// deadline forward. A client that stops answering times out.
func newWSConn(conn *websocket.Conn, readLimit int64, pingPeriod time.Duration) *wsConn {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	pongWait := pingPeriod * 10 / 9
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{conn: conn, send: make(chan []byte, 32), pingPeriod: pingPeriod}
}

// TrySend never blocks: slow clients get dropped, not buffered forever.
func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "relay").Msg("ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func sendEnvelope(c *wsConn, kind signal.EventKind, payload any) {
	env, err := signal.NewEnvelope(kind, "", payload)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("envelope marshal")
		return
	}
	sendRaw(c, env)
}

func sendRaw(c *wsConn, env signal.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("envelope marshal")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("send dropped")
	}
}
