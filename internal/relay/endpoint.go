package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024 // SDP with many m-lines stays well below this
)

// wsEndpoint is one WebSocket channel. Every write goes through the outbox
// and a single writer goroutine, so Send never blocks the forwarding path.
type wsEndpoint struct {
	conn   *websocket.Conn
	outbox chan signaling.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

var _ Endpoint = (*wsEndpoint)(nil)

// newWSEndpoint wraps conn and starts its writer loop.
func newWSEndpoint(conn *websocket.Conn, outboxSize int) *wsEndpoint {
	e := &wsEndpoint{
		conn:   conn,
		outbox: make(chan signaling.Envelope, outboxSize),
		done:   make(chan struct{}),
	}
	go e.loop()
	return e
}

// Send enqueues env. A full outbox drops env instead of stalling the sender's
// read loop.
func (e *wsEndpoint) Send(env signaling.Envelope) error {
	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}

	select {
	case e.outbox <- env:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Close stops the writer and closes the connection. Safe to call multiple times.
func (e *wsEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		err = e.conn.Close()
	})
	return err
}

// loop is the single-writer goroutine: it drains the outbox and keeps the
// connection alive with pings.
func (e *wsEndpoint) loop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-e.outbox:
			if err := e.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				util.LogWarning("failed to set write deadline: %v", err)
				e.Close()
				return
			}
			if err := e.conn.WriteJSON(env); err != nil {
				util.LogWarning("failed to write %s: %v", env.Event, err)
				e.Close()
				return
			}

		case <-ticker.C:
			if err := e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				e.Close()
				return
			}

		case <-e.done:
			return
		}
	}
}
