package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// welcomeTimeout bounds the wait for the relay to announce our endpoint id.
const welcomeTimeout = 10 * time.Second

// Client is an endpoint's channel to the relay.
type Client struct {
	conn *websocket.Conn
	id   string

	mu sync.Mutex // serializes writes; gorilla allows one concurrent writer

	closeOnce sync.Once
}

// Dial connects to the relay at url (e.g. ws://127.0.0.1:4000/ws) and waits
// for the welcome envelope carrying the relay-assigned endpoint id.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Client{conn: conn}

	if err := conn.SetReadDeadline(time.Now().Add(welcomeTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to arm welcome deadline: %w", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to clear welcome deadline: %w", err)
	}

	if env.Event != EventWelcome {
		conn.Close()
		return nil, fmt.Errorf("%w: expected welcome, got %q", ErrUnknownEvent, env.Event)
	}
	if c.id, err = DecodeWelcome(env); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

// ID returns the endpoint id assigned by the relay.
func (c *Client) ID() string { return c.id }

// Close closes the channel with a normal closure frame. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}
