// Package gateway is the participant's websocket link to the signaling
// gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("gateway connection closed")

// Handler receives every decoded inbound message in arrival order.
type Handler func(ctx context.Context, m protocol.Message) error

type Client struct {
	conn     *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

// Dial connects to the gateway's websocket endpoint. The user id travels as a
// query parameter; the gateway echoes it back as the sender on relayed
// messages.
func Dial(ctx context.Context, rawURL string, user string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	q := u.Query()
	q.Set("user", user)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	log.Info().Str("module", "gateway").Str("url", u.Redacted()).Msg("connected")

	return &Client{
		conn:     conn,
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
	}, nil
}

// Send queues m for the write pump. It blocks while the queue is full.
func (c *Client) Send(ctx context.Context, m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Run pumps both directions until ctx is done or the connection drops.
// Frames queued before ctx is done are still written before the close.
// Undecodable frames are logged and skipped.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(ctx)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("module", "gateway").Msg("readPump read error")
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		m, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "gateway").Msg("bad frame")
			continue
		}
		if err := handle(ctx, m); err != nil && !errors.Is(err, core.ErrStaleMessage) {
			log.Debug().Err(err).Str("module", "gateway").Str("type", string(m.Type())).Msg("handler")
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-ctx.Done():
			c.flush()
			c.Close()
			return
		case <-c.done:
			return
		}
	}
}

// flush writes what is still queued, typically the final leave.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "gateway").Msg("flush on close")
				return
			}
		default:
			return
		}
	}
}

// Close sends a close frame and drops the connection. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
}
