// Package stream connects to the item server's WebSocket endpoint and turns
// its push messages into a channel of [model.Notification] values.
//
// [WSClient] is the low-level callback client. [Session] wraps one connection
// as a bounded, non-restartable channel of [Result] values and is what the
// sync engine consumes.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers receives connection events. OnEvent is called for every text
// frame, in order, from a single goroutine. Exactly one of OnClosed or
// OnFailure is called when the connection ends.
type Handlers struct {
	OnEvent   func(data []byte)
	OnClosed  func()
	OnFailure func(err error)
}

// Client is a push connection to the server.
type Client interface {
	// Open connects and starts delivering frames to h. It returns once the
	// connection is established.
	Open(ctx context.Context, h Handlers) error
	// Close releases the connection. It is safe to call at any time and more
	// than once.
	Close() error
	// Authorize sets the token sent on the next Open and, when connected,
	// sends it on the live connection too.
	Authorize(token string)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// authMessage is the first frame sent after connecting.
type authMessage struct {
	Type    string `json:"type"`
	Payload struct {
		Token string `json:"token"`
	} `json:"payload"`
}

func newAuthMessage(token string) authMessage {
	var m authMessage
	m.Type = "authorization"
	m.Payload.Token = token
	return m
}

// WSClient implements [Client] with gorilla/websocket.
type WSClient struct {
	url    string
	dialer *websocket.Dialer
	log    *slog.Logger

	mu      sync.Mutex
	token   string
	conn    *websocket.Conn
	writeMu sync.Mutex
	closing bool
}

// NewWSClient creates a client for the ws:// or wss:// URL.
func NewWSClient(url, token string, logger *slog.Logger) *WSClient {
	return &WSClient{
		url:    url,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:    logger,
	}
}

// Open dials the server, sends the authorization frame, and starts the read
// loop. Calling Open on a connected client is an error.
func (c *WSClient) Open(ctx context.Context, h Handlers) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("stream already open")
	}
	token := c.token
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.closing = false
	c.mu.Unlock()

	if token != "" {
		if err := c.writeJSON(conn, newAuthMessage(token)); err != nil {
			_ = conn.Close()
			c.clear(conn)
			return fmt.Errorf("send authorization: %w", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop(conn, done)
	go c.readLoop(conn, done, h)

	c.log.Debug("event stream connected", "url", c.url)
	return nil
}

// Close sends a close frame and tears the connection down. The read loop then
// reports OnClosed.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return conn.Close()
}

// Authorize stores the token for future connections and pushes it over the
// live connection, if any.
func (c *WSClient) Authorize(token string) {
	c.mu.Lock()
	c.token = token
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && token != "" {
		if err := c.writeJSON(conn, newAuthMessage(token)); err != nil {
			c.log.Warn("re-authorizing event stream failed", "error", err)
		}
	}
}

func (c *WSClient) writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}, h Handlers) {
	defer close(done)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			c.clear(conn)
			_ = conn.Close()

			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("event stream closed")
				if h.OnClosed != nil {
					h.OnClosed()
				}
				return
			}
			c.log.Debug("event stream failed", "error", err)
			if h.OnFailure != nil {
				h.OnFailure(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if h.OnEvent != nil {
			h.OnEvent(data)
		}
	}
}

func (c *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// clear forgets conn if it is still the current connection.
func (c *WSClient) clear(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}
