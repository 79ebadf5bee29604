package opsfeed

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 32
)

// upgrader performs the HTTP -> WebSocket protocol upgrade. CheckOrigin
// always returns true — origin validation is left to the reverse proxy in
// front of the operator API.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected operator dashboard peer. The feed is server-push
// only: readPump exists solely to detect disconnection and service pong
// frames, never to accept application messages from the client.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	topics []string
	logger *zap.Logger
}

// NewClient upgrades the HTTP connection to WebSocket and subscribes it to
// topics (typically "fleet" plus "device:<id>" for a device detail view).
func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, topics []string, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBufferSize),
		topics: topics,
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}, nil
}

// Run registers the client with the hub and blocks until the connection
// closes.
func (c *Client) Run() {
	c.hub.Subscribe(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("opsfeed: failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("opsfeed: unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("opsfeed: failed to set write deadline", zap.Error(err))
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("opsfeed: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("opsfeed: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("opsfeed: ping error", zap.Error(err))
				return
			}
		}
	}
}
