package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Message is one frame of the websocket protocol.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Conn interface {
	Send(msg Message) error
	Receive() (Message, error)
	Close() error
}

// WSConn speaks the JSON envelope protocol over a gorilla websocket.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to the server's websocket endpoint, e.g. ws://host:3002/ws.
func Dial(ctx context.Context, url string, header http.Header) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WSConn{conn: conn}, nil
}

func (c *WSConn) Send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *WSConn) Receive() (Message, error) {
	var msg Message
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
