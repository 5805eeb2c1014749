// ABOUTME: Websocket transport for the client role.
// ABOUTME: Dials the gateway with a bearer token and frames one JSON message per websocket message.

package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is a message-oriented connection carrying one JSON frame per
// message. The fake used in tests and the websocket Conn both satisfy it.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Conn is a websocket connection to the gateway.
type Conn struct {
	ws *websocket.Conn

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// Dial connects to the gateway's websocket endpoint. An empty token omits
// the Authorization header.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *Conn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}
