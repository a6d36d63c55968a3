package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channel carries JSON-RPC messages over a websocket, one message per text
// frame. It satisfies the jrpc2 channel.Channel interface.
type Channel struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer
	wmu sync.Mutex
}

func NewChannel(conn *websocket.Conn) *Channel {
	return &Channel{conn: conn}
}

func (c *Channel) Send(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Recv returns io.EOF once the peer closes the socket.
func (c *Channel) Recv() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, net.ErrClosed) ||
			websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	return msg, nil
}

func (c *Channel) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
