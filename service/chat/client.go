package chat

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Client wraps one websocket connection. All writes go through the buffered
// send channel and a single write pump, since gorilla connections allow only
// one concurrent writer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues a frame for delivery. A client whose buffer is full is assumed
// dead and disconnected.
func (c *Client) Send(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		logger.Warnf("[ws] dropping slow client")
		c.Close()
	}
}

func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// WritePump drains the send channel onto the wire and keeps the connection
// alive with pings. It owns the connection's write side until Close.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[ws] write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
