package hub

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// ConnLike is the subset of a websocket connection used by Client.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Client is one realtime connection of an authenticated user.
type Client struct {
	id   string
	UID  string
	Name string
	Conn ConnLike

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(uid, name string, conn ConnLike, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		id:   uuid.NewString(),
		UID:  uid,
		Name: name,
		Conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string    { return c.id }
func (c *Client) Owner() string { return c.UID }

// Send queues payload without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrSlowConsumer
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// ReadPump feeds every inbound frame to handle until the connection fails.
func (c *Client) ReadPump(handle func(data []byte)) {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		handle(data)
	}
}

// WritePump drains the send queue into the connection until Close.
func (c *Client) WritePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
