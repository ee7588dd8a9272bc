package chat

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Client is one live connection. A *Client is the connection handle stored
// in the presence registry.
type Client struct {
	Id       string
	Identity string // empty for anonymous connections
	Conn     ConnLike
	Send     chan []byte

	done      chan struct{}
	closeOnce sync.Once
	seen      *lru.Cache[string, struct{}]
}

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// NewClient wraps conn. buffer sizes the outbound queue, dedupe the number
// of recent delivery keys remembered for the connection.
func NewClient(identity string, conn ConnLike, buffer, dedupe int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	if dedupe <= 0 {
		dedupe = 128
	}
	seen, _ := lru.New[string, struct{}](dedupe)
	return &Client{
		Id:       uuid.NewString(),
		Identity: identity,
		Conn:     conn,
		Send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		seen:     seen,
	}
}

// ReadPump drains inbound frames until the connection fails. Clients have
// nothing to say on this channel; everything they send goes over HTTP.
func (c *Client) ReadPump() {
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) WritePump() {
	for {
		select {
		case data := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver queues f for the write pump. With timeout <= 0 it never blocks.
// A frame whose key was already delivered counts as delivered.
func (c *Client) deliver(f frame, timeout time.Duration) bool {
	if f.key != "" && c.seen.Contains(f.key) {
		return true
	}
	if c.Closed() {
		return false
	}
	if timeout <= 0 {
		select {
		case c.Send <- f.data:
		default:
			return false
		}
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case c.Send <- f.data:
		case <-c.done:
			return false
		case <-t.C:
			return false
		}
	}
	if f.key != "" {
		c.seen.Add(f.key, struct{}{})
	}
	return true
}
