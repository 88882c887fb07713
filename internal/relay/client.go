package relay

import (
	"io"
	"sync"
	"sync/atomic"
)

// Client is one connected peer. The client registry holds the only owning
// reference; channels refer to clients by id and resolve them through the
// registry at use time, so dropping the registry entry is the authoritative
// removal point.
type Client struct {
	ID uint32

	conn io.ReadWriteCloser

	mu        sync.Mutex
	name      string
	connected bool
	channels  []uint32 // joined channel ids, insertion order

	writeMu sync.Mutex
	broken  atomic.Bool
	closing atomic.Bool
	once    sync.Once
}

func NewClient(id uint32, conn io.ReadWriteCloser) *Client {
	return &Client{ID: id, conn: conn}
}

// Connect finalises the handshake, fixing the display name to "<nick>@<id>".
func (c *Client) Connect(name string) {
	c.mu.Lock()
	c.name = name
	c.connected = true
	c.mu.Unlock()
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Join records channel membership on the client side.
func (c *Client) Join(channel uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.channels {
		if id == channel {
			return
		}
	}
	c.channels = append(c.channels, channel)
}

// Leave forgets a channel id. Safe to call for ids never joined.
func (c *Client) Leave(channel uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range c.channels {
		if id == channel {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			return
		}
	}
}

func (c *Client) IsMember(channel uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.channels {
		if id == channel {
			return true
		}
	}
	return false
}

// Channels returns a snapshot of the joined channel ids.
func (c *Client) Channels() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, len(c.channels))
	copy(out, c.channels)
	return out
}

// Send writes one encoded frame, best-effort. A failed write never fails the
// caller; it marks the socket broken so the readiness loop reaps the client
// on its next event. Writes are serialised so a handler reply and a
// concurrent broadcast cannot interleave on the wire.
func (c *Client) Send(frame []byte) bool {
	if c.broken.Load() {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for off := 0; off < len(frame); {
		n, err := c.conn.Write(frame[off:])
		if err != nil {
			c.broken.Store(true)
			return false
		}
		off += n
	}
	return true
}

// Broken reports whether a previous write failed on this socket.
func (c *Client) Broken() bool {
	return c.broken.Load()
}

// BeginClose claims the disconnect path. Only the first caller proceeds,
// making the path idempotent.
func (c *Client) BeginClose() bool {
	return c.closing.CompareAndSwap(false, true)
}

// Close shuts the socket exactly once.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.conn.Close()
	})
}
