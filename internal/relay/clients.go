package relay

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrServerFull is returned when the client registry is at capacity.
var ErrServerFull = errors.New("relay: server is full")

// ClientRegistry owns every live client. Ids are monotonic and never reused
// for the lifetime of the server.
type ClientRegistry struct {
	max  int
	next atomic.Uint32

	mu   sync.RWMutex
	byID map[uint32]*Client
}

func NewClientRegistry(max int) *ClientRegistry {
	return &ClientRegistry{
		max:  max,
		byID: make(map[uint32]*Client),
	}
}

// Add creates and registers a client for an accepted socket. Rejected with
// ErrServerFull at capacity; the caller answers (-3, SVR_CONNECT) and closes.
func (r *ClientRegistry) Add(conn io.ReadWriteCloser) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byID) >= r.max {
		return nil, ErrServerFull
	}
	c := NewClient(r.next.Add(1), conn)
	r.byID[c.ID] = c
	return c, nil
}

func (r *ClientRegistry) Find(id uint32) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *ClientRegistry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// AtCapacity reports whether the connect handshake must be refused.
func (r *ClientRegistry) AtCapacity() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID) > r.max
}

// All returns a snapshot of every registered client.
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}
