package relay

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/R-uan/rc/internal/metrics"
	"github.com/R-uan/rc/internal/pool"
)

var (
	// ErrTooManyChannels is returned when the channel registry is at capacity.
	ErrTooManyChannels = errors.New("relay: too many channels")
	// ErrChannelExists is returned when creating an id that is already taken.
	ErrChannelExists = errors.New("relay: channel already exists")
)

// ChannelRegistry owns every live channel; everything else refers to
// channels by id.
type ChannelRegistry struct {
	max     int
	clients *ClientRegistry
	pool    *pool.Pool
	log     *zap.Logger
	metrics *metrics.Registry

	mu   sync.RWMutex
	byID map[uint32]*Channel
}

func NewChannelRegistry(max int, clients *ClientRegistry, workers *pool.Pool, log *zap.Logger, reg *metrics.Registry) *ChannelRegistry {
	return &ChannelRegistry{
		max:     max,
		clients: clients,
		pool:    workers,
		log:     log,
		metrics: reg,
		byID:    make(map[uint32]*Channel),
	}
}

// Create allocates a channel with the creator as emperor and sole member,
// links the channel id into the creator's joined set, and publishes it.
// Returns the CH_CONNECT info payload.
func (r *ChannelRegistry) Create(id uint32, creator *Client) ([]byte, error) {
	r.mu.Lock()
	if _, ok := r.byID[id]; ok {
		r.mu.Unlock()
		return nil, ErrChannelExists
	}
	if len(r.byID) >= r.max {
		r.mu.Unlock()
		return nil, ErrTooManyChannels
	}
	ch := NewChannel(id, creator, r.clients, r.pool, r.log, r.metrics)
	creator.Join(id)
	r.byID[id] = ch
	r.mu.Unlock()

	r.metrics.ChannelsActive.Inc()
	r.log.Info("channel created",
		zap.Uint32("channel", id), zap.Uint32("emperor", creator.ID))
	return ch.Info(), nil
}

func (r *ChannelRegistry) Find(id uint32) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Drop unlinks the channel and destroys it. Callers must not hold any
// channel lock; destruction notifies the surviving members.
func (r *ChannelRegistry) Drop(id uint32, reason string) {
	r.mu.Lock()
	ch, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.metrics.ChannelsActive.Dec()
	ch.Destroy(reason)
}

func (r *ChannelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
