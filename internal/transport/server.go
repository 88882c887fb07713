//go:build linux

package transport

import (
	"context"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/R-uan/rc/internal/metrics"
	"github.com/R-uan/rc/internal/netpoll"
	"github.com/R-uan/rc/internal/pool"
	"github.com/R-uan/rc/internal/protocol"
	"github.com/R-uan/rc/internal/relay"
)

// Server is the acceptor: a single goroutine owns the readiness notifier,
// accepts new sockets, and hands client readiness events to the worker pool.
// It never reads a client socket itself.
type Server struct {
	listenFd   int
	poller     *netpoll.Poller
	clients    *relay.ClientRegistry
	dispatcher *relay.Dispatcher
	pool       *pool.Pool
	log        *zap.Logger
	metrics    *metrics.Registry

	mu   sync.Mutex
	byFD map[int]*relay.Client
	fdOf map[uint32]int
}

func NewServer(listenFd int, clients *relay.ClientRegistry, dispatcher *relay.Dispatcher, workers *pool.Pool, log *zap.Logger, reg *metrics.Registry) (*Server, error) {
	poller, err := netpoll.NewPoller()
	if err != nil {
		return nil, err
	}
	if err := poller.Add(listenFd); err != nil {
		poller.Close()
		return nil, err
	}
	return &Server{
		listenFd:   listenFd,
		poller:     poller,
		clients:    clients,
		dispatcher: dispatcher,
		pool:       workers,
		log:        log,
		metrics:    reg,
		byFD:       make(map[int]*relay.Client),
		fdOf:       make(map[uint32]int),
	}, nil
}

// Run drives the readiness loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("acceptor running", zap.Int("listen_fd", s.listenFd))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := s.poller.Wait(500)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.FD == s.listenFd {
				s.accept()
				continue
			}
			s.dispatch(ev.FD)
		}
	}
}

func (s *Server) accept() {
	nfd, _, err := syscall.Accept(s.listenFd)
	if err != nil {
		s.log.Warn("accept failed", zap.Error(err))
		return
	}
	conn := &fdConn{fd: nfd}

	client, err := s.clients.Add(conn)
	if err != nil {
		// Registry at capacity: refuse before the handshake.
		conn.Write(protocol.Encode(protocol.IDCapacity, protocol.SvrConnect, []byte("server is full")))
		conn.Close()
		s.log.Warn("connection refused, server full", zap.Int("fd", nfd))
		return
	}

	s.mu.Lock()
	s.byFD[nfd] = client
	s.fdOf[client.ID] = nfd
	s.mu.Unlock()

	if err := s.poller.AddOneShot(nfd); err != nil {
		s.log.Error("arming client socket failed", zap.Int("fd", nfd), zap.Error(err))
		s.drop(client, nfd, err)
		return
	}
	s.metrics.ConnectionsActive.Set(float64(s.clients.Len()))
	s.log.Debug("client accepted", zap.Int("fd", nfd), zap.Uint32("client", client.ID))
}

// dispatch hands one client readiness event to the pool. The fd stays
// silent until the handler rearms it, so at most one handler per client is
// in flight.
func (s *Server) dispatch(fd int) {
	s.mu.Lock()
	client := s.byFD[fd]
	s.mu.Unlock()
	if client == nil {
		return
	}

	s.pool.Submit(func() {
		if err := s.dispatcher.HandleReadable(client); err != nil {
			s.drop(client, fd, err)
			return
		}
		if err := s.poller.Rearm(fd); err != nil {
			s.drop(client, fd, err)
		}
	})
}

func (s *Server) drop(client *relay.Client, fd int, cause error) {
	s.poller.Remove(fd)
	s.mu.Lock()
	delete(s.byFD, fd)
	delete(s.fdOf, client.ID)
	s.mu.Unlock()

	if relay.IsQuit(cause) {
		s.log.Debug("client quit", zap.Uint32("client", client.ID))
	} else {
		s.log.Debug("client dropped", zap.Uint32("client", client.ID), zap.Error(cause))
	}
	s.dispatcher.Disconnect(client)
	s.metrics.ConnectionsActive.Set(float64(s.clients.Len()))
}

// Shutdown notifies every connected client, disconnects them all, and
// releases the listener and notifier.
func (s *Server) Shutdown() {
	notice := protocol.Encode(0, protocol.SvrMessage, []byte("server shutting down"))
	for _, client := range s.clients.All() {
		client.Send(notice)

		s.mu.Lock()
		fd, ok := s.fdOf[client.ID]
		s.mu.Unlock()
		if ok {
			s.drop(client, fd, nil)
		} else {
			s.dispatcher.Disconnect(client)
		}
	}
	syscall.Close(s.listenFd)
	s.poller.Close()
	s.log.Info("acceptor stopped")
}
