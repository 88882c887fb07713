//go:build linux

// Package netpoll wraps epoll(7) as the relay's readiness notifier. Client
// sockets are armed one-shot: after an event fires the fd stays silent until
// the handler rearms it, which serialises handlers per connection.
package netpoll

import (
	"sync"
	"syscall"
)

// Event reports one ready file descriptor.
type Event struct {
	FD int
}

type Poller struct {
	epfd   int
	mu     sync.Mutex // serialises epoll_ctl
	events []syscall.EpollEvent
}

func NewPoller() (*Poller, error) {
	epfd, err := syscall.EpollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:   epfd,
		events: make([]syscall.EpollEvent, 128),
	}, nil
}

// Add registers fd for level-triggered read readiness (the listener socket).
func (p *Poller) Add(fd int) error {
	return p.ctl(syscall.EPOLL_CTL_ADD, fd, syscall.EPOLLIN)
}

// AddOneShot registers fd for a single read-readiness notification.
func (p *Poller) AddOneShot(fd int) error {
	return p.ctl(syscall.EPOLL_CTL_ADD, fd, syscall.EPOLLIN|syscall.EPOLLONESHOT)
}

// Rearm re-enables one-shot read readiness after a handler finished.
func (p *Poller) Rearm(fd int) error {
	return p.ctl(syscall.EPOLL_CTL_MOD, fd, syscall.EPOLLIN|syscall.EPOLLONESHOT)
}

// Remove deletes fd from the interest list.
func (p *Poller) Remove(fd int) error {
	return p.ctl(syscall.EPOLL_CTL_DEL, fd, 0)
}

func (p *Poller) ctl(op, fd int, events uint32) error {
	ev := syscall.EpollEvent{Events: events, Fd: int32(fd)}
	p.mu.Lock()
	defer p.mu.Unlock()
	return syscall.EpollCtl(p.epfd, op, fd, &ev)
}

// Wait blocks up to msec milliseconds (-1 for no timeout) and returns the
// ready descriptors. A zero-length result means the timeout elapsed.
func (p *Poller) Wait(msec int) ([]Event, error) {
	n, err := syscall.EpollWait(p.epfd, p.events, msec)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, err
	}
	ready := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, Event{FD: int(p.events[i].Fd)})
	}
	return ready, nil
}

func (p *Poller) Close() error {
	return syscall.Close(p.epfd)
}
