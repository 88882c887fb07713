//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Listener setup failures map to distinct process exit codes in main.
var (
	ErrSocket = errors.New("transport: socket creation failed")
	ErrBind   = errors.New("transport: bind failed")
	ErrListen = errors.New("transport: listen failed")
)

// Listen creates the server socket, binds it, and starts listening. The fd
// is returned raw; the acceptor drives it through the readiness notifier.
func Listen(host string, port int) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrSocket, err)
	}

	// Allow fast restarts on the same port.
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)

	ip := net.ParseIP(host).To4()
	if ip == nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("%w: %q is not an IPv4 address", ErrBind, host)
	}
	addr := &syscall.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ip)

	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("%w: %v", ErrBind, err)
	}
	if err := syscall.Listen(fd, syscall.SOMAXCONN); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("%w: %v", ErrListen, err)
	}
	return fd, nil
}
