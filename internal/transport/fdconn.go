//go:build linux

package transport

import (
	"io"
	"syscall"
)

// fdConn adapts a raw accepted socket to the io.ReadWriteCloser the engine
// expects. Sockets stay in blocking mode: handlers read at most one frame,
// whose length the client has already advertised.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(p []byte) (int, error) {
	for {
		n, err := syscall.Read(c.fd, p)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

func (c *fdConn) Write(p []byte) (int, error) {
	for {
		n, err := syscall.Write(c.fd, p)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (c *fdConn) Close() error {
	return syscall.Close(c.fd)
}
