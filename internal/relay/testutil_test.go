package relay

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/R-uan/rc/internal/metrics"
	"github.com/R-uan/rc/internal/pool"
	"github.com/R-uan/rc/internal/protocol"
)

// fakeConn is an in-memory socket: tests preload the read side with encoded
// frames and inspect the write side. Broadcast fan-out writes concurrently
// from pool workers, so everything is behind one mutex.
type fakeConn struct {
	mu     sync.Mutex
	read   bytes.Buffer
	out    bytes.Buffer
	closed int
}

func (f *fakeConn) push(frame []byte) {
	f.mu.Lock()
	f.read.Write(frame)
	f.mu.Unlock()
}

func (f *fakeConn) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return 0, io.EOF
	}
	return f.read.Read(p)
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return 0, errors.New("write on closed conn")
	}
	return f.out.Write(p)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// frames parses everything written so far, in write order.
func (f *fakeConn) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	f.mu.Lock()
	buf := make([]byte, f.out.Len())
	copy(buf, f.out.Bytes())
	f.mu.Unlock()

	r := bytes.NewReader(buf)
	var out []protocol.Frame
	for r.Len() > 0 {
		frame, err := protocol.ReadFrame(r)
		if err != nil {
			t.Fatalf("written stream is not a frame sequence: %v", err)
		}
		out = append(out, frame)
	}
	return out
}

func (f *fakeConn) framesOf(t *testing.T, typ protocol.FrameType) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for _, frame := range f.frames(t) {
		if frame.Type == typ {
			out = append(out, frame)
		}
	}
	return out
}

type fixture struct {
	pool     *pool.Pool
	clients  *ClientRegistry
	channels *ChannelRegistry
	disp     *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	workers := pool.New(4, 128)
	workers.Start(ctx)
	t.Cleanup(func() {
		cancel()
		workers.Stop()
	})

	log := zap.NewNop()
	reg := metrics.NewRegistry()
	clients := NewClientRegistry(64)
	channels := NewChannelRegistry(8, clients, workers, log, reg)
	return &fixture{
		pool:     workers,
		clients:  clients,
		channels: channels,
		disp:     NewDispatcher(clients, channels, log, reg),
	}
}

// addClient registers a session that skips the wire handshake. Channel-level
// tests use this; dispatcher tests connect through frames instead.
func (f *fixture) addClient(t *testing.T) (*Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	c, err := f.clients.Add(conn)
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	c.Connect("tester")
	return c, conn
}

// connect registers a session and runs the SVR_CONNECT handshake through the
// dispatcher.
func (f *fixture) connect(t *testing.T, nick string) (*Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	c, err := f.clients.Add(conn)
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	conn.push(protocol.Encode(1, protocol.SvrConnect, []byte(nick)))
	if err := f.disp.HandleReadable(c); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return c, conn
}

func (f *fixture) handle(t *testing.T, c *Client, frame []byte, conn *fakeConn) {
	t.Helper()
	conn.push(frame)
	if err := f.disp.HandleReadable(c); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func joinFrame(id int32, create bool, channel uint32) []byte {
	p := make([]byte, 5)
	if create {
		p[0] = 1
	}
	copy(p[1:], u32le(channel))
	return protocol.Encode(id, protocol.ChConnect, p)
}

func leaveFrame(id int32, channel uint32) []byte {
	return protocol.Encode(id, protocol.ChDisconnect, u32le(channel))
}

func chatFrame(id int32, channel uint32, text string) []byte {
	p := append(u32le(channel), text...)
	return protocol.Encode(id, protocol.ChMessage, p)
}

func commandFrame(id int32, cmd protocol.Command, channel uint32, arg []byte) []byte {
	p := append([]byte{byte(cmd)}, u32le(channel)...)
	p = append(p, arg...)
	return protocol.Encode(id, protocol.ChCommand, p)
}
