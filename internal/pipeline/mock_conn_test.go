package pipeline

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// mockAddr is a trivial net.Addr for the mock connection.
type mockAddr struct{ s string }

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return a.s }

// mockConn is a net.Conn test double. Each Write call is recorded as a
// separate frame so tests can assert per-write framing, which a real
// stream connection would merge. Reads serve one queued frame per call,
// mimicking the one-buffer-per-read-event model the stage is built around.
type mockConn struct {
	mu      sync.Mutex
	writes  [][]byte
	closed  bool
	failAt  int   // fail the Nth write (1-based); 0 disables
	wrCount int
	werr    error // error returned when failAt triggers

	readCh  chan []byte
	readBuf []byte
}

func newMockConn() *mockConn {
	return &mockConn{readCh: make(chan []byte, 16), werr: errors.New("injected write failure")}
}

func (c *mockConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		b, ok := <-c.readCh
		if !ok {
			return 0, io.EOF
		}
		c.readBuf = b
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *mockConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("write on closed mock conn")
	}
	c.wrCount++
	if c.failAt > 0 && c.wrCount >= c.failAt {
		return 0, c.werr
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	c.writes = append(c.writes, frame)
	return len(p), nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// frames returns a copy of the recorded writes.
func (c *mockConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// queueFrame makes buf available to the next Read call.
func (c *mockConn) queueFrame(buf []byte) {
	b := make([]byte, len(buf))
	copy(b, buf)
	c.readCh <- b
}

func (c *mockConn) LocalAddr() net.Addr                { return mockAddr{"local"} }
func (c *mockConn) RemoteAddr() net.Addr               { return mockAddr{"remote"} }
func (c *mockConn) SetDeadline(t time.Time) error      { return nil }
func (c *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *mockConn) SetWriteDeadline(t time.Time) error { return nil }
