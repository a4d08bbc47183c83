package bus

import (
	"context"
	"sync"

	"github.com/nfrund/backplane/internal/transport"
)

// fakeTransport implements transport.Transport for testing
type fakeTransport struct {
	mu      sync.Mutex
	openErr error
	opened  []string
	conn    *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conn: newFakeConn()}
}

func (f *fakeTransport) Open(ctx context.Context, address string) (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, address)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.conn, nil
}

func (f *fakeTransport) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

// fakeConn implements transport.Conn for testing
type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	recvErr  error
	inbound  chan []byte
	closed   chan struct{}
	once     sync.Once
	closures int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Recv(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	recvErr := c.recvErr
	c.mu.Unlock()
	if recvErr != nil {
		return nil, recvErr
	}

	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closed:
		return nil, transport.ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closures++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) getSent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([][]byte, len(c.sent))
	copy(result, c.sent)
	return result
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) setRecvErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvErr = err
}
