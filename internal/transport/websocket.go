package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// DefaultMaxFrameSize limits the size of a single frame read from a websocket.
const DefaultMaxFrameSize = 1 << 20

// HeaderProcessName carries the process name to the backplane for its logs.
const HeaderProcessName = "X-Backplane-Process"

// WebSocket connects to a backplane server over ws:// or wss://.
type WebSocket struct {
	// ProcessName is sent to the backplane when dialing. Optional.
	ProcessName string
	// MaxFrameSize overrides DefaultMaxFrameSize when positive.
	MaxFrameSize int64
	// HTTPClient is used for the handshake. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

var _ Transport = (*WebSocket)(nil)

// Open implements Transport.
func (w *WebSocket) Open(ctx context.Context, address string) (Conn, error) {
	scheme, err := Scheme(address)
	if err != nil {
		return nil, err
	}
	if scheme != "ws" && scheme != "wss" {
		return nil, fmt.Errorf("%w: %q is not a websocket address", ErrInvalidAddress, address)
	}

	header := http.Header{}
	if w.ProcessName != "" {
		header.Set(HeaderProcessName, w.ProcessName)
	}

	conn, _, err := websocket.Dial(ctx, address, &websocket.DialOptions{
		HTTPClient: w.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	limit := w.MaxFrameSize
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}
	conn.SetReadLimit(limit)

	return newWSConn(conn), nil
}

// wsConn reads on its own goroutine. A canceled Read context tears the whole
// websocket down, so callers' contexts never reach conn.Read.
type wsConn struct {
	conn    *websocket.Conn
	frames  chan []byte
	readErr error // written before frames is closed
	cancel  context.CancelFunc
	closing chan struct{}
	once    sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		conn:    conn,
		frames:  make(chan []byte, 64),
		cancel:  cancel,
		closing: make(chan struct{}),
	}
	go c.readPump(ctx)
	return c
}

// readPump pumps binary messages from the websocket into frames.
func (c *wsConn) readPump(ctx context.Context) {
	defer close(c.frames)
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.readErr = err
			return
		}
		if typ != websocket.MessageBinary {
			// Only binary messages carry frames.
			continue
		}
		select {
		case c.frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	return c.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (c *wsConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.frames:
		if !ok {
			if c.isClosed() {
				return nil, ErrConnClosed
			}
			return nil, fmt.Errorf("read: %w", c.readErr)
		}
		return data, nil
	case <-c.closing:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.closing)
		// A failed close handshake leaves nothing to clean up; the
		// underlying connection is torn down either way.
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return nil
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}
