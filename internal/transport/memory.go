package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultInboxSize is the number of received frames a connection buffers
// before it starts dropping new ones.
const DefaultInboxSize = 256

// Memory is an in-process bus backed by watermill's GoChannel.
// Each address names an independent bus: mem://lab and mem://bench never see
// each other's frames.
type Memory struct {
	pubSub    *gochannel.GoChannel
	inboxSize int
	logger    *slog.Logger
}

var _ Transport = (*Memory)(nil)

// MemoryOption configures a Memory transport.
type MemoryOption func(*Memory)

// WithInboxSize sets how many frames each connection buffers.
func WithInboxSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.inboxSize = n
		}
	}
}

// NewMemory initializes an in-memory bus shared by every connection it opens.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		inboxSize: DefaultInboxSize,
		logger:    slog.Default().With("transport", "memory"),
	}
	for _, opt := range opts {
		opt(m)
	}

	// Publishers wait for every connection's pump to take the frame, which keeps
	// frames in publish order. Pumps never block, so this wait is short.
	m.pubSub = gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermill.NewStdLogger(false, false),
	)
	return m
}

// Open implements Transport. The address has the form mem://<bus-name>.
func (m *Memory) Open(ctx context.Context, address string) (Conn, error) {
	name, err := memoryBusName(address)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := m.pubSub.Subscribe(subCtx, name)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to bus %q: %w", name, err)
	}

	conn := &memoryConn{
		bus:     name,
		pub:     m.pubSub,
		inbox:   make(chan []byte, m.inboxSize),
		cancel:  cancel,
		closing: make(chan struct{}),
		logger:  m.logger.With("bus", name),
	}
	go conn.pump(messages)

	return conn, nil
}

// Close shuts the whole in-memory bus down. Open connections stop receiving.
func (m *Memory) Close() error {
	return m.pubSub.Close()
}

func memoryBusName(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if u.Scheme != "mem" {
		return "", fmt.Errorf("%w: %q is not a mem:// address", ErrInvalidAddress, address)
	}
	name := u.Host + u.Path
	if name == "" {
		return "", fmt.Errorf("%w: %q names no bus", ErrInvalidAddress, address)
	}
	return name, nil
}

type memoryConn struct {
	bus     string
	pub     message.Publisher
	inbox   chan []byte
	cancel  context.CancelFunc
	closing chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// pump moves frames from the watermill subscription into the inbox. The
// subscription ends when the connection or the whole bus is closed; the
// inbox is closed after it.
func (c *memoryConn) pump(messages <-chan *message.Message) {
	defer close(c.inbox)
	for msg := range messages {
		frame := append([]byte(nil), msg.Payload...)
		msg.Ack()

		select {
		case c.inbox <- frame:
		default:
			c.logger.Warn("Inbox full, dropping frame", "frame_size", len(frame))
		}
	}
	c.logger.Debug("Memory connection pump ended")
}

func (c *memoryConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	default:
	}

	msg := message.NewMessage(watermill.NewUUID(), frame)
	msg.SetContext(ctx)
	return c.pub.Publish(c.bus, msg)
}

func (c *memoryConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-c.inbox:
		if !ok {
			if c.isClosed() {
				return nil, ErrConnClosed
			}
			return nil, ErrBusClosed
		}
		return frame, nil
	case <-c.closing:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memoryConn) Close() error {
	c.once.Do(func() {
		close(c.closing)
		c.cancel()
	})
	return nil
}

func (c *memoryConn) isClosed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}
