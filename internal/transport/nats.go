package transport

import (
	"context"
	"fmt"
	"sync"

	nats "github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject all frames travel on when none is configured.
const DefaultNATSSubject = "backplane.frames"

// NATS uses a NATS server as the bus. Every connection publishes to and
// subscribes on a single subject.
type NATS struct {
	// Subject overrides DefaultNATSSubject.
	Subject string
	// Name identifies the connection on the NATS server. Optional.
	Name string
	// InboxSize overrides DefaultInboxSize.
	InboxSize int
}

var _ Transport = (*NATS)(nil)

// Open implements Transport. The address is a NATS server URL such as nats://127.0.0.1:4222.
func (n *NATS) Open(ctx context.Context, address string) (Conn, error) {
	conn := &natsConn{
		closing: make(chan struct{}),
		lost:    make(chan struct{}),
	}

	// nats.go gives up after its reconnect attempts and closes the connection
	// without closing subscription channels.
	opts := []nats.Option{
		nats.ClosedHandler(func(nc *nats.Conn) {
			conn.markLost(nc.LastError())
		}),
	}
	if n.Name != "" {
		opts = append(opts, nats.Name(n.Name))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(timeUntil(deadline)))
	}

	nc, err := nats.Connect(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", address, err)
	}

	subject := n.Subject
	if subject == "" {
		subject = DefaultNATSSubject
	}
	size := n.InboxSize
	if size <= 0 {
		size = DefaultInboxSize
	}

	inbox := make(chan *nats.Msg, size)
	sub, err := nc.ChanSubscribe(subject, inbox)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	conn.nc = nc
	conn.sub = sub
	conn.subject = subject
	conn.inbox = inbox
	return conn, nil
}

type natsConn struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	inbox   chan *nats.Msg
	closing chan struct{}
	once    sync.Once

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error // written before lost is closed
}

// markLost records that the NATS connection is closed for good.
func (c *natsConn) markLost(err error) {
	c.lostOnce.Do(func() {
		c.lostErr = err
		close(c.lost)
	})
}

func (c *natsConn) Send(_ context.Context, frame []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	default:
	}
	return c.nc.Publish(c.subject, frame)
}

func (c *natsConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg.Data, nil
	case <-c.closing:
		return nil, ErrConnClosed
	case <-c.lost:
		select {
		case <-c.closing:
			return nil, ErrConnClosed
		case msg := <-c.inbox:
			return msg.Data, nil
		default:
		}
		if c.lostErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrBusClosed, c.lostErr)
		}
		return nil, ErrBusClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *natsConn) Close() error {
	c.once.Do(func() {
		close(c.closing)
		_ = c.sub.Unsubscribe()
		_ = c.nc.Flush()
		c.nc.Close()
	})
	return nil
}
