// Package bus implements the client side of a best-effort, at-most-once topic bus.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nfrund/backplane/internal/envelope"
	"github.com/nfrund/backplane/internal/topics"
	"github.com/nfrund/backplane/internal/transport"
)

// State is the lifecycle stage of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client owns one transport connection and one subscription set.
//
// One goroutine may sit in Receive while others Publish, Subscribe or Close.
type Client struct {
	transport transport.Transport
	filter    *topics.Filter

	id             string
	name           string
	logger         *slog.Logger
	tracer         trace.Tracer
	strictDecoding bool

	mu         sync.RWMutex
	state      State
	conn       transport.Conn
	connecting bool

	// life is canceled by Close to release blocked receivers.
	life   context.Context
	cancel context.CancelFunc

	sendMu sync.Mutex
	recvMu sync.Mutex
	seq    atomic.Uint64
}

// NewClient creates a disconnected client that will connect through t.
func NewClient(t transport.Transport, opts ...Option) *Client {
	life, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: t,
		filter:    topics.NewFilter(),
		id:        uuid.NewString(),
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer(TracerName),
		life:      life,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "bus", "client_id", c.id, "process", c.name)
	return c
}

// ID returns the unique identifier of this client instance.
func (c *Client) ID() string { return c.id }

// Name returns the process name given with WithName.
func (c *Client) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Topics returns the subscribed topics in sorted order.
func (c *Client) Topics() []string {
	return c.filter.List()
}

// Connect opens the transport at address.
//
// The dial runs without holding the client lock, so Close and State stay
// responsive; Close during a dial cancels it and Connect returns ErrClosed.
// A second Connect while one is in flight returns ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	switch {
	case c.state == StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == StateConnected, c.connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	conn, err := c.transport.Open(dialCtx, address)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false

	if c.state == StateClosed {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.logger.Error("Failed to connect to bus", "address", address, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrConnection, address, err)
	}

	c.conn = conn
	c.state = StateConnected
	c.logger.Info("Connected to bus", "address", address)
	return nil
}

// connection returns the open transport connection or the error describing why there is none.
func (c *Client) connection() (transport.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.state {
	case StateDisconnected:
		return nil, ErrNotConnected
	case StateClosed:
		return nil, ErrClosed
	}
	return c.conn, nil
}

// Subscribe adds topic to the subscription set. Subscribing twice is a no-op.
func (c *Client) Subscribe(topic string) error {
	if _, err := c.connection(); err != nil {
		return err
	}
	if err := c.filter.Subscribe(topic); err != nil {
		return err
	}
	c.logger.Debug("Subscribed", "topic", topic)
	return nil
}

// Unsubscribe removes topic from the subscription set. Removing an absent topic is a no-op.
func (c *Client) Unsubscribe(topic string) error {
	if _, err := c.connection(); err != nil {
		return err
	}
	c.filter.Unsubscribe(topic)
	c.logger.Debug("Unsubscribed", "topic", topic)
	return nil
}

// Publish sends payload on topic.
//
// Each call that gets past argument checks takes the next sequence number,
// even if encoding or sending then fails. Failures are not retried.
func (c *Client) Publish(ctx context.Context, topic string, payload envelope.Payload) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if err := topics.Validate(topic); err != nil {
		return err
	}

	seq := c.seq.Add(1) - 1

	ctx, span := c.tracer.Start(ctx, "bus.publish."+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "backplane"),
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", topic),
			attribute.Int64("messaging.sequence", int64(seq)),
			attribute.String("messaging.client_id", c.id),
		),
	)
	defer span.End()

	frame, err := envelope.Encode(topic, payload, seq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", len(frame)))

	c.sendMu.Lock()
	err = conn.Send(ctx, frame)
	c.sendMu.Unlock()

	if err != nil {
		if c.isClosed() {
			err = ErrClosed
		} else {
			err = fmt.Errorf("%w: %w", ErrSend, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Publish failed", "topic", topic, "sequence", seq, "error", err)
		return err
	}
	return nil
}

// Receive blocks until a frame on a subscribed topic arrives and returns it.
//
// Frames on other topics are dropped. Malformed frames are logged and dropped
// unless strict decoding is enabled. Close from another goroutine makes a
// blocked Receive return ErrClosed.
func (c *Client) Receive(ctx context.Context) (envelope.Envelope, error) {
	conn, err := c.connection()
	if err != nil {
		return envelope.Envelope{}, err
	}

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	for {
		frame, err := conn.Recv(recvCtx)
		if err != nil {
			switch {
			case c.isClosed():
				return envelope.Envelope{}, ErrClosed
			case ctx.Err() != nil:
				return envelope.Envelope{}, ctx.Err()
			}
			return envelope.Envelope{}, fmt.Errorf("%w: %w", ErrRecv, err)
		}

		env, err := envelope.Decode(frame)
		if err != nil {
			if c.strictDecoding {
				return envelope.Envelope{}, err
			}
			c.logger.Warn("Dropping malformed frame", "frame_size", len(frame), "error", err)
			continue
		}

		if !c.filter.Accepts(env.Topic) {
			continue
		}

		_, span := c.tracer.Start(ctx, "bus.receive."+env.Topic,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "backplane"),
				attribute.String("messaging.operation", "receive"),
				attribute.String("messaging.destination", env.Topic),
				attribute.Int64("messaging.sequence", int64(env.Sequence)),
				attribute.Int("messaging.message_payload_size_bytes", len(frame)),
			),
		)
		span.End()

		return env, nil
	}
}

// Close releases the transport. It is safe to call more than once and from
// any goroutine; later operations fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.cancel()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("Transport close failed", "error", err)
			return fmt.Errorf("close transport: %w", err)
		}
	}
	c.logger.Info("Bus client closed")
	return nil
}

func (c *Client) isClosed() bool {
	return c.life.Err() != nil
}
