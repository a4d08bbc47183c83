package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel all frames travel on when none is configured.
const DefaultRedisChannel = "backplane:frames"

// Redis uses Redis pub/sub as the bus.
type Redis struct {
	// Channel overrides DefaultRedisChannel.
	Channel string
	// ClientName is reported to the server via CLIENT SETNAME. Optional.
	ClientName string
}

var _ Transport = (*Redis)(nil)

// Open implements Transport. The address is a redis:// or rediss:// URL.
func (r *Redis) Open(ctx context.Context, address string) (Conn, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if r.ClientName != "" {
		opts.ClientName = r.ClientName
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	channel := r.Channel
	if channel == "" {
		channel = DefaultRedisChannel
	}

	ps := client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so that frames published
	// right after Open are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	return &redisConn{
		client:   client,
		ps:       ps,
		channel:  channel,
		messages: ps.Channel(),
		closing:  make(chan struct{}),
	}, nil
}

type redisConn struct {
	client   *redis.Client
	ps       *redis.PubSub
	channel  string
	messages <-chan *redis.Message
	closing  chan struct{}
	once     sync.Once
}

func (c *redisConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	default:
	}
	return c.client.Publish(ctx, c.channel, frame).Err()
}

func (c *redisConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-c.messages:
		if !ok {
			return nil, ErrConnClosed
		}
		return []byte(msg.Payload), nil
	case <-c.closing:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *redisConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		_ = c.ps.Close()
		err = c.client.Close()
	})
	return err
}
