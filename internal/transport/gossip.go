package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

// Gossip runs the bus over a libp2p gossipsub topic, without a central server.
// The address has the form gossip://<topic>; every process joining the same
// topic shares one bus.
type Gossip struct {
	// ListenAddrs are multiaddrs the host listens on. Defaults to /ip4/0.0.0.0/tcp/0.
	ListenAddrs []string
	// Bootstrap lists peers (multiaddrs with /p2p/<id>) to connect to on Open.
	Bootstrap []string
	// EnableMDNS turns on local network peer discovery.
	EnableMDNS bool
}

var _ Transport = (*Gossip)(nil)

// Open implements Transport.
func (g *Gossip) Open(ctx context.Context, address string) (Conn, error) {
	name, err := gossipTopic(address)
	if err != nil {
		return nil, err
	}

	listenAddrs := make([]ma.Multiaddr, 0, len(g.ListenAddrs))
	for _, s := range g.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: listen multiaddr %q: %w", ErrInvalidAddress, s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	fail := func(err error) (Conn, error) {
		cancel()
		_ = h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(connCtx, h)
	if err != nil {
		return fail(fmt.Errorf("create gossipsub: %w", err))
	}
	topic, err := ps.Join(name)
	if err != nil {
		return fail(fmt.Errorf("join topic %q: %w", name, err))
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return fail(fmt.Errorf("subscribe to topic %q: %w", name, err))
	}

	logger := slog.Default().With("transport", "gossip", "topic", name, "peer_id", h.ID().String())
	conn := &gossipConn{
		host:    h,
		topic:   topic,
		sub:     sub,
		cancel:  cancel,
		closing: make(chan struct{}),
	}

	if g.EnableMDNS {
		service := mdns.NewMdnsService(h, "backplane/"+name, &mdnsNotifee{host: h, logger: logger})
		if err := service.Start(); err != nil {
			logger.Warn("mDNS discovery not started", "error", err)
		} else {
			conn.mdns = service
		}
	}

	for _, raw := range g.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			logger.Warn("Skipping bootstrap address", "address", raw, "error", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Warn("Skipping bootstrap address", "address", raw, "error", err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warn("Bootstrap connect failed", "peer", info.ID.String(), "error", err)
		} else {
			logger.Info("Connected bootstrap peer", "peer", info.ID.String())
		}
	}

	return conn, nil
}

func gossipTopic(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if u.Scheme != "gossip" {
		return "", fmt.Errorf("%w: %q is not a gossip:// address", ErrInvalidAddress, address)
	}
	name := u.Host + u.Path
	if name == "" {
		return "", fmt.Errorf("%w: %q names no topic", ErrInvalidAddress, address)
	}
	return name, nil
}

type gossipConn struct {
	host    host.Host
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	mdns    mdns.Service
	cancel  context.CancelFunc
	closing chan struct{}
	once    sync.Once
}

func (c *gossipConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	default:
	}
	return c.topic.Publish(ctx, frame)
}

func (c *gossipConn) Recv(ctx context.Context) ([]byte, error) {
	msg, err := c.sub.Next(ctx)
	if err != nil {
		select {
		case <-c.closing:
			return nil, ErrConnClosed
		default:
		}
		return nil, err
	}
	return msg.Data, nil
}

func (c *gossipConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		c.sub.Cancel()
		if c.mdns != nil {
			_ = c.mdns.Close()
		}
		_ = c.topic.Close()
		c.cancel()
		err = c.host.Close()
	})
	return err
}

type mdnsNotifee struct {
	host   host.Host
	logger *slog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Warn("mDNS connect failed", "peer", info.ID.String(), "error", err)
	}
}
