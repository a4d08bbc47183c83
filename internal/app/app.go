// Package app wires configuration, transports, tracing and bus processes
// together with a samber/do injector.
package app

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/backplane/internal/bus"
	"github.com/nfrund/backplane/internal/config"
	"github.com/nfrund/backplane/internal/process"
	"github.com/nfrund/backplane/internal/transport"
)

// Transports holds the registry every client dials through.
type Transports struct {
	Registry *transport.Registry
	// Memory backs mem:// addresses for processes sharing this binary.
	Memory *transport.Memory
}

// Shutdown implements do.ShutdownerWithError.
func (t *Transports) Shutdown() error {
	return t.Memory.Close()
}

// Tracing holds the tracer handed to bus clients.
type Tracing struct {
	Tracer  trace.Tracer
	cleanup func()
}

// Shutdown implements do.Shutdowner.
func (t *Tracing) Shutdown() {
	t.cleanup()
}

// New creates an injector holding cfg and lazily built transports and tracing.
func New(cfg *config.Config) *do.RootScope {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.Provide(injector, provideTransports)
	do.Provide(injector, provideTracing)
	return injector
}

func provideTransports(i do.Injector) (*Transports, error) {
	cfg := do.MustInvoke[*config.Config](i)

	mem := transport.NewMemory()
	registry := transport.NewRegistry()
	registry.MustRegister(mem, "mem")
	registry.MustRegister(&transport.WebSocket{ProcessName: cfg.Process.ProcessName}, "ws", "wss")
	registry.MustRegister(&transport.NATS{Subject: cfg.NATSSubject, Name: cfg.Process.ProcessName}, "nats", "tls")
	registry.MustRegister(&transport.Redis{Channel: cfg.RedisChannel, ClientName: cfg.Process.ProcessName}, "redis", "rediss")
	registry.MustRegister(&transport.Gossip{
		ListenAddrs: cfg.GossipListen,
		Bootstrap:   cfg.GossipBootstrap,
		EnableMDNS:  cfg.GossipMDNS,
	}, "gossip")

	return &Transports{Registry: registry, Memory: mem}, nil
}

func provideTracing(i do.Injector) (*Tracing, error) {
	tracer, cleanup, err := bus.SetupOTel(context.Background(), bus.LoadTracingConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	return &Tracing{Tracer: tracer, cleanup: cleanup}, nil
}

// NewClient builds a disconnected bus client that dials through the registry.
func NewClient(i do.Injector, name string, opts ...bus.Option) (*bus.Client, error) {
	transports, err := do.Invoke[*Transports](i)
	if err != nil {
		return nil, err
	}
	tracing, err := do.Invoke[*Tracing](i)
	if err != nil {
		return nil, err
	}

	opts = append([]bus.Option{bus.WithName(name), bus.WithTracer(tracing.Tracer)}, opts...)
	return bus.NewClient(transports.Registry, opts...), nil
}

// StartProcess connects a new process and registers it with the injector,
// so shutting the injector down closes it.
func StartProcess(ctx context.Context, i do.Injector, cfg config.Process, h process.Handler) (*process.Process, error) {
	client, err := NewClient(i, cfg.ProcessName)
	if err != nil {
		return nil, err
	}
	p, err := process.New(ctx, cfg, client, h)
	if err != nil {
		return nil, err
	}
	do.ProvideNamedValue(i, "process."+cfg.ProcessName+"."+client.ID(), p)
	return p, nil
}
