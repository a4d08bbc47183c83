// Package process is the base every bus participant is built on: it joins the
// bus from a configuration and runs a receive loop that hands each message to
// a Handler.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/afero"

	"github.com/nfrund/backplane/internal/bus"
	"github.com/nfrund/backplane/internal/config"
	"github.com/nfrund/backplane/internal/envelope"
)

// ErrHandler wraps an error returned by a Handler.
var ErrHandler = errors.New("process: handler failed")

// Handler reacts to one received message.
type Handler interface {
	Handle(ctx context.Context, topic string, payload envelope.Payload) error
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(ctx context.Context, topic string, payload envelope.Payload) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, topic string, payload envelope.Payload) error {
	return f(ctx, topic, payload)
}

// Process is a named bus participant.
type Process struct {
	name    string
	client  *bus.Client
	handler Handler
	logger  *slog.Logger

	defaultTopics []string
}

// New connects client to cfg.Address and subscribes to cfg.Topics in order.
// If any step fails the client is closed and the error returned.
func New(ctx context.Context, cfg config.Process, client *bus.Client, h Handler) (*Process, error) {
	p := &Process{
		name:    cfg.ProcessName,
		client:  client,
		handler: h,
		logger:  slog.Default().With("component", "process", "process", cfg.ProcessName),
	}

	if err := client.Connect(ctx, cfg.Address); err != nil {
		_ = client.Close()
		return nil, err
	}
	for _, topic := range cfg.Topics {
		if err := client.Subscribe(topic); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("subscribe %q: %w", topic, err)
		}
	}

	p.logger.Info("Process started", "address", cfg.Address, "topics", cfg.Topics)
	return p, nil
}

// Name returns the configured process name.
func (p *Process) Name() string { return p.name }

// Client returns the underlying bus client.
func (p *Process) Client() *bus.Client { return p.client }

// ReceiveLoop delivers messages to the handler one at a time, in arrival order.
//
// It returns nil once the process is closed and ctx.Err() when ctx is done.
// A handler failure stops the loop with an error wrapping ErrHandler.
// Transport errors are returned unchanged.
func (p *Process) ReceiveLoop(ctx context.Context) error {
	for {
		env, err := p.client.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, bus.ErrClosed):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			}
			return err
		}

		if p.handler == nil {
			continue
		}
		if err := p.handler.Handle(ctx, env.Topic, env.Payload); err != nil {
			p.logger.Error("Handler failed", "topic", env.Topic, "sequence", env.Sequence, "error", err)
			return fmt.Errorf("%w: topic %q: %w", ErrHandler, env.Topic, err)
		}
	}
}

// PublishPayload publishes payload on topic.
func (p *Process) PublishPayload(ctx context.Context, payload envelope.Payload, topic string) error {
	return p.client.Publish(ctx, topic, payload)
}

// SyncTopics makes the subscription set equal to want: new topics are
// subscribed, topics no longer listed are unsubscribed.
func (p *Process) SyncTopics(want []string) error {
	have := p.client.Topics()

	for _, topic := range want {
		if !slices.Contains(have, topic) {
			if err := p.client.Subscribe(topic); err != nil {
				return fmt.Errorf("subscribe %q: %w", topic, err)
			}
		}
	}
	for _, topic := range have {
		if !slices.Contains(want, topic) {
			if err := p.client.Unsubscribe(topic); err != nil {
				return fmt.Errorf("unsubscribe %q: %w", topic, err)
			}
		}
	}

	p.logger.Info("Topics updated", "topics", p.client.Topics())
	return nil
}

// SetDefaultTopics sets the topics WatchConfig falls back to when the
// process file lists none. Call it before WatchConfig.
func (p *Process) SetDefaultTopics(topics []string) {
	p.defaultTopics = slices.Clone(topics)
}

// WatchConfig keeps the subscription set in line with the topics listed in
// the process file at path until ctx is done.
func (p *Process) WatchConfig(ctx context.Context, fs afero.Fs, path string) error {
	return config.Watch(ctx, fs, path, func(cfg config.Process) {
		cfg = cfg.WithDefaultTopics(p.defaultTopics)
		if err := p.SyncTopics(cfg.Topics); err != nil {
			p.logger.Warn("Could not apply topic change", "error", err)
		}
	})
}

// Close closes the bus client, which also ends a running ReceiveLoop.
func (p *Process) Close() error {
	p.logger.Info("Process stopping")
	return p.client.Close()
}

// Shutdown implements do.ShutdownerWithError.
func (p *Process) Shutdown() error {
	return p.Close()
}
