package bus

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option is a function that configures a Client.
type Option func(*Client)

// WithName sets the process name used in logs and traces.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithLogger sets the logger the client derives its own logger from.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer enables spans around publish and receive.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithStrictDecoding makes Receive return ErrDecode for malformed frames
// instead of logging and skipping them.
func WithStrictDecoding(strict bool) Option {
	return func(c *Client) {
		c.strictDecoding = strict
	}
}
