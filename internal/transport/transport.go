// Package transport moves opaque byte frames between processes sharing a bus.
//
// A Transport opens connections; a Conn sends frames to every process
// connected to the same bus and receives every frame published on it,
// including its own. Topic filtering happens above this layer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrConnClosed is returned when operating on a closed connection.
var ErrConnClosed = errors.New("transport: connection closed")

// ErrBusClosed is returned by Recv when the bus behind a connection has gone
// away for good while the connection itself was still open.
var ErrBusClosed = errors.New("transport: bus closed")

// ErrInvalidAddress is returned when an address cannot be understood by a transport.
var ErrInvalidAddress = errors.New("transport: invalid address")

// Transport establishes connections to a bus.
type Transport interface {
	// Open connects to the bus at address.
	Open(ctx context.Context, address string) (Conn, error)
}

// Conn is one process's connection to a bus.
//
// Implementations must allow one goroutine in Recv while others call Send.
type Conn interface {
	// Send hands a frame to the bus.
	Send(ctx context.Context, frame []byte) error
	// Recv blocks until a frame arrives, the context is done or the connection is closed.
	// Once the bus behind the connection is gone Recv keeps returning an error.
	Recv(ctx context.Context) ([]byte, error)
	// Close releases the connection. Blocked Recv calls return ErrConnClosed.
	Close() error
}

// Scheme returns the lower-cased URL scheme of address.
func Scheme(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: %q has no scheme", ErrInvalidAddress, address)
	}
	return strings.ToLower(u.Scheme), nil
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, address string) (Conn, error)

// Open implements Transport.
func (f TransportFunc) Open(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}
