package bus

import (
	"errors"

	"github.com/nfrund/backplane/internal/envelope"
	"github.com/nfrund/backplane/internal/topics"
)

var (
	// ErrConnection is returned when the transport cannot be established.
	ErrConnection = errors.New("bus: connection failed")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("bus: already connected")

	// ErrNotConnected is returned when an operation needs a connection that was never made.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("bus: client closed")

	// ErrSend wraps a transport failure while publishing.
	ErrSend = errors.New("bus: send failed")

	// ErrRecv wraps a transport failure while receiving.
	ErrRecv = errors.New("bus: receive failed")

	// ErrInvalidTopic is returned for empty topics.
	ErrInvalidTopic = topics.ErrInvalidTopic

	// ErrDecode is returned for malformed inbound frames when strict decoding is on.
	ErrDecode = envelope.ErrDecode

	// ErrEncode is returned when a payload cannot be encoded. It matches ErrDecode too.
	ErrEncode = envelope.ErrEncode
)
