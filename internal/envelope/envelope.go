// Package envelope converts bus messages to and from the byte frames carried by a transport.
package envelope

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrDecode is returned when a frame cannot be turned back into an Envelope.
	ErrDecode = errors.New("envelope: decode failed")

	// ErrEncode is returned when a payload holds values the codec cannot represent.
	// It wraps ErrDecode so both failures can be handled as one codec error class.
	ErrEncode = fmt.Errorf("%w: payload not encodable", ErrDecode)
)

// Payload is the application data carried by an Envelope.
// After a round trip integers are int64, floating point numbers are float64,
// nested objects are map[string]any and lists are []any.
type Payload = map[string]any

// Envelope is the unit exchanged over the bus.
type Envelope struct {
	// Topic routes the message to interested subscribers. It is never empty.
	Topic string
	// Payload is application-defined structured data.
	Payload Payload
	// Sequence is assigned by the publisher and is informational only.
	Sequence uint64
}

// frame is the wire layout. Integer keys keep frames small.
type frame struct {
	Topic    string  `cbor:"1,keyasint"`
	Sequence uint64  `cbor:"2,keyasint"`
	Payload  Payload `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCoreDeterministic,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("envelope: building encoder: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IntDec:            cbor.IntDecConvertSigned,
		DefaultMapType:    reflect.TypeOf(Payload(nil)),
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		// Go strings are arbitrary bytes and Encode writes them as is.
		UTF8: cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("envelope: building decoder: %v", err))
	}
}

// Encode produces the frame for the given topic, payload and sequence number.
// Strings are carried byte for byte, valid UTF-8 or not.
func Encode(topic string, payload Payload, sequence uint64) ([]byte, error) {
	data, err := encMode.Marshal(frame{Topic: topic, Sequence: sequence, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

// Decode parses a frame. Malformed input of any kind yields an error wrapping ErrDecode.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrDecode)
	}

	var f frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if f.Topic == "" {
		return Envelope{}, fmt.Errorf("%w: empty topic", ErrDecode)
	}

	return Envelope{Topic: f.Topic, Payload: f.Payload, Sequence: f.Sequence}, nil
}

// Encode is a convenience wrapper around the package level Encode.
func (e Envelope) Encode() ([]byte, error) {
	return Encode(e.Topic, e.Payload, e.Sequence)
}
