package topics

import (
	"errors"
)

var (
	// ErrInvalidTopic is returned when a topic cannot be subscribed to or published on.
	ErrInvalidTopic = errors.New("topic must be a non-empty string")
)

// Validate checks that a topic can be used for routing.
// Any non-empty string is a valid topic.
func Validate(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return nil
}
