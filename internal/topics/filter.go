package topics

import (
	"sort"
	"sync"
)

// Filter is the set of topics a client is subscribed to.
type Filter struct {
	topics map[string]struct{}
	mu     sync.RWMutex
}

// NewFilter creates a new, empty filter
func NewFilter() *Filter {
	return &Filter{
		topics: make(map[string]struct{}),
	}
}

// Subscribe adds a topic to the set. Adding a topic that is already present is a no-op.
func (f *Filter) Subscribe(topic string) error {
	if err := Validate(topic); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.topics[topic] = struct{}{}
	return nil
}

// Unsubscribe removes a topic from the set. Removing an absent topic is a no-op.
func (f *Filter) Unsubscribe(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.topics, topic)
}

// Accepts reports whether topic is currently in the set.
func (f *Filter) Accepts(topic string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.topics[topic]
	return ok
}

// List returns the subscribed topics in sorted order
func (f *Filter) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	topics := make([]string, 0, len(f.topics))
	for topic := range f.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Len returns the number of subscribed topics
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.topics)
}
