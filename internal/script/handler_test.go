package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/backplane/internal/envelope"
)

type published struct {
	topic   string
	payload envelope.Payload
}

// mockPublisher records every publish call
type mockPublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload envelope.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, published{topic: topic, payload: payload})
	return nil
}

func (m *mockPublisher) getCalls() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.calls...)
}

func mustHandler(t *testing.T, source string, pub Publisher, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler("test", []byte(source), pub, opts...)
	require.NoError(t, err)
	return h
}

func requireScriptError(t *testing.T, err error, want ErrorType) *ScriptError {
	t.Helper()
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, want, scriptErr.Type, "unexpected error: %v", err)
	return scriptErr
}

func TestHandler_EchoesPayload(t *testing.T) {
	pub := &mockPublisher{}
	h := mustHandler(t, `reply_topic = "reply"`, pub)

	require.NoError(t, h.Handle(context.Background(), "echo", envelope.Payload{"message_number": int64(3)}))

	assert.Equal(t, []published{{topic: "reply", payload: envelope.Payload{"message_number": int64(3)}}}, pub.getCalls())
}

func TestHandler_BuildsReply(t *testing.T) {
	pub := &mockPublisher{}
	h := mustHandler(t, `
reply_topic = "reply"
reply = {
	next: payload.message_number - 1,
	from: topic,
	half: payload.message_number / 2.0,
	tags: ["a", 'b'],
	nested: {ok: true}
}
`, pub)

	require.NoError(t, h.Handle(context.Background(), "echo", envelope.Payload{"message_number": int64(5)}))

	calls := pub.getCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "reply", calls[0].topic)
	assert.Equal(t, envelope.Payload{
		"next":   int64(4),
		"from":   "echo",
		"half":   2.5,
		"tags":   []any{"a", "b"},
		"nested": envelope.Payload{"ok": true},
	}, calls[0].payload)

	_, err := envelope.Encode(calls[0].topic, calls[0].payload, 0)
	assert.NoError(t, err, "replies must be encodable")
}

func TestHandler_NoReply(t *testing.T) {
	pub := &mockPublisher{}
	h := mustHandler(t, `
if payload.message_number == 0 {
	reply_topic = "done"
}
log("seen " + string(payload.message_number))
`, pub)

	require.NoError(t, h.Handle(context.Background(), "echo", envelope.Payload{"message_number": int64(2)}))
	assert.Empty(t, pub.getCalls())

	require.NoError(t, h.Handle(context.Background(), "echo", envelope.Payload{"message_number": int64(0)}))
	assert.Len(t, pub.getCalls(), 1)
}

func TestHandler_RunsAreIsolated(t *testing.T) {
	pub := &mockPublisher{}
	h := mustHandler(t, `
count := 0
count += 1
reply_topic = "count"
reply = {count: count}
`, pub)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Handle(context.Background(), "tick", nil))
	}

	for _, call := range pub.getCalls() {
		assert.Equal(t, int64(1), call.payload["count"])
	}
	assert.Len(t, pub.getCalls(), 3)
}

func TestHandler_Modules(t *testing.T) {
	pub := &mockPublisher{}
	h := mustHandler(t, `
text := import("text")
reply_topic = "upper"
reply = {s: text.to_upper(payload.s)}
`, pub)

	require.NoError(t, h.Handle(context.Background(), "lower", envelope.Payload{"s": "abc"}))
	assert.Equal(t, "ABC", pub.getCalls()[0].payload["s"])

	_, err := NewHandler("os", []byte(`os := import("os")`), pub)
	requireScriptError(t, err, ErrorTypeCompilation)

	_, err = NewHandler("restricted", []byte(`text := import("text")`), pub, WithModules("fmt"))
	requireScriptError(t, err, ErrorTypeCompilation)
}

func TestHandler_CompileError(t *testing.T) {
	_, err := NewHandler("broken", []byte(`reply_topic = `), &mockPublisher{})
	scriptErr := requireScriptError(t, err, ErrorTypeCompilation)
	assert.Equal(t, "broken", scriptErr.ScriptName)
}

func TestHandler_RuntimeError(t *testing.T) {
	h := mustHandler(t, `x := 10 / payload.zero`, &mockPublisher{})

	err := h.Handle(context.Background(), "math", envelope.Payload{"zero": int64(0)})
	scriptErr := requireScriptError(t, err, ErrorTypeExecution)
	assert.Equal(t, "math", scriptErr.Topic)
	assert.Contains(t, err.Error(), "math")
}

func TestHandler_Timeout(t *testing.T) {
	h := mustHandler(t, `for { }`, &mockPublisher{}, WithTimeout(50*time.Millisecond))

	start := time.Now()
	err := h.Handle(context.Background(), "spin", nil)
	requireScriptError(t, err, ErrorTypeTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHandler_CallerCancellation(t *testing.T) {
	h := mustHandler(t, `for { }`, &mockPublisher{}, WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.Handle(ctx, "spin", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var scriptErr *ScriptError
	assert.False(t, errors.As(err, &scriptErr), "caller cancellation is not a script fault")
}

func TestHandler_AllocationLimit(t *testing.T) {
	h := mustHandler(t, `
a := []
for i := 0; i < 10000; i++ {
	a = append(a, [i])
}
`, &mockPublisher{}, WithMaxAllocs(100))

	err := h.Handle(context.Background(), "greedy", nil)
	requireScriptError(t, err, ErrorTypeMemoryLimit)
}

func TestHandler_BadReply(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"non-string topic", `reply_topic = 5`},
		{"non-map reply", `reply_topic = "r"; reply = [1, 2]`},
		{"unsupported value", `reply_topic = "r"; reply = {f: func() {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			h := mustHandler(t, tt.source, pub)

			err := h.Handle(context.Background(), "in", nil)
			requireScriptError(t, err, ErrorTypeBadReply)
			assert.Empty(t, pub.getCalls())
		})
	}
}

func TestHandler_PublishErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	h := mustHandler(t, `reply_topic = "reply"`, &mockPublisher{err: boom})

	assert.ErrorIs(t, h.Handle(context.Background(), "echo", envelope.Payload{}), boom)
}
