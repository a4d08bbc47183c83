// Package script lets a bus process react to messages with a Tengo script
// instead of compiled Go.
//
// Every run sees these globals:
//
//	topic        the topic the message arrived on
//	payload      the message payload as a map
//	reply_topic  set it to publish a reply; empty means no reply
//	reply        the reply payload; left undefined, payload is echoed
//
// A script may call log(value) to write to the process log.
package script

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/nfrund/backplane/internal/envelope"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultMaxAllocs = 100_000
)

// DefaultModules are the Tengo standard library modules scripts may import.
var DefaultModules = []string{"fmt", "strings", "math", "rand", "text", "times", "json"}

// Publisher sends reply payloads. *bus.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload envelope.Payload) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds how long a single run may take.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMaxAllocs limits the number of objects a single run may allocate.
func WithMaxAllocs(n int64) Option {
	return func(h *Handler) {
		h.maxAllocs = n
	}
}

// WithModules replaces DefaultModules.
func WithModules(names ...string) Option {
	return func(h *Handler) {
		h.modules = names
	}
}

// Handler runs a compiled Tengo script for each message. It implements process.Handler.
type Handler struct {
	name      string
	compiled  *tengo.Compiled
	publisher Publisher

	timeout   time.Duration
	maxAllocs int64
	modules   []string
	logger    *slog.Logger
}

// NewHandler compiles source once. Compilation errors are returned as *ScriptError.
func NewHandler(name string, source []byte, publisher Publisher, opts ...Option) (*Handler, error) {
	h := &Handler{
		name:      name,
		publisher: publisher,
		timeout:   DefaultTimeout,
		maxAllocs: DefaultMaxAllocs,
		modules:   DefaultModules,
		logger:    slog.Default().With("component", "script", "script", name),
	}
	for _, opt := range opts {
		opt(h)
	}

	s := tengo.NewScript(source)
	s.SetImports(stdlib.GetModuleMap(h.modules...))
	s.SetMaxAllocs(h.maxAllocs)

	// Placeholders so the compiler knows the globals; each run sets real values.
	globals := map[string]any{
		"topic":       "",
		"payload":     map[string]any{},
		"reply_topic": "",
		"reply":       nil,
		"log":         h.logFunc(),
	}
	for key, value := range globals {
		if err := s.Add(key, value); err != nil {
			return nil, NewScriptError(ErrorTypeCompilation, name, "", "failed to define "+key, err)
		}
	}

	compiled, err := s.Compile()
	if err != nil {
		return nil, NewScriptError(ErrorTypeCompilation, name, "", "failed to compile", err)
	}
	h.compiled = compiled

	h.logger.Debug("Tengo script compiled", "modules", h.modules)
	return h, nil
}

// Handle runs the script for one message and publishes its reply, if any.
func (h *Handler) Handle(ctx context.Context, topic string, payload envelope.Payload) error {
	run := h.compiled.Clone()
	if err := run.Set("topic", topic); err != nil {
		return NewScriptError(ErrorTypeExecution, h.name, topic, "failed to set topic", err)
	}
	if err := run.Set("payload", map[string]any(payload)); err != nil {
		return NewScriptError(ErrorTypeExecution, h.name, topic, "failed to set payload", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	if err := run.RunContext(runCtx); err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return NewScriptError(ErrorTypeTimeout, h.name, topic, "script execution timed out", err)
		case errors.Is(err, tengo.ErrObjectAllocLimit):
			return NewScriptError(ErrorTypeMemoryLimit, h.name, topic, "script exceeded allocation limit", err)
		default:
			return NewScriptError(ErrorTypeExecution, h.name, topic, "script execution failed", err)
		}
	}
	h.logger.Debug("Script ran", "topic", topic, "execution_time", time.Since(start))

	replyTopic, reply, err := h.extractReply(run, topic, payload)
	if err != nil || replyTopic == "" {
		return err
	}
	return h.publisher.Publish(ctx, replyTopic, reply)
}

// extractReply reads reply_topic and reply after a run.
func (h *Handler) extractReply(run *tengo.Compiled, topic string, payload envelope.Payload) (string, envelope.Payload, error) {
	rt := run.Get("reply_topic")
	if rt.IsUndefined() {
		return "", nil, nil
	}
	if rt.ValueType() != "string" {
		return "", nil, NewScriptError(ErrorTypeBadReply, h.name, topic, "reply_topic must be a string, got "+rt.ValueType(), nil)
	}
	replyTopic := rt.String()
	if replyTopic == "" {
		return "", nil, nil
	}

	r := run.Get("reply")
	if r.IsUndefined() {
		return replyTopic, payload, nil
	}
	m, ok := tengo.ToInterface(r.Object()).(map[string]any)
	if !ok {
		return "", nil, NewScriptError(ErrorTypeBadReply, h.name, topic, "reply must be a map, got "+r.ValueType(), nil)
	}
	reply, err := toPayloadValue(m)
	if err != nil {
		return "", nil, NewScriptError(ErrorTypeBadReply, h.name, topic, "reply is not encodable", err)
	}
	return replyTopic, reply.(envelope.Payload), nil
}

func (h *Handler) logFunc() *tengo.UserFunction {
	return &tengo.UserFunction{
		Name: "log",
		Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			message, _ := tengo.ToString(args[0])
			h.logger.Info("Script log", "message", message)
			return tengo.UndefinedValue, nil
		},
	}
}
