package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/backplane/internal/envelope"
)

func TestSetupOTel(t *testing.T) {
	tests := []struct {
		name      string
		config    TracingConfig
		wantValid bool
	}{
		{"disabled", TracingConfig{}, false},
		{"enabled", TracingConfig{Enabled: true, ServiceName: "echo_server", ZipkinURL: "http://zipkin.invalid:9411/api/v2/spans", SampleRatio: 1}, true},
		{"enabled, sampling nothing", TracingConfig{Enabled: true, ServiceName: "echo_server", ZipkinURL: "http://zipkin.invalid:9411/api/v2/spans"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown, err := SetupOTel(context.Background(), tt.config)
			require.NoError(t, err)
			require.NotNil(t, shutdown)
			defer shutdown()

			_, span := tracer.Start(context.Background(), "bus.publish.echo")
			defer span.End()
			assert.Equal(t, tt.wantValid, span.SpanContext().IsValid())
		})
	}
}

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "backplane", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.NotEmpty(t, cfg.ZipkinURL)
}

func TestClientSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	c, ft := connectedClient(t, WithTracer(tp.Tracer("test")))
	require.NoError(t, c.Subscribe("echo"))

	require.NoError(t, c.Publish(context.Background(), "echo", envelope.Payload{"message_number": int64(1)}))
	ft.conn.inbound <- ft.conn.getSent()[0]
	_, err := c.Receive(context.Background())
	require.NoError(t, err)

	ft.conn.setSendErr(assert.AnError)
	require.Error(t, c.Publish(context.Background(), "echo", envelope.Payload{}))

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "bus.publish.echo", spans[0].Name())
	assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind())

	assert.Equal(t, "bus.receive.echo", spans[1].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[1].SpanKind())

	assert.Equal(t, "bus.publish.echo", spans[2].Name())
	assert.NotEmpty(t, spans[2].Events(), "failed publishes record the error")
}

func TestLoadTracingConfigFromEnv(t *testing.T) {
	t.Setenv("BACKPLANE_TRACING_ENABLED", "true")
	t.Setenv("BACKPLANE_TRACING_SERVICE_NAME", "echo_server")
	t.Setenv("BACKPLANE_TRACING_ZIPKIN_URL", "http://zipkin:9411/api/v2/spans")
	t.Setenv("BACKPLANE_TRACING_SAMPLE_RATIO", "0.25")

	cfg := LoadTracingConfigFromEnv()
	assert.Equal(t, TracingConfig{
		Enabled:     true,
		ServiceName: "echo_server",
		ZipkinURL:   "http://zipkin:9411/api/v2/spans",
		SampleRatio: 0.25,
	}, cfg)

	t.Setenv("BACKPLANE_TRACING_ENABLED", "not-a-bool")
	t.Setenv("BACKPLANE_TRACING_SAMPLE_RATIO", "7")
	cfg = LoadTracingConfigFromEnv()
	assert.False(t, cfg.Enabled, "unparsable values keep the default")
	assert.Equal(t, 1.0, cfg.SampleRatio, "ratios outside [0, 1] are ignored")
}
