package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	assert.False(t, tracer.IsEnabled())
	assert.Nil(t, tracer.provider)
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sampler(tt.rate).Description())
	}
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestCompileSpan(t *testing.T) {
	t.Run("records attributes and outcome", func(t *testing.T) {
		recorder := withRecorder(t)

		_, span := StartCompileSpan(context.Background(), "pipe-1", 2, true)
		EndCompileSpan(span, OutcomeSuccess, nil)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "pipedbundle.compile", spans[0].Name())
		assert.Contains(t, spans[0].Attributes(), attribute.String("pipeline.id", "pipe-1"))
		assert.Contains(t, spans[0].Attributes(), attribute.Int("compile.entry_points", 2))
		assert.Contains(t, spans[0].Attributes(), attribute.Bool("compile.watch", true))
		assert.Contains(t, spans[0].Attributes(), attribute.String("compile.outcome", OutcomeSuccess))
		assert.Equal(t, codes.Unset, spans[0].Status().Code)
	})

	t.Run("records error", func(t *testing.T) {
		recorder := withRecorder(t)

		_, span := StartCompileSpan(context.Background(), "pipe-2", 1, false)
		EndCompileSpan(span, OutcomeFatal, errors.New("boom"))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "boom", spans[0].Status().Description)
		require.Len(t, spans[0].Events(), 1)
		assert.Equal(t, "exception", spans[0].Events()[0].Name)
	})
}

func TestAddSpanEvent(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartCompileSpan(context.Background(), "pipe-3", 1, false)
	AddSpanEvent(ctx, "output", attribute.Int("files", 3))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "output", spans[0].Events()[0].Name)
}

func TestExtractTraceID(t *testing.T) {
	t.Run("returns empty for context without span", func(t *testing.T) {
		assert.Empty(t, ExtractTraceID(context.Background()))
	})

	t.Run("returns empty for noop span", func(t *testing.T) {
		ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
		defer span.End()
		assert.Empty(t, ExtractTraceID(ctx))
	})

	t.Run("returns id for recorded span", func(t *testing.T) {
		withRecorder(t)
		ctx, span := StartCompileSpan(context.Background(), "pipe-4", 1, false)
		defer span.End()
		assert.Len(t, ExtractTraceID(ctx), 32)
	})
}
