package trace

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
	"go.uber.org/zap"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), &Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Defaults(t *testing.T) {
	orig, origProvider := newExporter, otel.GetTracerProvider()
	t.Cleanup(func() {
		newExporter = orig
		otel.SetTracerProvider(origProvider)
	})

	var gotProtocol, gotEndpoint string
	newExporter = func(_ context.Context, _ *Config, protocol, endpoint string) (sdktrace.SpanExporter, error) {
		gotProtocol, gotEndpoint = protocol, endpoint
		return tracetest.NewInMemoryExporter(), nil
	}

	shutdown, err := InitTracing(context.Background(), &Config{Enabled: true, Protocol: "http", SamplerRate: 3}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http", gotProtocol)
	assert.Equal(t, "localhost:4318", gotEndpoint)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_ExporterError(t *testing.T) {
	orig := newExporter
	t.Cleanup(func() { newExporter = orig })
	newExporter = func(context.Context, *Config, string, string) (sdktrace.SpanExporter, error) {
		return nil, errors.New("boom")
	}

	_, err := InitTracing(context.Background(), &Config{Enabled: true}, zap.NewNop())
	assert.ErrorContains(t, err, "create exporter")
}

func TestSpanScope_RecordsAttributesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	scope := Tracer("riderwatch/test").Start(context.Background(), "search").
		WithAttrs(attribute.String("tenant", "acme"))
	scope.RecordError(errors.New("live path timed out"))
	scope.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "search", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("tenant", "acme"))
}

func TestSpanScope_NilSafety(t *testing.T) {
	var nilScope *SpanScope
	assert.Nil(t, nilScope.WithAttrs(attribute.String("k", "v")))
	nilScope.RecordError(errors.New("x"))
	nilScope.End()
}
