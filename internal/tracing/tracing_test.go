package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/config"
)

func TestInitTracer_StdoutFallbackWhenNoEndpoint(t *testing.T) {
	tr, err := InitTracer(&config.TracingConfig{ServiceName: "test-service", SampleRatio: 1.0})
	require.NoError(t, err)
	defer tr.Shutdown(context.Background())

	ctx, span := tr.ContextWithSpan(context.Background(), "unit-test-span")
	assert.NotNil(t, ctx)
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestContextWithSpan_NoopWithoutGlobalTracer(t *testing.T) {
	global = nil
	_, span := ContextWithSpan(context.Background(), "no-global-tracer")
	defer span.End()
	assert.NotNil(t, span)
}

func TestSetGlobal_RoutesPackageLevelCalls(t *testing.T) {
	tr, err := InitTracer(&config.TracingConfig{ServiceName: "test-service", SampleRatio: 1.0})
	require.NoError(t, err)
	defer tr.Shutdown(context.Background())
	defer func() { global = nil }()

	SetGlobal(tr)
	_, span := ContextWithSpan(context.Background(), "routed-span")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}
