package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.Len(t, id, 32)
	assert.Equal(t, id, FromContext(ctx))

	_, id2 := Ensure(ctx)
	assert.Equal(t, id, id2)
}

func TestFromContext_Empty(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}

func TestFromContext_SpanFallback(t *testing.T) {
	tid, err := oteltrace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := oteltrace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{TraceID: tid, SpanID: sid})
	ctx := oteltrace.ContextWithSpanContext(context.Background(), sc)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", FromContext(ctx))

	ctx = WithContext(ctx, "explicit")
	assert.Equal(t, "explicit", FromContext(ctx))
}
