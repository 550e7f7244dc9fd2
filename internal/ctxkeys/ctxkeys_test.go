package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithAgentID(ctx, "agent-a")
	ctx = WithPrincipal(ctx, "key:ab12")

	v, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", v)
	v, _ = TraceID(ctx)
	assert.Equal(t, "trace-1", v)
	v, _ = AgentID(ctx)
	assert.Equal(t, "agent-a", v)
	v, _ = Principal(ctx)
	assert.Equal(t, "key:ab12", v)
}

func TestEmptyValueIsAbsent(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	_, ok := TraceID(ctx)
	assert.False(t, ok)
}
