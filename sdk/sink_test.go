package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D10S0VSkY-OSS/kiboserve/api/handlers"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/tracer"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil"
)

func TestRemoteSink_ExportsTraceToCollector(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	c := New(srv.URL, "bot")
	tr := tracer.New(NewRemoteSink(c), tracer.WithAgentID("bot"))

	var traceID string
	err := tr.Run(ctx, "chat", "sess-1", "req-1", func(ctx context.Context, ts *tracer.TraceScope) error {
		traceID = ts.TraceID()
		ts.SetInput(map[string]any{"prompt": "hi"})
		return ts.Span("llm", studio.SpanKindLLMCall, func(s *tracer.SpanScope) error {
			s.SetOutput("hello")
			return nil
		})
	})
	require.NoError(t, err)

	trace, err := srv.store.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, "bot", trace.AgentID)
	assert.Equal(t, "sess-1", trace.SessionID)
	assert.Equal(t, "req-1", trace.RequestID)

	spans, err := srv.store.ListSpans(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	byName := map[string]studio.Span{}
	for _, sp := range spans {
		byName[sp.Name] = sp
	}
	root, child := byName["chat"], byName["llm"]
	assert.Equal(t, studio.SpanKindInvocation, root.Kind)
	assert.Equal(t, map[string]any{"prompt": "hi"}, root.InputData)
	require.NotNil(t, child.ParentSpanID)
	assert.Equal(t, root.SpanID, *child.ParentSpanID)
	assert.Equal(t, "hello", child.OutputData)
	assert.NotNil(t, child.EndTime)
}

func TestRemoteSink_FailedRunStillExported(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	tr := tracer.New(NewRemoteSink(New(srv.URL, "bot")), tracer.WithAgentID("bot"))
	boom := errors.New("boom")
	var traceID string
	err := tr.Run(ctx, "chat", "", "", func(_ context.Context, ts *tracer.TraceScope) error {
		traceID = ts.TraceID()
		return boom
	})
	require.ErrorIs(t, err, boom)

	spans, err := srv.store.ListSpans(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, studio.StatusError, spans[0].Status)
	require.NotNil(t, spans[0].Error)
	assert.Equal(t, "boom", *spans[0].Error)
}

func TestRemoteSink_PartialAcceptIsError(t *testing.T) {
	var got collector.Batch
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		handlers.WriteSuccess(w, collector.Result{TraceID: got.TraceID, Accepted: 0, Total: len(got.Spans)})
	}))
	defer ts.Close()

	sink := NewRemoteSink(New(ts.URL, "bot"))
	trace := &studio.Trace{TraceID: "t1", SessionID: "s1"}
	err := sink.Export(context.Background(), trace, []*studio.Span{{SpanID: "a", TraceID: "t1", Name: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepted 0 of 1")
	assert.Equal(t, "bot", got.AgentID, "empty agent id is filled by the client")
	assert.Equal(t, "s1", got.SessionID)
}

func TestRemoteSink_NoSpansIsNoop(t *testing.T) {
	sink := NewRemoteSink(New("http://127.0.0.1:1", "bot"))
	assert.NoError(t, sink.Export(context.Background(), &studio.Trace{TraceID: "t"}, nil))
}
