package tracer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"go.uber.org/zap"
)

// TraceScope is an open trace. It is safe for concurrent use.
type TraceScope struct {
	tracer *Tracer
	start  time.Time

	mu     sync.Mutex
	trace  *studio.Trace
	root   *studio.Span
	spans  []*studio.Span // closed spans, root first
	closed bool
}

// TraceID returns the trace id.
func (ts *TraceScope) TraceID() string { return ts.trace.TraceID }

// RootSpanID returns the id of the invocation span.
func (ts *TraceScope) RootSpanID() string { return ts.root.SpanID }

// RequestID returns the request id of the trace.
func (ts *TraceScope) RequestID() string { return ts.trace.RequestID }

// SetInput records the input of the root span.
func (ts *TraceScope) SetInput(data any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.root.InputData = data
}

// SetOutput records the output of the root span.
func (ts *TraceScope) SetOutput(data any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.root.OutputData = data
}

// SetAttribute sets an attribute on the root span.
func (ts *TraceScope) SetAttribute(key string, value any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.root.Attributes[key] = value
}

// SetMetadata sets a metadata entry on the trace.
func (ts *TraceScope) SetMetadata(key string, value any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.trace.Metadata[key] = value
}

// AddEvent appends a timestamped event to the root span.
func (ts *TraceScope) AddEvent(name string, attrs map[string]any) {
	ev := newEvent(ts.tracer.now(), name, attrs)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.root.Events = append(ts.root.Events, ev)
}

// OpenSpan starts a child span. An empty parentID parents it to the root
// span. The span joins the trace when it ends.
func (ts *TraceScope) OpenSpan(name string, kind studio.SpanKind, parentID string, attrs map[string]any) *SpanScope {
	if parentID == "" {
		parentID = ts.root.SpanID
	}
	if !kind.Valid() {
		kind = studio.SpanKindCustom
	}
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	start := ts.tracer.now()
	return &SpanScope{
		owner: ts,
		start: start,
		span: &studio.Span{
			SpanID:       studio.NewID(),
			TraceID:      ts.trace.TraceID,
			ParentSpanID: studio.Ptr(parentID),
			Name:         name,
			Kind:         kind,
			StartTime:    studio.Normalize(start),
			Status:       studio.StatusOK,
			Attributes:   copied,
			Events:       []studio.SpanEvent{},
			AgentID:      ts.tracer.agentID,
		},
	}
}

// Span runs fn inside a child span and ends it with fn's error.
func (ts *TraceScope) Span(name string, kind studio.SpanKind, fn func(s *SpanScope) error) error {
	s := ts.OpenSpan(name, kind, "", nil)
	err := fn(s)
	s.End(err)
	return err
}

func (ts *TraceScope) appendSpan(sp *studio.Span) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return false
	}
	ts.spans = append(ts.spans, sp)
	return true
}

// Close stamps the trace timing, marks it failed when opErr is non-nil and
// exports the trace followed by every closed span. Closing twice is a no-op.
func (ts *TraceScope) Close(ctx context.Context, opErr error) error {
	end := ts.tracer.now()

	ts.mu.Lock()
	if ts.closed {
		ts.mu.Unlock()
		return nil
	}
	ts.closed = true

	endNorm := studio.Normalize(end)
	duration := studio.DurationMs(ts.start, end)
	ts.root.EndTime = studio.Ptr(endNorm)
	ts.root.DurationMs = studio.Ptr(duration)
	ts.trace.EndTime = studio.Ptr(endNorm)
	ts.trace.DurationMs = studio.Ptr(duration)
	if opErr != nil {
		ts.trace.Status = studio.StatusError
		ts.root.Status = studio.StatusError
		ts.root.Error = studio.Ptr(opErr.Error())
	}
	ts.trace.SpanCount = len(ts.spans)
	spans := append([]*studio.Span(nil), ts.spans...)
	trace := ts.trace
	ts.mu.Unlock()

	t := ts.tracer
	if t.recorder != nil {
		t.recorder.RecordTraceClosed(trace.Status)
	}
	if t.otel != nil {
		Mirror(ctx, t.otel, trace, spans)
	}
	if t.sink == nil {
		return nil
	}
	if err := t.sink.Export(ctx, trace, spans); err != nil {
		t.logger.Warn("trace export failed",
			zap.String("trace_id", trace.TraceID),
			zap.Int("spans", len(spans)),
			zap.Error(err))
		return fmt.Errorf("export trace %s: %w", trace.TraceID, err)
	}
	if t.recorder != nil {
		t.recorder.RecordSpansIngested("tracer", len(spans))
	}
	t.logger.Debug("trace exported",
		zap.String("trace_id", trace.TraceID),
		zap.String("status", trace.Status),
		zap.Int("spans", len(spans)))
	return nil
}

// Snapshot returns a copy of the trace and its closed spans.
func (ts *TraceScope) Snapshot() (studio.Trace, []studio.Span) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	spans := make([]studio.Span, len(ts.spans))
	for i, sp := range ts.spans {
		spans[i] = *sp
	}
	return *ts.trace, spans
}

// SpanScope is an open child span. Its setters are not synchronized; use a
// span from a single goroutine.
type SpanScope struct {
	owner *TraceScope
	start time.Time
	span  *studio.Span
	ended bool
}

// SpanID returns the span id, usable as a parent id for nested spans.
func (s *SpanScope) SpanID() string { return s.span.SpanID }

// SetInput records the span input.
func (s *SpanScope) SetInput(data any) { s.span.InputData = data }

// SetOutput records the span output.
func (s *SpanScope) SetOutput(data any) { s.span.OutputData = data }

// SetAttribute sets one attribute.
func (s *SpanScope) SetAttribute(key string, value any) { s.span.Attributes[key] = value }

// AddEvent appends a timestamped event.
func (s *SpanScope) AddEvent(name string, attrs map[string]any) {
	s.span.Events = append(s.span.Events, newEvent(s.owner.tracer.now(), name, attrs))
}

// End stamps end_time and duration and appends the span to its trace. A
// non-nil err marks the span as failed. Ending twice is a no-op.
func (s *SpanScope) End(err error) {
	if s.ended {
		return
	}
	s.ended = true
	end := s.owner.tracer.now()
	s.span.EndTime = studio.Ptr(studio.Normalize(end))
	s.span.DurationMs = studio.Ptr(studio.DurationMs(s.start, end))
	if err != nil {
		s.span.Status = studio.StatusError
		s.span.Error = studio.Ptr(err.Error())
	}
	if !s.owner.appendSpan(s.span) {
		s.owner.tracer.logger.Debug("span ended after trace close",
			zap.String("trace_id", s.span.TraceID),
			zap.String("span", s.span.Name))
	}
}

func newEvent(at time.Time, name string, attrs map[string]any) studio.SpanEvent {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return studio.SpanEvent{Name: name, Timestamp: studio.Normalize(at), Attributes: attrs}
}
