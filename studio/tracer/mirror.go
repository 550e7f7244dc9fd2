package tracer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Mirror replays studio spans as OpenTelemetry spans with their original
// timestamps. Spans are started in start-time order so parents always exist
// before their children.
func Mirror(ctx context.Context, otelTracer trace.Tracer, t *studio.Trace, spans []*studio.Span) {
	ordered := append([]*studio.Span(nil), spans...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	parents := make(map[string]context.Context, len(ordered))
	for _, sp := range ordered {
		parentCtx := ctx
		if sp.ParentSpanID != nil {
			if pc, ok := parents[*sp.ParentSpanID]; ok {
				parentCtx = pc
			}
		}

		attrs := []attribute.KeyValue{
			attribute.String("studio.trace_id", t.TraceID),
			attribute.String("studio.span_id", sp.SpanID),
			attribute.String("studio.span_kind", string(sp.Kind)),
		}
		if t.AgentID != "" {
			attrs = append(attrs, attribute.String("studio.agent_id", t.AgentID))
		}
		if t.SessionID != "" {
			attrs = append(attrs, attribute.String("studio.session_id", t.SessionID))
		}
		for k, v := range sp.Attributes {
			attrs = append(attrs, toAttribute(k, v))
		}

		spanCtx, otelSpan := otelTracer.Start(parentCtx, sp.Name,
			trace.WithTimestamp(sp.StartTime),
			trace.WithSpanKind(otelKind(sp.Kind)),
			trace.WithAttributes(attrs...),
		)
		for _, ev := range sp.Events {
			evAttrs := make([]attribute.KeyValue, 0, len(ev.Attributes))
			for k, v := range ev.Attributes {
				evAttrs = append(evAttrs, toAttribute(k, v))
			}
			otelSpan.AddEvent(ev.Name, trace.WithTimestamp(ev.Timestamp), trace.WithAttributes(evAttrs...))
		}
		if sp.Status == studio.StatusError {
			msg := ""
			if sp.Error != nil {
				msg = *sp.Error
			}
			otelSpan.SetStatus(codes.Error, msg)
		} else {
			otelSpan.SetStatus(codes.Ok, "")
		}

		if sp.EndTime != nil {
			otelSpan.End(trace.WithTimestamp(*sp.EndTime))
		} else {
			otelSpan.End()
		}
		parents[sp.SpanID] = spanCtx
	}
}

func otelKind(k studio.SpanKind) trace.SpanKind {
	switch k {
	case studio.SpanKindInvocation:
		return trace.SpanKindServer
	case studio.SpanKindLLMCall, studio.SpanKindToolCall, studio.SpanKindRetrieval:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

func toAttribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case []string:
		return attribute.StringSlice(key, val)
	case fmt.Stringer:
		return attribute.String(key, val.String())
	}
	if b, err := json.Marshal(v); err == nil {
		return attribute.String(key, string(b))
	}
	return attribute.String(key, fmt.Sprint(v))
}
