// Package tracer records agent invocations as studio traces.
//
// A Tracer opens a TraceScope per request. The scope owns a root span of
// kind invocation; child spans opened with OpenSpan join the trace when they
// end. Nothing leaves the process until the scope is closed, at which point
// the trace and its spans are handed to a Sink: StoreSink writes them to the
// studio store, the SDK's remote sink posts them to a collector.
//
//	err := t.Run(ctx, "chat", sessionID, requestID, func(ctx context.Context, ts *tracer.TraceScope) error {
//		ts.SetInput(req)
//		return ts.Span("llm", studio.SpanKindLLMCall, func(s *tracer.SpanScope) error {
//			out, err := callModel(ctx)
//			s.SetOutput(out)
//			return err
//		})
//	})
//
// With WithOTel every closed trace is also replayed into OpenTelemetry spans.
package tracer
