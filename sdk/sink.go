package sdk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/tracer"
)

// RemoteSink exports closed traces to a studio collector.
type RemoteSink struct {
	client *Client
}

var _ tracer.Sink = (*RemoteSink)(nil)

// NewRemoteSink returns a tracer sink that posts through c.
func NewRemoteSink(c *Client) *RemoteSink {
	return &RemoteSink{client: c}
}

// Export sends the spans of t as one batch. The collector rebuilds the trace
// row from the spans, so only the identifiers of t travel with the batch.
func (s *RemoteSink) Export(ctx context.Context, t *studio.Trace, spans []*studio.Span) error {
	if len(spans) == 0 {
		return nil
	}
	batch := collector.Batch{
		TraceID:   t.TraceID,
		AgentID:   t.AgentID,
		SessionID: t.SessionID,
		RequestID: t.RequestID,
		Spans:     make([]json.RawMessage, 0, len(spans)),
	}
	for _, sp := range spans {
		raw, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("encode span %s: %w", sp.SpanID, err)
		}
		batch.Spans = append(batch.Spans, raw)
	}

	res, err := s.client.SendBatch(ctx, batch)
	if err != nil {
		return err
	}
	if res.Accepted < res.Total {
		return fmt.Errorf("collector accepted %d of %d spans", res.Accepted, res.Total)
	}
	return nil
}
