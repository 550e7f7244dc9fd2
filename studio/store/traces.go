package store

import (
	"context"
	"fmt"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// spanCountSQL recomputes a trace's span_count from the spans table.
const spanCountSQL = "UPDATE traces SET span_count = (SELECT COUNT(*) FROM spans WHERE spans.trace_id = ?) WHERE trace_id = ?"

// TraceFilter narrows ListTraces.
type TraceFilter struct {
	AgentID string
	Limit   int
	Offset  int
}

// SaveTrace inserts the trace or overwrites every column of an existing one.
func (s *Store) SaveTrace(ctx context.Context, t *studio.Trace) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trace_id"}},
		UpdateAll: true,
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("save trace %s: %w", t.TraceID, err)
	}
	return nil
}

// GetTrace returns one trace.
func (s *Store) GetTrace(ctx context.Context, traceID string) (*studio.Trace, error) {
	return first[studio.Trace](ctx, s, "trace", "trace_id", traceID)
}

// ListTraces returns traces newest first.
func (s *Store) ListTraces(ctx context.Context, f TraceFilter) ([]studio.Trace, error) {
	q := s.conn(ctx).Model(&studio.Trace{})
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	var out []studio.Trace
	err := q.Order("start_time DESC").Limit(limitOrDefault(f.Limit)).Offset(f.Offset).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	return out, nil
}

// DeleteTrace removes a trace together with its spans and evaluations.
func (s *Store) DeleteTrace(ctx context.Context, traceID string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("trace_id = ?", traceID).Delete(&studio.Span{}).Error; err != nil {
			return fmt.Errorf("delete spans of %s: %w", traceID, err)
		}
		if err := tx.Where("trace_id = ?", traceID).Delete(&studio.EvalResult{}).Error; err != nil {
			return fmt.Errorf("delete evaluations of %s: %w", traceID, err)
		}
		return deleteByID[studio.Trace](tx, "trace", "trace_id", traceID)
	})
}

// SaveSpan upserts a span and recomputes the owning trace's span_count in the
// same transaction, so re-saving a span never double counts.
func (s *Store) SaveSpan(ctx context.Context, sp *studio.Span) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "span_id"}},
			UpdateAll: true,
		}).Create(sp).Error
		if err != nil {
			return fmt.Errorf("save span %s: %w", sp.SpanID, err)
		}
		if err := tx.Exec(spanCountSQL, sp.TraceID, sp.TraceID).Error; err != nil {
			return fmt.Errorf("update span_count of %s: %w", sp.TraceID, err)
		}
		return nil
	})
}

// GetSpan returns one span.
func (s *Store) GetSpan(ctx context.Context, spanID string) (*studio.Span, error) {
	return first[studio.Span](ctx, s, "span", "span_id", spanID)
}

// ListSpans returns the spans of a trace by start time.
func (s *Store) ListSpans(ctx context.Context, traceID string) ([]studio.Span, error) {
	var out []studio.Span
	err := s.conn(ctx).Where("trace_id = ?", traceID).Order("start_time ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list spans of %s: %w", traceID, err)
	}
	return out, nil
}

// CreateTraceIfMissing inserts t unless a trace with the same id exists.
// It reports whether a row was created.
func (s *Store) CreateTraceIfMissing(ctx context.Context, t *studio.Trace) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trace_id"}},
		DoNothing: true,
	}).Create(t)
	if res.Error != nil {
		return false, fmt.Errorf("create trace %s: %w", t.TraceID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AdvanceTraceEnd moves a trace's end_time forward to end. An earlier end
// never rewinds it. It reports whether the row changed.
func (s *Store) AdvanceTraceEnd(ctx context.Context, traceID string, end time.Time) (bool, error) {
	res := s.conn(ctx).Model(&studio.Trace{}).
		Where("trace_id = ? AND (end_time IS NULL OR end_time < ?)", traceID, end).
		Update("end_time", end)
	if res.Error != nil {
		return false, fmt.Errorf("advance end_time of %s: %w", traceID, res.Error)
	}
	return res.RowsAffected > 0, nil
}
