package store

import (
	"context"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"gorm.io/gorm/clause"
)

// EvalFilter narrows ListEvals.
type EvalFilter struct {
	TraceID string
	Limit   int
}

// SaveEval inserts or overwrites an evaluation result.
func (s *Store) SaveEval(ctx context.Context, r *studio.EvalResult) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "eval_id"}},
		UpdateAll: true,
	}).Create(r).Error
	if err != nil {
		return fmt.Errorf("save evaluation %s: %w", r.EvalID, err)
	}
	return nil
}

// GetEval returns one evaluation result.
func (s *Store) GetEval(ctx context.Context, evalID string) (*studio.EvalResult, error) {
	return first[studio.EvalResult](ctx, s, "evaluation", "eval_id", evalID)
}

// ListEvals returns evaluation results newest first.
func (s *Store) ListEvals(ctx context.Context, f EvalFilter) ([]studio.EvalResult, error) {
	q := s.conn(ctx).Model(&studio.EvalResult{})
	if f.TraceID != "" {
		q = q.Where("trace_id = ?", f.TraceID)
	}
	var out []studio.EvalResult
	if err := q.Order("created_at DESC").Limit(limitOrDefault(f.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return out, nil
}
