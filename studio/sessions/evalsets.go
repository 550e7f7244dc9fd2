package sessions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Eval case 状态
const (
	CaseStatusPending   = "pending"
	CaseStatusCompleted = "completed"
	CaseStatusNoTrace   = "no_trace"
)

// =============================================================================
// 🧪 Eval Sets
// =============================================================================

// CreateEvalSet 创建 eval set
func (s *Service) CreateEvalSet(ctx context.Context, name, agentID string) (*studio.EvalSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.InvalidRequest("name is required")
	}
	set := &studio.EvalSet{
		EvalSetID: studio.NewID(),
		Name:      name,
		AgentID:   agentID,
		CreatedAt: studio.Normalize(s.now()),
	}
	if err := s.store.SaveEvalSet(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// ListEvalSets 按创建时间倒序列出 eval set
func (s *Service) ListEvalSets(ctx context.Context, agentID string) ([]studio.EvalSet, error) {
	return s.store.ListEvalSets(ctx, agentID)
}

// AddCase 将会话加入 eval set
func (s *Service) AddCase(ctx context.Context, evalSetID, sessionID string) (*studio.EvalCase, error) {
	if sessionID == "" {
		return nil, types.InvalidRequest("session_id is required")
	}
	if _, err := s.store.GetEvalSet(ctx, evalSetID); err != nil {
		return nil, notFound(err, ErrEvalSetNotFound)
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	c := &studio.EvalCase{
		CaseID:    studio.NewID(),
		EvalSetID: evalSetID,
		SessionID: sessionID,
		Status:    CaseStatusPending,
		Result:    map[string]any{},
		CreatedAt: studio.Normalize(s.now()),
	}
	if err := s.store.SaveEvalCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases 按加入顺序列出 case
func (s *Service) ListCases(ctx context.Context, evalSetID string) ([]studio.EvalCase, error) {
	return s.store.ListEvalCases(ctx, evalSetID)
}

// RunEvalSet 并发评估 eval set 中的 case。没有用户消息的 case 被跳过，
// 返回结果保持 case 的加入顺序。
func (s *Service) RunEvalSet(ctx context.Context, evalSetID string) ([]studio.EvalCase, error) {
	if _, err := s.store.GetEvalSet(ctx, evalSetID); err != nil {
		return nil, notFound(err, ErrEvalSetNotFound)
	}
	cases, err := s.store.ListEvalCases(ctx, evalSetID)
	if err != nil {
		return nil, err
	}

	ran := make([]bool, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range cases {
		g.Go(func() error {
			ok, err := s.runCase(gctx, &cases[i])
			ran[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]studio.EvalCase, 0, len(cases))
	for i := range cases {
		if ran[i] {
			results = append(results, cases[i])
		}
	}
	s.logger.Info("eval set run",
		zap.String("eval_set_id", evalSetID),
		zap.Int("cases", len(cases)),
		zap.Int("evaluated", len(results)),
	)
	return results, nil
}

// runCase 评估第一条助手消息关联的 trace；会话没有用户消息时返回 false
func (s *Service) runCase(ctx context.Context, c *studio.EvalCase) (bool, error) {
	msgs, err := s.store.ListMessages(ctx, c.SessionID)
	if err != nil {
		return false, err
	}
	hasUser := false
	traceID := ""
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			hasUser = true
		case RoleAssistant:
			if traceID == "" && m.TraceID != nil && *m.TraceID != "" {
				traceID = *m.TraceID
			}
		}
	}
	if !hasUser {
		return false, nil
	}

	if traceID == "" {
		c.Status = CaseStatusNoTrace
		c.Result = map[string]any{}
	} else {
		res, err := s.evaluator.RunEvaluation(ctx, traceID, nil)
		if err != nil {
			return false, err
		}
		c.Status = CaseStatusCompleted
		c.Result, err = toMap(res)
		if err != nil {
			return false, err
		}
	}
	return true, s.store.SaveEvalCase(ctx, c)
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
