package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/evaluator"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// =============================================================================
// ⚖️ Evaluation Handler
// =============================================================================

// EvalService 评估接口，由 *evaluator.Evaluator 实现
type EvalService interface {
	RunEvaluation(ctx context.Context, traceID string, metrics []studio.EvalMetric) (*studio.EvalResult, error)
	GetResult(ctx context.Context, evalID string) (*studio.EvalResult, error)
	ListResults(ctx context.Context, traceID string, limit int) ([]studio.EvalResult, error)
}

// EvalSetService eval set 接口，由 *sessions.Service 实现
type EvalSetService interface {
	CreateEvalSet(ctx context.Context, name, agentID string) (*studio.EvalSet, error)
	ListEvalSets(ctx context.Context, agentID string) ([]studio.EvalSet, error)
	AddCase(ctx context.Context, evalSetID, sessionID string) (*studio.EvalCase, error)
	ListCases(ctx context.Context, evalSetID string) ([]studio.EvalCase, error)
	RunEvalSet(ctx context.Context, evalSetID string) ([]studio.EvalCase, error)
}

// EvalHandler 单 trace 评估与 eval set
type EvalHandler struct {
	evals  EvalService
	sets   EvalSetService
	logger *zap.Logger
}

// NewEvalHandler 创建评估 handler
func NewEvalHandler(evals EvalService, sets EvalSetService, logger *zap.Logger) *EvalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvalHandler{evals: evals, sets: sets, logger: logger}
}

// HandleRun 同步评估一个 trace
// @Summary 运行评估
// @Tags evaluations
// @Param request body api.RunEvalRequest true "评估请求"
// @Success 200 {object} Response{data=studio.EvalResult}
// @Failure 400 {object} Response "trace_id required"
// @Router /api/eval/run [post]
func (h *EvalHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunEvalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.TraceID) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "trace_id required", h.logger)
		return
	}
	metrics, err := evaluator.ParseMetrics(req.Metrics)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	res, err := h.evals.RunEvaluation(r.Context(), req.TraceID, metrics)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleListResults 列出评估结果（新结果在前）
// @Summary 列出评估结果
// @Tags evaluations
// @Param limit query int false "返回条数" default(50)
// @Param trace_id query string false "按 trace 过滤"
// @Success 200 {object} Response{data=api.EvalList}
// @Router /api/eval/results [get]
func (h *EvalHandler) HandleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.evals.ListResults(r.Context(), r.URL.Query().Get("trace_id"), QueryInt(r, "limit", store.DefaultListLimit))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.EvalList{Results: results})
}

// HandleGetResult 获取单个评估结果
// @Summary 获取评估结果
// @Tags evaluations
// @Param eval_id path string true "评估 ID"
// @Success 200 {object} Response{data=studio.EvalResult}
// @Failure 404 {object} Response
// @Router /api/eval/results/{eval_id} [get]
func (h *EvalHandler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.evals.GetResult(r.Context(), r.PathValue("eval_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// =============================================================================
// 📋 Eval Set
// =============================================================================

// HandleCreateSet 创建 eval set
// @Summary 创建 eval set
// @Tags evaluations
// @Param request body api.CreateEvalSetRequest true "eval set"
// @Success 201 {object} Response{data=studio.EvalSet}
// @Router /api/eval/sets [post]
func (h *EvalHandler) HandleCreateSet(w http.ResponseWriter, r *http.Request) {
	var req api.CreateEvalSetRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	set, err := h.sets.CreateEvalSet(r.Context(), req.Name, req.AgentID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteCreated(w, set)
}

// HandleListSets 列出 eval set
// @Summary 列出 eval set
// @Tags evaluations
// @Param agent_id query string false "按 Agent 过滤"
// @Success 200 {object} Response{data=api.EvalSetList}
// @Router /api/eval/sets [get]
func (h *EvalHandler) HandleListSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.sets.ListEvalSets(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.EvalSetList{EvalSets: sets})
}

// HandleAddCase 将会话加入 eval set
// @Summary 添加 case
// @Tags evaluations
// @Param eval_set_id path string true "Eval set ID"
// @Param request body api.AddCaseRequest true "case"
// @Success 201 {object} Response{data=studio.EvalCase}
// @Router /api/eval/sets/{eval_set_id}/cases [post]
func (h *EvalHandler) HandleAddCase(w http.ResponseWriter, r *http.Request) {
	var req api.AddCaseRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	c, err := h.sets.AddCase(r.Context(), r.PathValue("eval_set_id"), req.SessionID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteCreated(w, c)
}

// HandleListCases 列出 case
// @Summary 列出 case
// @Tags evaluations
// @Param eval_set_id path string true "Eval set ID"
// @Success 200 {object} Response{data=api.CaseList}
// @Router /api/eval/sets/{eval_set_id}/cases [get]
func (h *EvalHandler) HandleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.sets.ListCases(r.Context(), r.PathValue("eval_set_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.CaseList{Cases: cases})
}

// HandleRunSet 运行 eval set，返回已执行的 case
// @Summary 运行 eval set
// @Tags evaluations
// @Param eval_set_id path string true "Eval set ID"
// @Success 200 {object} Response{data=api.CaseList}
// @Router /api/eval/sets/{eval_set_id}/run [post]
func (h *EvalHandler) HandleRunSet(w http.ResponseWriter, r *http.Request) {
	cases, err := h.sets.RunEvalSet(r.Context(), r.PathValue("eval_set_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.CaseList{Cases: cases})
}
