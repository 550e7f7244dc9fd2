package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🚩 Flag / Param Handler
// =============================================================================

// FlagResolver flag 与参数管理接口，由 *flags.Resolver 实现
type FlagResolver interface {
	ListFlags(ctx context.Context, agentID string, includeGlobal bool) ([]studio.FeatureFlag, error)
	SetFlag(ctx context.Context, agentID, name string, enabled bool, value any, description string) (*studio.FeatureFlag, error)
	DeleteFlag(ctx context.Context, agentID, flagID string) error
	ListParams(ctx context.Context, agentID string, includeGlobal bool) ([]studio.Parameter, error)
	SetParam(ctx context.Context, agentID, name string, value any, description string) (*studio.Parameter, error)
	DeleteParam(ctx context.Context, agentID, paramID string) error
}

// FlagHandler agent 作用域的 flag 与参数，agent_id 为 _global 时操作全局值
type FlagHandler struct {
	resolver FlagResolver
	logger   *zap.Logger
}

// NewFlagHandler 创建 flag handler
func NewFlagHandler(resolver FlagResolver, logger *zap.Logger) *FlagHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlagHandler{resolver: resolver, logger: logger}
}

// HandleListFlags 列出 agent 可见的 flag
// @Summary 列出 flag
// @Tags flags
// @Param agent_id path string true "Agent ID"
// @Param include_global query bool false "合并全局 flag" default(true)
// @Success 200 {object} Response{data=api.FlagList}
// @Router /api/flags/{agent_id} [get]
func (h *FlagHandler) HandleListFlags(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	list, err := h.resolver.ListFlags(r.Context(), agentID, QueryBool(r, "include_global", true))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.FlagList{AgentID: agentID, Flags: list})
}

// HandleSetFlag 创建或更新 flag
// @Summary 设置 flag
// @Tags flags
// @Param agent_id path string true "Agent ID"
// @Param request body api.SetFlagRequest true "flag"
// @Success 200 {object} Response{data=studio.FeatureFlag}
// @Router /api/flags/{agent_id} [put]
func (h *FlagHandler) HandleSetFlag(w http.ResponseWriter, r *http.Request) {
	var req api.SetFlagRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "name required", h.logger)
		return
	}
	f, err := h.resolver.SetFlag(r.Context(), r.PathValue("agent_id"), req.Name, req.Enabled, req.Value, req.Description)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, f)
}

// HandleDeleteFlag 删除 flag
// @Summary 删除 flag
// @Tags flags
// @Param agent_id path string true "Agent ID"
// @Param flag_id path string true "Flag ID"
// @Success 200 {object} Response{data=api.StatusResponse}
// @Failure 404 {object} Response
// @Router /api/flags/{agent_id}/{flag_id} [delete]
func (h *FlagHandler) HandleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.DeleteFlag(r.Context(), r.PathValue("agent_id"), r.PathValue("flag_id")); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StatusResponse{Status: "deleted"})
}

// HandleListParams 列出 agent 可见的参数
// @Summary 列出参数
// @Tags flags
// @Param agent_id path string true "Agent ID"
// @Param include_global query bool false "合并全局参数" default(true)
// @Success 200 {object} Response{data=api.ParamList}
// @Router /api/params/{agent_id} [get]
func (h *FlagHandler) HandleListParams(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	list, err := h.resolver.ListParams(r.Context(), agentID, QueryBool(r, "include_global", true))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ParamList{AgentID: agentID, Params: list})
}

// HandleSetParam 创建或更新参数
// @Summary 设置参数
// @Tags flags
// @Param agent_id path string true "Agent ID"
// @Param request body api.SetParamRequest true "参数"
// @Success 200 {object} Response{data=studio.Parameter}
// @Router /api/params/{agent_id} [put]
func (h *FlagHandler) HandleSetParam(w http.ResponseWriter, r *http.Request) {
	var req api.SetParamRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "name required", h.logger)
		return
	}
	p, err := h.resolver.SetParam(r.Context(), r.PathValue("agent_id"), req.Name, req.Value, req.Description)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

// HandleDeleteParam 删除参数
// @Summary 删除参数
// @Tags flags
// @Param agent_id path string true "Agent ID"
// @Param param_id path string true "Param ID"
// @Success 200 {object} Response{data=api.StatusResponse}
// @Failure 404 {object} Response
// @Router /api/params/{agent_id}/{param_id} [delete]
func (h *FlagHandler) HandleDeleteParam(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.DeleteParam(r.Context(), r.PathValue("agent_id"), r.PathValue("param_id")); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StatusResponse{Status: "deleted"})
}
