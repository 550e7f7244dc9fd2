package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/prompts"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📝 Prompt Handler
// =============================================================================

// PromptService 提示词管理接口，由 *prompts.Service 实现
type PromptService interface {
	Create(ctx context.Context, in prompts.CreateInput) (*studio.PromptTemplate, error)
	List(ctx context.Context) ([]studio.PromptTemplate, error)
	Get(ctx context.Context, promptID string) (*studio.PromptTemplate, []studio.PromptVersion, error)
	ActiveByName(ctx context.Context, name string) (*prompts.ActiveContent, error)
	Update(ctx context.Context, promptID string, in prompts.UpdateInput) (*studio.PromptTemplate, error)
	Delete(ctx context.Context, promptID string) error
	Versions(ctx context.Context, promptID string) ([]studio.PromptVersion, error)
	CreateVersion(ctx context.Context, promptID string, in prompts.VersionInput) (*studio.PromptVersion, error)
	Activate(ctx context.Context, promptID string, version int) error
}

// PromptHandler 提示词模板与版本
type PromptHandler struct {
	service PromptService
	logger  *zap.Logger
}

// NewPromptHandler 创建提示词 handler
func NewPromptHandler(service PromptService, logger *zap.Logger) *PromptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptHandler{service: service, logger: logger}
}

// HandleList 列出模板（最近更新在前）
// @Summary 列出提示词
// @Tags prompts
// @Success 200 {object} Response{data=api.PromptList}
// @Router /api/prompts [get]
func (h *PromptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.PromptList{Prompts: list})
}

// HandleCreate 创建模板及 version 1
// @Summary 创建提示词
// @Tags prompts
// @Param request body api.CreatePromptRequest true "模板"
// @Success 201 {object} Response{data=studio.PromptTemplate}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /api/prompts [post]
func (h *PromptHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePromptRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	p, err := h.service.Create(r.Context(), prompts.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Content:     req.Content,
		ModelConfig: req.ModelConfig,
		Variables:   req.Variables,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteCreated(w, p)
}

// byNameSegment 与 {prompt_id} 共享同一层路径，由 HandleSubresource 分发
const byNameSegment = "by-name"

// HandleSubresource 处理 GET /api/prompts/{prompt_id}/{sub}：
// by-name/{name} 返回激活版本内容（供 Agent 运行时拉取），
// {prompt_id}/versions 列出版本。两者在 ServeMux 中无法分别注册。
// @Summary 按名称获取激活提示词 / 列出版本
// @Tags prompts
// @Success 200 {object} Response{data=api.ActivePrompt}
// @Failure 404 {object} Response
// @Router /api/prompts/by-name/{name} [get]
func (h *PromptHandler) HandleSubresource(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.PathValue("prompt_id") == byNameSegment:
		h.writeActive(w, r, r.PathValue("sub"))
	case r.PathValue("sub") == "versions":
		h.HandleVersions(w, r)
	default:
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "route not found", h.logger)
	}
}

func (h *PromptHandler) writeActive(w http.ResponseWriter, r *http.Request, name string) {
	ac, err := h.service.ActiveByName(r.Context(), name)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ActivePrompt{
		PromptID:    ac.PromptID,
		Name:        ac.Name,
		Content:     ac.Content,
		ModelConfig: ac.ModelConfig,
		Variables:   ac.Variables,
		Version:     ac.Version,
	})
}

// HandleGet 返回模板及全部版本
// @Summary 获取提示词
// @Tags prompts
// @Param prompt_id path string true "模板 ID"
// @Success 200 {object} Response{data=api.PromptDetail}
// @Failure 404 {object} Response
// @Router /api/prompts/{prompt_id} [get]
func (h *PromptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, versions, err := h.service.Get(r.Context(), r.PathValue("prompt_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.PromptDetail{Prompt: p, Versions: versions})
}

// HandleUpdate 更新元数据
// @Summary 更新提示词
// @Tags prompts
// @Param prompt_id path string true "模板 ID"
// @Param request body api.UpdatePromptRequest true "变更字段"
// @Success 200 {object} Response{data=studio.PromptTemplate}
// @Router /api/prompts/{prompt_id} [put]
func (h *PromptHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.UpdatePromptRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	p, err := h.service.Update(r.Context(), r.PathValue("prompt_id"), prompts.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

// HandleDelete 删除模板及其版本
// @Summary 删除提示词
// @Tags prompts
// @Param prompt_id path string true "模板 ID"
// @Success 200 {object} Response{data=api.StatusResponse}
// @Router /api/prompts/{prompt_id} [delete]
func (h *PromptHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("prompt_id")); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StatusResponse{Status: "deleted"})
}

// HandleVersions 列出版本（新版本在前）
// @Summary 列出版本
// @Tags prompts
// @Param prompt_id path string true "模板 ID"
// @Success 200 {object} Response{data=api.VersionList}
// @Router /api/prompts/{prompt_id}/versions [get]
func (h *PromptHandler) HandleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.Versions(r.Context(), r.PathValue("prompt_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.VersionList{Versions: versions})
}

// HandleCreateVersion 追加版本
// @Summary 创建版本
// @Tags prompts
// @Param prompt_id path string true "模板 ID"
// @Param request body api.CreateVersionRequest true "版本内容"
// @Success 201 {object} Response{data=studio.PromptVersion}
// @Router /api/prompts/{prompt_id}/versions [post]
func (h *PromptHandler) HandleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req api.CreateVersionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	v, err := h.service.CreateVersion(r.Context(), r.PathValue("prompt_id"), prompts.VersionInput{
		Content:     req.Content,
		ModelConfig: req.ModelConfig,
		Variables:   req.Variables,
		Metadata:    req.Metadata,
		Activate:    req.Activate,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteCreated(w, v)
}

// HandleActivate 激活指定版本
// @Summary 激活版本
// @Tags prompts
// @Param prompt_id path string true "模板 ID"
// @Param version path int true "版本号"
// @Success 200 {object} Response{data=api.ActivateResponse}
// @Failure 404 {object} Response
// @Router /api/prompts/{prompt_id}/versions/{version}/activate [put]
func (h *PromptHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "version must be a positive integer", h.logger)
		return
	}
	if err := h.service.Activate(r.Context(), r.PathValue("prompt_id"), version); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ActivateResponse{Status: "activated", Version: version})
}
