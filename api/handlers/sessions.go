package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/sessions"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 Session Handler
// =============================================================================

// SessionService 会话与对话代理接口，由 *sessions.Service 实现
type SessionService interface {
	CreateSession(ctx context.Context, agentID, userID string) (*studio.Session, error)
	ListSessions(ctx context.Context, agentID string, limit int) ([]studio.Session, error)
	GetSession(ctx context.Context, sessionID string) (*studio.Session, []studio.SessionMessage, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Messages(ctx context.Context, sessionID string) ([]studio.SessionMessage, error)
	SendMessage(ctx context.Context, sessionID, content string) (*sessions.Reply, error)
	Forward(ctx context.Context, agentID string, body json.RawMessage) (json.RawMessage, error)
}

// SessionHandler 会话、消息与聊天代理
type SessionHandler struct {
	service SessionService
	logger  *zap.Logger
}

// NewSessionHandler 创建会话 handler
func NewSessionHandler(service SessionService, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{service: service, logger: logger}
}

// HandleCreate 创建会话
// @Summary 创建会话
// @Tags sessions
// @Param request body api.CreateSessionRequest true "会话"
// @Success 201 {object} Response{data=studio.Session}
// @Router /api/sessions [post]
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent_id required", h.logger)
		return
	}
	sess, err := h.service.CreateSession(r.Context(), req.AgentID, req.UserID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteCreated(w, sess)
}

// HandleList 列出会话（最近更新在前）
// @Summary 列出会话
// @Tags sessions
// @Param agent_id query string false "按 Agent 过滤"
// @Param limit query int false "返回条数" default(50)
// @Success 200 {object} Response{data=api.SessionList}
// @Router /api/sessions [get]
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListSessions(r.Context(), r.URL.Query().Get("agent_id"), QueryInt(r, "limit", store.DefaultListLimit))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.SessionList{Sessions: list})
}

// HandleGet 返回会话及消息
// @Summary 获取会话
// @Tags sessions
// @Param session_id path string true "会话 ID"
// @Success 200 {object} Response{data=api.SessionDetail}
// @Failure 404 {object} Response
// @Router /api/sessions/{session_id} [get]
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, msgs, err := h.service.GetSession(r.Context(), r.PathValue("session_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.SessionDetail{Session: sess, Messages: msgs})
}

// HandleDelete 删除会话
// @Summary 删除会话
// @Tags sessions
// @Param session_id path string true "会话 ID"
// @Success 200 {object} Response{data=api.StatusResponse}
// @Router /api/sessions/{session_id} [delete]
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSession(r.Context(), r.PathValue("session_id")); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StatusResponse{Status: "deleted"})
}

// HandleMessages 列出会话消息
// @Summary 列出消息
// @Tags sessions
// @Param session_id path string true "会话 ID"
// @Success 200 {object} Response{data=api.MessageList}
// @Router /api/sessions/{session_id}/messages [get]
func (h *SessionHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.service.Messages(r.Context(), r.PathValue("session_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.MessageList{Messages: msgs})
}

// HandleSendMessage 保存用户消息并转发给 Agent
// @Summary 发送消息
// @Tags sessions
// @Param session_id path string true "会话 ID"
// @Param request body api.SendMessageRequest true "消息"
// @Success 200 {object} Response{data=sessions.Reply}
// @Failure 404 {object} Response "会话或 Agent 不存在"
// @Failure 502 {object} Response "Agent 不可达"
// @Router /api/sessions/{session_id}/messages [post]
func (h *SessionHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req api.SendMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "content required", h.logger)
		return
	}
	reply, err := h.service.SendMessage(r.Context(), r.PathValue("session_id"), req.Content)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, reply)
}

// HandleChat 将请求体原样转发给 Agent 的 /invocations
// @Summary 聊天代理
// @Tags sessions
// @Param agent_id path string true "Agent ID"
// @Success 200 {object} Response "Agent 的 JSON 响应"
// @Failure 404 {object} Response
// @Failure 502 {object} Response
// @Router /api/chat/{agent_id} [post]
func (h *SessionHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	out, err := h.service.Forward(r.Context(), r.PathValue("agent_id"), body)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, out)
}
