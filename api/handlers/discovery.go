package handlers

import (
	"context"
	"net/http"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/discovery"
	"go.uber.org/zap"
)

// =============================================================================
// 🛰️ Discovery Handler
// =============================================================================

// Registry Agent 注册表接口，由 *discovery.Service 实现
type Registry interface {
	Register(ctx context.Context, r discovery.Registration) (*studio.AgentRegistration, error)
	Heartbeat(ctx context.Context, hb discovery.HeartbeatReport) (*studio.AgentRegistration, error)
	Deregister(ctx context.Context, agentID string) error
	GetAgent(ctx context.Context, agentID string) (*studio.AgentRegistration, error)
	ListAgents(ctx context.Context, status, protocol string) ([]studio.AgentRegistration, error)
}

// DiscoveryHandler Agent 注册、心跳与查询
type DiscoveryHandler struct {
	registry Registry
	logger   *zap.Logger
}

// NewDiscoveryHandler 创建服务发现 handler
func NewDiscoveryHandler(registry Registry, logger *zap.Logger) *DiscoveryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryHandler{registry: registry, logger: logger}
}

// HandleRegister 注册或更新 Agent
// @Summary 注册 Agent
// @Tags discovery
// @Param request body discovery.Registration true "注册信息"
// @Success 201 {object} Response{data=studio.AgentRegistration}
// @Router /api/discovery/register [post]
func (h *DiscoveryHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req discovery.Registration
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	agent, err := h.registry.Register(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteCreated(w, agent)
}

// HandleHeartbeat 处理心跳
// @Summary 心跳
// @Tags discovery
// @Param request body discovery.HeartbeatReport true "心跳"
// @Success 200 {object} Response{data=api.HeartbeatResponse}
// @Failure 404 {object} Response "Agent not registered"
// @Router /api/discovery/heartbeat [post]
func (h *DiscoveryHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req discovery.HeartbeatReport
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	agent, err := h.registry.Heartbeat(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.HeartbeatResponse{AgentID: agent.AgentID, Status: string(agent.Status)})
}

// HandleList 列出 Agent
// @Summary 列出 Agent
// @Tags discovery
// @Param status query string false "按状态过滤"
// @Param protocol query string false "按协议过滤"
// @Success 200 {object} Response{data=api.AgentList}
// @Router /api/discovery/agents [get]
func (h *DiscoveryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agents, err := h.registry.ListAgents(r.Context(), q.Get("status"), q.Get("protocol"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.AgentList{Agents: agents})
}

// HandleGet 获取 Agent
// @Summary 获取 Agent
// @Tags discovery
// @Param agent_id path string true "Agent ID"
// @Success 200 {object} Response{data=studio.AgentRegistration}
// @Failure 404 {object} Response
// @Router /api/discovery/agents/{agent_id} [get]
func (h *DiscoveryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.GetAgent(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, agent)
}

// HandleDeregister 注销 Agent
// @Summary 注销 Agent
// @Tags discovery
// @Param agent_id path string true "Agent ID"
// @Success 200 {object} Response{data=api.StatusResponse}
// @Failure 404 {object} Response
// @Router /api/discovery/agents/{agent_id} [delete]
func (h *DiscoveryHandler) HandleDeregister(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deregister(r.Context(), r.PathValue("agent_id")); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.StatusResponse{Status: "deregistered"})
}
