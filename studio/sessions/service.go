package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/tlsutil"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 依赖与配置
// =============================================================================

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

const (
	// DefaultChatTimeout Agent 调用超时
	DefaultChatTimeout = 120 * time.Second
	// DefaultEvalConcurrency eval set 默认并发
	DefaultEvalConcurrency = 4

	maxAgentResponseBytes = 10 << 20
)

// NOT_FOUND 错误
var (
	ErrSessionNotFound = types.NotFound("Session not found")
	ErrAgentNotFound   = types.NotFound("Agent not found")
	ErrEvalSetNotFound = types.NotFound("Eval set not found")
)

// Store 会话相关持久化，由 *store.Store 实现
type Store interface {
	SaveSession(ctx context.Context, sess *studio.Session) error
	GetSession(ctx context.Context, sessionID string) (*studio.Session, error)
	ListSessions(ctx context.Context, agentID string, limit int) ([]studio.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SaveMessage(ctx context.Context, m *studio.SessionMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]studio.SessionMessage, error)
	ListTraces(ctx context.Context, f store.TraceFilter) ([]studio.Trace, error)

	SaveEvalSet(ctx context.Context, set *studio.EvalSet) error
	GetEvalSet(ctx context.Context, evalSetID string) (*studio.EvalSet, error)
	ListEvalSets(ctx context.Context, agentID string) ([]studio.EvalSet, error)
	SaveEvalCase(ctx context.Context, c *studio.EvalCase) error
	ListEvalCases(ctx context.Context, evalSetID string) ([]studio.EvalCase, error)
}

// AgentLookup 解析 Agent 注册信息，由 discovery.Service 实现
type AgentLookup interface {
	GetAgent(ctx context.Context, agentID string) (*studio.AgentRegistration, error)
}

// Evaluator 评估单条 trace，由 evaluator.Evaluator 实现
type Evaluator interface {
	RunEvaluation(ctx context.Context, traceID string, metrics []studio.EvalMetric) (*studio.EvalResult, error)
}

// Recorder 记录代理调用指标
type Recorder interface {
	RecordChat(status string, duration time.Duration)
}

// Service 会话服务
type Service struct {
	store       Store
	agents      AgentLookup
	evaluator   Evaluator
	client      *http.Client
	concurrency int
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
}

// Option 配置 Service
type Option func(*Service)

// WithHTTPClient 替换调用 Agent 的 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService 创建会话服务
func NewService(st Store, agents AgentLookup, eval Evaluator, cfg config.ChatConfig, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	concurrency := cfg.EvalConcurrency
	if concurrency <= 0 {
		concurrency = DefaultEvalConcurrency
	}
	s := &Service{
		store:       st,
		agents:      agents,
		evaluator:   eval,
		client:      tlsutil.SecureHTTPClient(timeout),
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "sessions")),
		now:         studio.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// 💬 会话
// =============================================================================

// CreateSession 创建会话，userID 为空时使用 studio.DefaultUserID
func (s *Service) CreateSession(ctx context.Context, agentID, userID string) (*studio.Session, error) {
	if userID == "" {
		userID = studio.DefaultUserID
	}
	now := studio.Normalize(s.now())
	sess := &studio.Session{
		SessionID: studio.NewID(),
		AgentID:   agentID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions 按更新时间倒序列出会话
func (s *Service) ListSessions(ctx context.Context, agentID string, limit int) ([]studio.Session, error) {
	return s.store.ListSessions(ctx, agentID, limit)
}

// GetSession 返回会话及其消息
func (s *Service) GetSession(ctx context.Context, sessionID string) (*studio.Session, []studio.SessionMessage, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, notFound(err, ErrSessionNotFound)
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

// DeleteSession 删除会话及其消息
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	return notFound(s.store.DeleteSession(ctx, sessionID), ErrSessionNotFound)
}

// Messages 按时间顺序返回会话消息
func (s *Service) Messages(ctx context.Context, sessionID string) ([]studio.SessionMessage, error) {
	return s.store.ListMessages(ctx, sessionID)
}

// Reply SendMessage 的结果
type Reply struct {
	Message *studio.SessionMessage `json:"message"`
	Raw     json.RawMessage        `json:"raw"`
}

// SendMessage 保存用户消息并转发给会话绑定的 Agent
func (s *Service) SendMessage(ctx context.Context, sessionID, content string) (*Reply, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}

	userMsg := s.newMessage(sessionID, RoleUser, content, time.Time{})
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	agent, err := s.agents.GetAgent(ctx, sess.AgentID)
	if err != nil {
		if !types.IsNotFound(err) {
			return nil, err
		}
		s.saveError(ctx, sessionID, fmt.Sprintf("Agent '%s' not found or unreachable", sess.AgentID), userMsg.CreatedAt)
		return nil, ErrAgentNotFound
	}

	payload, err := json.Marshal(map[string]string{"prompt": content})
	if err != nil {
		return nil, err
	}
	raw, err := s.invoke(ctx, agent, payload, userMsg.MessageID)
	if err != nil {
		s.saveError(ctx, sessionID, err.Error(), userMsg.CreatedAt)
		return nil, err
	}

	traceID := userMsg.MessageID
	if traces, err := s.store.ListTraces(ctx, store.TraceFilter{AgentID: sess.AgentID, Limit: 1}); err != nil {
		s.logger.Warn("latest trace lookup failed", zap.String("agent_id", sess.AgentID), zap.Error(err))
	} else if len(traces) > 0 {
		traceID = traces[0].TraceID
	}

	reply := s.newMessage(sessionID, RoleAssistant, responseText(raw), userMsg.CreatedAt)
	reply.TraceID = &traceID
	if err := s.store.SaveMessage(ctx, reply); err != nil {
		return nil, err
	}
	return &Reply{Message: reply, Raw: raw}, nil
}

// Forward 将 body 原样转发给 Agent 的 /invocations 并返回 JSON 响应
func (s *Service) Forward(ctx context.Context, agentID string, body json.RawMessage) (json.RawMessage, error) {
	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		if types.IsNotFound(err) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return s.invoke(ctx, agent, body, "")
}

// invoke 调用 Agent 并返回其 JSON 响应体
func (s *Service) invoke(ctx context.Context, agent *studio.AgentRegistration, body []byte, requestID string) (json.RawMessage, error) {
	endpoint := strings.TrimRight(agent.Endpoint, "/")
	start := time.Now()
	status := "error"
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordChat(status, time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/invocations", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "invalid agent endpoint "+endpoint).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("agent call failed", zap.String("agent_id", agent.AgentID), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, types.NewError(types.ErrUpstreamError, "Cannot connect to agent at "+endpoint).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentResponseBytes))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "failed to read agent response").WithCause(err)
	}
	if !json.Valid(data) {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("agent returned a non-JSON response (HTTP %d)", resp.StatusCode))
	}
	status = "ok"
	return json.RawMessage(data), nil
}

// responseText 优先取 response 字段，否则返回原始 JSON
func responseText(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}
	v, ok := obj["response"]
	if !ok {
		return string(raw)
	}
	var text string
	if err := json.Unmarshal(v, &text); err == nil {
		return text
	}
	return string(v)
}

// newMessage 创建消息；时间戳严格晚于 after，保证会话内顺序
func (s *Service) newMessage(sessionID, role, content string, after time.Time) *studio.SessionMessage {
	now := studio.Normalize(s.now())
	if !after.IsZero() && !now.After(after) {
		now = after.Add(time.Millisecond)
	}
	return &studio.SessionMessage{
		MessageID: studio.NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

func (s *Service) saveError(ctx context.Context, sessionID, content string, after time.Time) {
	msg := s.newMessage(sessionID, RoleError, content, after)
	if err := s.store.SaveMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("failed to save error message", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func notFound(err error, nf *types.Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nf
	}
	return err
}
