package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// ErrAgentNotRegistered is returned by Heartbeat for an unknown agent.
var ErrAgentNotRegistered = types.NotFound("Agent not registered")

// Store is the persistence used by the service. *store.Store implements it.
type Store interface {
	SaveAgent(ctx context.Context, a *studio.AgentRegistration) error
	GetAgent(ctx context.Context, agentID string) (*studio.AgentRegistration, error)
	ListAgents(ctx context.Context, f store.AgentFilter) ([]studio.AgentRegistration, error)
	DeleteAgent(ctx context.Context, agentID string) error
}

// Recorder receives registry metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordHeartbeat(status string)
	RecordAgentTransition(agentID, from, to string)
}

// Config tunes status evaluation and staleness.
type Config struct {
	CheckInterval   time.Duration
	ErrorThreshold  int
	StaleMultiplier int
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:   10 * time.Second,
		ErrorThreshold:  5,
		StaleMultiplier: 3,
	}
}

// ConfigFrom builds a Config from the application config, keeping defaults
// for unset values.
func ConfigFrom(dc config.DiscoveryConfig) Config {
	cfg := DefaultConfig()
	if dc.CheckInterval > 0 {
		cfg.CheckInterval = dc.CheckInterval
	}
	if dc.ErrorThreshold > 0 {
		cfg.ErrorThreshold = dc.ErrorThreshold
	}
	if dc.StaleMultiplier > 0 {
		cfg.StaleMultiplier = dc.StaleMultiplier
	}
	return cfg
}

// Registration is a register request. Nil fields keep the stored value of an
// existing agent and take the registration defaults for a new one.
type Registration struct {
	AgentID            string         `json:"agent_id"`
	Name               *string        `json:"name,omitempty"`
	Protocol           *string        `json:"protocol,omitempty"`
	Endpoint           *string        `json:"endpoint,omitempty"`
	Capabilities       []string       `json:"capabilities,omitempty"`
	Version            *string        `json:"version,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	HeartbeatIntervalS *int           `json:"heartbeat_interval_s,omitempty"`
}

// HeartbeatReport is the payload of a heartbeat. Nil counters keep the
// stored values.
type HeartbeatReport struct {
	AgentID          string   `json:"agent_id"`
	Status           string   `json:"status,omitempty"`
	UptimeSeconds    *float64 `json:"uptime_seconds,omitempty"`
	ActiveTasks      *int     `json:"active_tasks,omitempty"`
	ErrorCountLast5m *int     `json:"error_count_last_5m,omitempty"`
	MemoryMB         *float64 `json:"memory_mb,omitempty"`
}

// Service is the agent registry.
type Service struct {
	store    Store
	cfg      Config
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	locks keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder reports heartbeats and status transitions.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the registry.
func NewService(st Store, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	if cfg.StaleMultiplier <= 0 {
		cfg.StaleMultiplier = def.StaleMultiplier
	}
	s := &Service{
		store:  st,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "discovery")),
		now:    time.Now,
		locks:  keyedMutex{locks: map[string]*refLock{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Register creates or updates an agent. The agent becomes healthy and its
// last heartbeat is set to now. A missing agent_id falls back to the name.
func (s *Service) Register(ctx context.Context, r Registration) (*studio.AgentRegistration, error) {
	agentID := r.AgentID
	if agentID == "" {
		agentID = deref(r.Name, "unknown")
	}

	unlock := s.locks.lock(agentID)
	defer unlock()

	now := studio.Normalize(s.now())
	existing, err := s.store.GetAgent(ctx, agentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("register agent %s: %w", agentID, err)
	}

	var (
		agent *studio.AgentRegistration
		from  studio.AgentStatus
	)
	if existing != nil {
		agent = existing
		from = existing.Status
		agent.Name = deref(r.Name, agent.Name)
		agent.Protocol = deref(r.Protocol, agent.Protocol)
		agent.Endpoint = deref(r.Endpoint, agent.Endpoint)
		agent.Version = deref(r.Version, agent.Version)
		agent.HeartbeatIntervalS = deref(r.HeartbeatIntervalS, agent.HeartbeatIntervalS)
		if r.Capabilities != nil {
			agent.Capabilities = r.Capabilities
		}
		if r.Metadata != nil {
			agent.Metadata = r.Metadata
		}
	} else {
		agent = &studio.AgentRegistration{
			AgentID:            agentID,
			Name:               deref(r.Name, "unknown"),
			Protocol:           deref(r.Protocol, studio.DefaultProtocol),
			Endpoint:           deref(r.Endpoint, ""),
			Capabilities:       r.Capabilities,
			Version:            deref(r.Version, studio.DefaultAgentVersion),
			Metadata:           r.Metadata,
			HeartbeatIntervalS: deref(r.HeartbeatIntervalS, studio.DefaultHeartbeatInterval),
			RegisteredAt:       now,
		}
	}
	agent.Status = studio.AgentHealthy
	agent.LastHeartbeat = studio.Ptr(now)

	if err := s.store.SaveAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("register agent %s: %w", agentID, err)
	}
	s.transition(agentID, from, agent.Status)
	s.logger.Info("agent registered",
		zap.String("agent_id", agentID),
		zap.String("endpoint", agent.Endpoint),
		zap.Bool("new", existing == nil))
	return agent, nil
}

// Heartbeat refreshes an agent's liveness and derives its status from the
// report. Unknown agents yield ErrAgentNotRegistered.
func (s *Service) Heartbeat(ctx context.Context, hb HeartbeatReport) (*studio.AgentRegistration, error) {
	if hb.AgentID == "" {
		return nil, ErrAgentNotRegistered
	}
	unlock := s.locks.lock(hb.AgentID)
	defer unlock()

	agent, err := s.store.GetAgent(ctx, hb.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat %s: %w", hb.AgentID, err)
	}

	from := agent.Status
	agent.LastHeartbeat = studio.Ptr(studio.Normalize(s.now()))
	agent.UptimeSeconds = deref(hb.UptimeSeconds, agent.UptimeSeconds)
	agent.ActiveTasks = deref(hb.ActiveTasks, agent.ActiveTasks)
	agent.ErrorCountLast5m = deref(hb.ErrorCountLast5m, agent.ErrorCountLast5m)
	agent.MemoryMB = deref(hb.MemoryMB, agent.MemoryMB)
	agent.Status = heartbeatStatus(hb.Status, agent.ErrorCountLast5m, s.cfg.ErrorThreshold)

	if err := s.store.SaveAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("heartbeat %s: %w", hb.AgentID, err)
	}
	if s.recorder != nil {
		s.recorder.RecordHeartbeat(string(agent.Status))
	}
	s.transition(agent.AgentID, from, agent.Status)
	return agent, nil
}

// heartbeatStatus: busy wins, then the error threshold, then a recognized
// reported status, else healthy.
func heartbeatStatus(reported string, errorCount, threshold int) studio.AgentStatus {
	if reported == string(studio.AgentBusy) {
		return studio.AgentBusy
	}
	if errorCount >= threshold {
		return studio.AgentDegraded
	}
	if st, ok := studio.ParseAgentStatus(reported); ok {
		return st
	}
	return studio.AgentHealthy
}

// Deregister removes an agent.
func (s *Service) Deregister(ctx context.Context, agentID string) error {
	unlock := s.locks.lock(agentID)
	defer unlock()

	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound("Agent not found").WithCause(err)
		}
		return fmt.Errorf("deregister agent %s: %w", agentID, err)
	}
	s.logger.Info("agent deregistered", zap.String("agent_id", agentID))
	return nil
}

// GetAgent returns one registration.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*studio.AgentRegistration, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NotFound("Agent not found").WithCause(err)
	}
	return agent, err
}

// ListAgents returns registrations, optionally filtered by status and protocol.
func (s *Service) ListAgents(ctx context.Context, status, protocol string) ([]studio.AgentRegistration, error) {
	return s.store.ListAgents(ctx, store.AgentFilter{Status: status, Protocol: protocol})
}

func (s *Service) transition(agentID string, from, to studio.AgentStatus) {
	if from == "" || from == to {
		return
	}
	if s.recorder != nil {
		s.recorder.RecordAgentTransition(agentID, string(from), string(to))
	}
	s.logger.Info("agent status changed",
		zap.String("agent_id", agentID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// keyedMutex serializes work per key. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
