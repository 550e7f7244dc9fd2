package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康巡检
// =============================================================================

// Monitor periodically marks agents with stale heartbeats as unreachable.
type Monitor struct {
	svc    *Service
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a monitor for svc. It does nothing until Start.
func NewMonitor(svc *Service) *Monitor {
	return &Monitor{
		svc:    svc,
		logger: svc.logger.With(zap.String("subcomponent", "health_monitor")),
	}
}

// Start launches the background loop. Calling Start on a running monitor is
// a no-op. The loop ends when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true
	go m.run(ctx, m.done)
	m.logger.Info("health monitor started", zap.Duration("interval", m.svc.cfg.CheckInterval))
}

// Stop ends the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("health monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.svc.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("health sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one staleness pass and returns the ids of agents it marked
// unreachable. Agents that are already unreachable or never sent a
// heartbeat are skipped.
func (m *Monitor) Sweep(ctx context.Context) ([]string, error) {
	agents, err := m.svc.store.ListAgents(ctx, store.AgentFilter{})
	if err != nil {
		return nil, err
	}

	var marked []string
	for i := range agents {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		if !m.isStale(&agents[i], m.svc.now()) {
			continue
		}
		ok, err := m.markUnreachable(ctx, agents[i].AgentID)
		if err != nil {
			m.logger.Warn("failed to mark agent unreachable",
				zap.String("agent_id", agents[i].AgentID), zap.Error(err))
			continue
		}
		if ok {
			marked = append(marked, agents[i].AgentID)
		}
	}
	return marked, nil
}

func (m *Monitor) isStale(a *studio.AgentRegistration, now time.Time) bool {
	if a.Status == studio.AgentUnreachable || a.LastHeartbeat == nil {
		return false
	}
	timeout := time.Duration(a.HeartbeatIntervalS*m.svc.cfg.StaleMultiplier) * time.Second
	return now.Sub(*a.LastHeartbeat) > timeout
}

// markUnreachable re-checks the agent under its lock so a heartbeat that
// landed after the listing is not overwritten.
func (m *Monitor) markUnreachable(ctx context.Context, agentID string) (bool, error) {
	unlock := m.svc.locks.lock(agentID)
	defer unlock()

	now := m.svc.now()
	agent, err := m.svc.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !m.isStale(agent, now) {
		return false, nil
	}

	from := agent.Status
	agent.Status = studio.AgentUnreachable
	if err := m.svc.store.SaveAgent(ctx, agent); err != nil {
		return false, err
	}
	if m.svc.recorder != nil {
		m.svc.recorder.RecordAgentTransition(agentID, string(from), string(agent.Status))
	}
	m.logger.Info("agent marked unreachable",
		zap.String("agent_id", agentID),
		zap.Duration("since_last_heartbeat", now.Sub(*agent.LastHeartbeat).Round(time.Second)))
	return true, nil
}
