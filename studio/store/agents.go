package store

import (
	"context"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"gorm.io/gorm/clause"
)

// AgentFilter narrows ListAgents. Empty fields match everything.
type AgentFilter struct {
	Status   string
	Protocol string
}

// SaveAgent inserts or overwrites an agent registration.
func (s *Store) SaveAgent(ctx context.Context, a *studio.AgentRegistration) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}},
		UpdateAll: true,
	}).Create(a).Error
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.AgentID, err)
	}
	return nil
}

// GetAgent returns one registration.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*studio.AgentRegistration, error) {
	return first[studio.AgentRegistration](ctx, s, "agent", "agent_id", agentID)
}

// ListAgents returns registrations ordered by name.
func (s *Store) ListAgents(ctx context.Context, f AgentFilter) ([]studio.AgentRegistration, error) {
	q := s.conn(ctx).Model(&studio.AgentRegistration{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Protocol != "" {
		q = q.Where("protocol = ?", f.Protocol)
	}
	var out []studio.AgentRegistration
	if err := q.Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out, nil
}

// DeleteAgent removes a registration.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	return deleteByID[studio.AgentRegistration](s.conn(ctx), "agent", "agent_id", agentID)
}
