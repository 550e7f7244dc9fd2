package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertScoped inserts row, or on an (agent_id, name) conflict updates the
// given columns of the existing row in place. The existing primary key is
// kept. The stored row is reloaded into out.
func upsertScoped[T any](ctx context.Context, s *Store, row *T, agentID, name string, updates []string, out *T) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(row).Error
	if err != nil {
		return err
	}
	return s.conn(ctx).Where("agent_id = ? AND name = ?", agentID, name).Take(out).Error
}

// scopedUpdateColumns lists the columns rewritten on conflict. An empty
// description keeps the stored one.
func scopedUpdateColumns(base []string, description string) []string {
	cols := append([]string{}, base...)
	if description != "" {
		cols = append(cols, "description")
	}
	return cols
}

// UpsertFlag creates a flag or updates enabled/value (and a non-empty
// description) of the existing (agent_id, name) row.
func (s *Store) UpsertFlag(ctx context.Context, f *studio.FeatureFlag) (*studio.FeatureFlag, error) {
	if f.AgentID == "" {
		f.AgentID = studio.GlobalAgentID
	}
	if f.FlagID == "" {
		f.FlagID = studio.NewID()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = studio.Now()
	}
	cols := scopedUpdateColumns([]string{"enabled", "value", "updated_at"}, f.Description)

	var stored studio.FeatureFlag
	if err := upsertScoped(ctx, s, f, f.AgentID, f.Name, cols, &stored); err != nil {
		return nil, fmt.Errorf("upsert flag %s/%s: %w", f.AgentID, f.Name, err)
	}
	return &stored, nil
}

// GetFlags returns the flags stored for exactly agentID, ordered by name.
func (s *Store) GetFlags(ctx context.Context, agentID string) ([]studio.FeatureFlag, error) {
	var out []studio.FeatureFlag
	if err := s.conn(ctx).Where("agent_id = ?", agentID).Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list flags of %s: %w", agentID, err)
	}
	return out, nil
}

// GetFlag returns the (agentID, name) flag.
func (s *Store) GetFlag(ctx context.Context, agentID, name string) (*studio.FeatureFlag, error) {
	var out studio.FeatureFlag
	err := s.conn(ctx).Where("agent_id = ? AND name = ?", agentID, name).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("flag %s/%s: %w", agentID, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get flag %s/%s: %w", agentID, name, err)
	}
	return &out, nil
}

// GetFlagByID returns one flag by id.
func (s *Store) GetFlagByID(ctx context.Context, flagID string) (*studio.FeatureFlag, error) {
	return first[studio.FeatureFlag](ctx, s, "flag", "flag_id", flagID)
}

// DeleteFlag removes a flag by id.
func (s *Store) DeleteFlag(ctx context.Context, flagID string) error {
	return deleteByID[studio.FeatureFlag](s.conn(ctx), "flag", "flag_id", flagID)
}

// UpsertParam creates a parameter or updates value (and a non-empty
// description) of the existing (agent_id, name) row.
func (s *Store) UpsertParam(ctx context.Context, p *studio.Parameter) (*studio.Parameter, error) {
	if p.AgentID == "" {
		p.AgentID = studio.GlobalAgentID
	}
	if p.ParamID == "" {
		p.ParamID = studio.NewID()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = studio.Now()
	}
	cols := scopedUpdateColumns([]string{"value", "updated_at"}, p.Description)

	var stored studio.Parameter
	if err := upsertScoped(ctx, s, p, p.AgentID, p.Name, cols, &stored); err != nil {
		return nil, fmt.Errorf("upsert param %s/%s: %w", p.AgentID, p.Name, err)
	}
	return &stored, nil
}

// GetParams returns the parameters stored for exactly agentID, ordered by name.
func (s *Store) GetParams(ctx context.Context, agentID string) ([]studio.Parameter, error) {
	var out []studio.Parameter
	if err := s.conn(ctx).Where("agent_id = ?", agentID).Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list params of %s: %w", agentID, err)
	}
	return out, nil
}

// GetParam returns the (agentID, name) parameter.
func (s *Store) GetParam(ctx context.Context, agentID, name string) (*studio.Parameter, error) {
	var out studio.Parameter
	err := s.conn(ctx).Where("agent_id = ? AND name = ?", agentID, name).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("param %s/%s: %w", agentID, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get param %s/%s: %w", agentID, name, err)
	}
	return &out, nil
}

// GetParamByID returns one parameter by id.
func (s *Store) GetParamByID(ctx context.Context, paramID string) (*studio.Parameter, error) {
	return first[studio.Parameter](ctx, s, "param", "param_id", paramID)
}

// DeleteParam removes a parameter by id.
func (s *Store) DeleteParam(ctx context.Context, paramID string) error {
	return deleteByID[studio.Parameter](s.conn(ctx), "param", "param_id", paramID)
}
