package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SavePrompt inserts or overwrites a prompt template.
func (s *Store) SavePrompt(ctx context.Context, p *studio.PromptTemplate) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "prompt_id"}},
		UpdateAll: true,
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("save prompt %s: %w", p.Name, err)
	}
	return nil
}

// GetPrompt returns one prompt template.
func (s *Store) GetPrompt(ctx context.Context, promptID string) (*studio.PromptTemplate, error) {
	return first[studio.PromptTemplate](ctx, s, "prompt", "prompt_id", promptID)
}

// GetPromptByName looks a prompt up by its unique name.
func (s *Store) GetPromptByName(ctx context.Context, name string) (*studio.PromptTemplate, error) {
	return first[studio.PromptTemplate](ctx, s, "prompt", "name", name)
}

// ListPrompts returns prompts most recently updated first.
func (s *Store) ListPrompts(ctx context.Context) ([]studio.PromptTemplate, error) {
	var out []studio.PromptTemplate
	if err := s.conn(ctx).Order("updated_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return out, nil
}

// DeletePrompt removes a prompt and all of its versions.
func (s *Store) DeletePrompt(ctx context.Context, promptID string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("prompt_id = ?", promptID).Delete(&studio.PromptVersion{}).Error; err != nil {
			return fmt.Errorf("delete versions of %s: %w", promptID, err)
		}
		return deleteByID[studio.PromptTemplate](tx, "prompt", "prompt_id", promptID)
	})
}

// SavePromptVersion inserts or overwrites a prompt version.
func (s *Store) SavePromptVersion(ctx context.Context, v *studio.PromptVersion) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "version_id"}},
		UpdateAll: true,
	}).Create(v).Error
	if err != nil {
		return fmt.Errorf("save version %d of %s: %w", v.Version, v.PromptID, err)
	}
	return nil
}

// ListPromptVersions returns versions newest first.
func (s *Store) ListPromptVersions(ctx context.Context, promptID string) ([]studio.PromptVersion, error) {
	var out []studio.PromptVersion
	err := s.conn(ctx).Where("prompt_id = ?", promptID).Order("version DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", promptID, err)
	}
	return out, nil
}

// GetPromptVersion returns a specific version number of a prompt.
func (s *Store) GetPromptVersion(ctx context.Context, promptID string, version int) (*studio.PromptVersion, error) {
	var out studio.PromptVersion
	err := s.conn(ctx).Where("prompt_id = ? AND version = ?", promptID, version).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("version %d of prompt %s: %w", version, promptID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version %d of %s: %w", version, promptID, err)
	}
	return &out, nil
}

// GetActiveVersion returns the active version of a prompt.
func (s *Store) GetActiveVersion(ctx context.Context, promptID string) (*studio.PromptVersion, error) {
	var out studio.PromptVersion
	err := s.conn(ctx).Where("prompt_id = ? AND is_active = ?", promptID, true).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("active version of prompt %s: %w", promptID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active version of %s: %w", promptID, err)
	}
	return &out, nil
}

// MaxPromptVersion returns the highest version number of a prompt, 0 if none.
func (s *Store) MaxPromptVersion(ctx context.Context, promptID string) (int, error) {
	var max *int
	err := s.conn(ctx).Model(&studio.PromptVersion{}).
		Where("prompt_id = ?", promptID).
		Select("MAX(version)").Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("max version of %s: %w", promptID, err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

// DeactivateVersions clears is_active on every version of a prompt.
func (s *Store) DeactivateVersions(ctx context.Context, promptID string) error {
	err := s.conn(ctx).Model(&studio.PromptVersion{}).
		Where("prompt_id = ?", promptID).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("deactivate versions of %s: %w", promptID, err)
	}
	return nil
}
