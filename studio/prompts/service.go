package prompts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

var (
	// ErrPromptNotFound is returned for unknown prompt ids and names.
	ErrPromptNotFound = types.NotFound("Prompt not found")
	// ErrVersionNotFound is returned when activating a missing version.
	ErrVersionNotFound = types.NotFound("Version not found")
)

// CreateInput describes a new template and the content of its version 1.
type CreateInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Content     string         `json:"content"`
	ModelConfig map[string]any `json:"model_config"`
	Variables   []string       `json:"variables"`
}

// UpdateInput changes template metadata. Nil fields are left untouched; an
// empty Tags slice clears the tags.
type UpdateInput struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

// VersionInput describes a new version of an existing template.
type VersionInput struct {
	Content     string         `json:"content"`
	ModelConfig map[string]any `json:"model_config"`
	Variables   []string       `json:"variables"`
	Metadata    map[string]any `json:"metadata"`
	Activate    bool           `json:"activate"`
}

// ActiveContent is what agents fetch at runtime.
type ActiveContent struct {
	PromptID    string         `json:"prompt_id"`
	Name        string         `json:"name"`
	Content     string         `json:"content"`
	ModelConfig map[string]any `json:"model_config"`
	Variables   []string       `json:"variables"`
	Version     int            `json:"version"`
}

// Service implements prompt management on top of the store.
type Service struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a prompt service.
func NewService(st *store.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  st,
		logger: logger.With(zap.String("component", "prompts")),
		now:    studio.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a template together with its active version 1.
func (s *Service) Create(ctx context.Context, in CreateInput) (*studio.PromptTemplate, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, types.InvalidRequest("name is required")
	}
	if err := s.ensureNameFree(ctx, name, ""); err != nil {
		return nil, err
	}

	now := studio.Normalize(s.now())
	prompt := &studio.PromptTemplate{
		PromptID:      studio.NewID(),
		Name:          name,
		Description:   in.Description,
		Tags:          in.Tags,
		ActiveVersion: studio.Ptr(1),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	version := &studio.PromptVersion{
		VersionID:   studio.NewID(),
		PromptID:    prompt.PromptID,
		Version:     1,
		Content:     in.Content,
		ModelConfig: in.ModelConfig,
		Variables:   in.Variables,
		IsActive:    true,
		CreatedAt:   now,
	}
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.SavePrompt(ctx, prompt); err != nil {
			return err
		}
		return tx.SavePromptVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("prompt created", zap.String("prompt_id", prompt.PromptID), zap.String("name", name))
	return prompt, nil
}

// List returns every template, most recently updated first.
func (s *Service) List(ctx context.Context) ([]studio.PromptTemplate, error) {
	return s.store.ListPrompts(ctx)
}

// Get returns a template and its versions, newest first.
func (s *Service) Get(ctx context.Context, promptID string) (*studio.PromptTemplate, []studio.PromptVersion, error) {
	prompt, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return nil, nil, mapNotFound(err, ErrPromptNotFound)
	}
	versions, err := s.store.ListPromptVersions(ctx, promptID)
	if err != nil {
		return nil, nil, err
	}
	return prompt, versions, nil
}

// ActiveByName resolves a template name to its active content.
func (s *Service) ActiveByName(ctx context.Context, name string) (*ActiveContent, error) {
	prompt, err := s.store.GetPromptByName(ctx, name)
	if err != nil {
		return nil, mapNotFound(err, ErrPromptNotFound)
	}
	v, err := s.store.GetActiveVersion(ctx, prompt.PromptID)
	if err != nil {
		return nil, mapNotFound(err, ErrPromptNotFound)
	}
	return &ActiveContent{
		PromptID:    prompt.PromptID,
		Name:        prompt.Name,
		Content:     v.Content,
		ModelConfig: v.ModelConfig,
		Variables:   v.Variables,
		Version:     v.Version,
	}, nil
}

// Update changes the provided metadata fields. Content changes go through
// CreateVersion.
func (s *Service) Update(ctx context.Context, promptID string, in UpdateInput) (*studio.PromptTemplate, error) {
	prompt, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return nil, mapNotFound(err, ErrPromptNotFound)
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, types.InvalidRequest("name must not be empty")
		}
		if err := s.ensureNameFree(ctx, name, promptID); err != nil {
			return nil, err
		}
		prompt.Name = name
	}
	if in.Description != nil {
		prompt.Description = *in.Description
	}
	if in.Tags != nil {
		prompt.Tags = in.Tags
	}
	prompt.UpdatedAt = studio.Normalize(s.now())
	if err := s.store.SavePrompt(ctx, prompt); err != nil {
		return nil, err
	}
	return prompt, nil
}

// Delete removes a template and all of its versions.
func (s *Service) Delete(ctx context.Context, promptID string) error {
	if err := s.store.DeletePrompt(ctx, promptID); err != nil {
		return mapNotFound(err, ErrPromptNotFound)
	}
	s.logger.Info("prompt deleted", zap.String("prompt_id", promptID))
	return nil
}

// Versions lists a template's versions, newest first.
func (s *Service) Versions(ctx context.Context, promptID string) ([]studio.PromptVersion, error) {
	return s.store.ListPromptVersions(ctx, promptID)
}

// CreateVersion appends version max+1. With Activate set the new version
// replaces the active one.
func (s *Service) CreateVersion(ctx context.Context, promptID string, in VersionInput) (*studio.PromptVersion, error) {
	var created *studio.PromptVersion
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		prompt, err := tx.GetPrompt(ctx, promptID)
		if err != nil {
			return mapNotFound(err, ErrPromptNotFound)
		}
		latest, err := tx.MaxPromptVersion(ctx, promptID)
		if err != nil {
			return err
		}

		now := studio.Normalize(s.now())
		v := &studio.PromptVersion{
			VersionID:   studio.NewID(),
			PromptID:    promptID,
			Version:     latest + 1,
			Content:     in.Content,
			ModelConfig: in.ModelConfig,
			Variables:   in.Variables,
			Metadata:    in.Metadata,
			IsActive:    in.Activate,
			CreatedAt:   now,
		}
		if in.Activate {
			if err := tx.DeactivateVersions(ctx, promptID); err != nil {
				return err
			}
			prompt.ActiveVersion = studio.Ptr(v.Version)
			prompt.UpdatedAt = now
			if err := tx.SavePrompt(ctx, prompt); err != nil {
				return err
			}
		}
		if err := tx.SavePromptVersion(ctx, v); err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("prompt version created",
		zap.String("prompt_id", promptID),
		zap.Int("version", created.Version),
		zap.Bool("active", created.IsActive),
	)
	return created, nil
}

// Activate makes version the only active version of the template.
func (s *Service) Activate(ctx context.Context, promptID string, version int) error {
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		target, err := tx.GetPromptVersion(ctx, promptID, version)
		if err != nil {
			return mapNotFound(err, ErrVersionNotFound)
		}
		prompt, err := tx.GetPrompt(ctx, promptID)
		if err != nil {
			return mapNotFound(err, ErrPromptNotFound)
		}
		if err := tx.DeactivateVersions(ctx, promptID); err != nil {
			return err
		}
		target.IsActive = true
		if err := tx.SavePromptVersion(ctx, target); err != nil {
			return err
		}
		prompt.ActiveVersion = studio.Ptr(version)
		prompt.UpdatedAt = studio.Normalize(s.now())
		return tx.SavePrompt(ctx, prompt)
	})
	if err != nil {
		return err
	}
	s.logger.Info("prompt version activated", zap.String("prompt_id", promptID), zap.Int("version", version))
	return nil
}

func (s *Service) ensureNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.store.GetPromptByName(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.PromptID == selfID:
		return nil
	default:
		return types.NewError(types.ErrConflict, "Prompt name already exists")
	}
}

func mapNotFound(err error, nf *types.Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nf
	}
	return err
}
