package flags

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/internal/cache"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// Store is the persistence used by the resolver. *store.Store implements it.
type Store interface {
	UpsertFlag(ctx context.Context, f *studio.FeatureFlag) (*studio.FeatureFlag, error)
	GetFlags(ctx context.Context, agentID string) ([]studio.FeatureFlag, error)
	GetFlagByID(ctx context.Context, flagID string) (*studio.FeatureFlag, error)
	DeleteFlag(ctx context.Context, flagID string) error

	UpsertParam(ctx context.Context, p *studio.Parameter) (*studio.Parameter, error)
	GetParams(ctx context.Context, agentID string) ([]studio.Parameter, error)
	GetParamByID(ctx context.Context, paramID string) (*studio.Parameter, error)
	DeleteParam(ctx context.Context, paramID string) error
}

// Cache stores resolved views. *cache.Manager implements it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// FlagState is the resolved form of a flag.
type FlagState struct {
	Enabled bool `json:"enabled"`
	Value   any  `json:"value"`
}

// Resolver answers flag and parameter lookups with `_global` fallback.
type Resolver struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache caches resolved views for ttl (0 uses the cache default).
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// NewResolver creates a Resolver.
func NewResolver(st Store, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		store:  st,
		logger: logger.With(zap.String("component", "flag_resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// Flags
// =============================================================================

// IsEnabled resolves one flag: the agent's row, then the global row, then def.
func (r *Resolver) IsEnabled(ctx context.Context, agentID, name string, def bool) (bool, error) {
	flags, err := r.Flags(ctx, agentID, true)
	if err != nil {
		return def, err
	}
	if f, ok := flags[name]; ok {
		return f.Enabled, nil
	}
	return def, nil
}

// Flags returns the merged view of an agent's flags. With includeGlobal the
// global flags are applied first and shadowed by the agent's own.
func (r *Resolver) Flags(ctx context.Context, agentID string, includeGlobal bool) (map[string]FlagState, error) {
	agentID = scope(agentID)
	key := cacheKey("flags", agentID, includeGlobal)

	out := map[string]FlagState{}
	if r.cacheGet(ctx, key, &out) {
		return out, nil
	}

	rows, err := r.visibleFlags(ctx, agentID, includeGlobal)
	if err != nil {
		return nil, err
	}
	for _, f := range rows {
		out[f.Name] = FlagState{Enabled: f.Enabled, Value: f.Value}
	}
	r.cacheSet(ctx, key, out)
	return out, nil
}

// ListFlags returns the rows visible to an agent: its own plus, with
// includeGlobal, the global rows not shadowed by name. Ordered by name.
func (r *Resolver) ListFlags(ctx context.Context, agentID string, includeGlobal bool) ([]studio.FeatureFlag, error) {
	return r.visibleFlags(ctx, scope(agentID), includeGlobal)
}

// SetFlag creates or updates the (agentID, name) flag. An empty description
// keeps the stored one.
func (r *Resolver) SetFlag(ctx context.Context, agentID, name string, enabled bool, value any, description string) (*studio.FeatureFlag, error) {
	if name == "" {
		return nil, types.InvalidRequest("flag name is required")
	}
	f, err := r.store.UpsertFlag(ctx, &studio.FeatureFlag{
		AgentID:     scope(agentID),
		Name:        name,
		Enabled:     enabled,
		Value:       value,
		Description: description,
		UpdatedAt:   studio.Now(),
	})
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, "flags", f.AgentID)
	return f, nil
}

// DeleteFlag removes a flag of agentID by id.
func (r *Resolver) DeleteFlag(ctx context.Context, agentID, flagID string) error {
	f, err := r.store.GetFlagByID(ctx, flagID)
	if err != nil {
		return notFound("Flag not found", err)
	}
	if f.AgentID != scope(agentID) {
		return types.NotFound("Flag not found")
	}
	if err := r.store.DeleteFlag(ctx, flagID); err != nil {
		return notFound("Flag not found", err)
	}
	r.invalidate(ctx, "flags", f.AgentID)
	return nil
}

func (r *Resolver) visibleFlags(ctx context.Context, agentID string, includeGlobal bool) ([]studio.FeatureFlag, error) {
	own, err := r.store.GetFlags(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !includeGlobal || agentID == studio.GlobalAgentID {
		return own, nil
	}
	global, err := r.store.GetFlags(ctx, studio.GlobalAgentID)
	if err != nil {
		return nil, err
	}
	return mergeByName(global, own, func(f studio.FeatureFlag) string { return f.Name }), nil
}

// =============================================================================
// Parameters
// =============================================================================

// Param resolves one parameter: the agent's row, then the global row, then def.
func (r *Resolver) Param(ctx context.Context, agentID, name string, def any) (any, error) {
	params, err := r.Params(ctx, agentID, true)
	if err != nil {
		return def, err
	}
	if v, ok := params[name]; ok {
		return v, nil
	}
	return def, nil
}

// Params returns the merged name -> value view of an agent's parameters.
func (r *Resolver) Params(ctx context.Context, agentID string, includeGlobal bool) (map[string]any, error) {
	agentID = scope(agentID)
	key := cacheKey("params", agentID, includeGlobal)

	out := map[string]any{}
	if r.cacheGet(ctx, key, &out) {
		return out, nil
	}

	rows, err := r.visibleParams(ctx, agentID, includeGlobal)
	if err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.Name] = p.Value
	}
	r.cacheSet(ctx, key, out)
	return out, nil
}

// ListParams returns the parameter rows visible to an agent.
func (r *Resolver) ListParams(ctx context.Context, agentID string, includeGlobal bool) ([]studio.Parameter, error) {
	return r.visibleParams(ctx, scope(agentID), includeGlobal)
}

// SetParam creates or updates the (agentID, name) parameter.
func (r *Resolver) SetParam(ctx context.Context, agentID, name string, value any, description string) (*studio.Parameter, error) {
	if name == "" {
		return nil, types.InvalidRequest("parameter name is required")
	}
	p, err := r.store.UpsertParam(ctx, &studio.Parameter{
		AgentID:     scope(agentID),
		Name:        name,
		Value:       value,
		Description: description,
		UpdatedAt:   studio.Now(),
	})
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, "params", p.AgentID)
	return p, nil
}

// DeleteParam removes a parameter of agentID by id.
func (r *Resolver) DeleteParam(ctx context.Context, agentID, paramID string) error {
	p, err := r.store.GetParamByID(ctx, paramID)
	if err != nil {
		return notFound("Parameter not found", err)
	}
	if p.AgentID != scope(agentID) {
		return types.NotFound("Parameter not found")
	}
	if err := r.store.DeleteParam(ctx, paramID); err != nil {
		return notFound("Parameter not found", err)
	}
	r.invalidate(ctx, "params", p.AgentID)
	return nil
}

func (r *Resolver) visibleParams(ctx context.Context, agentID string, includeGlobal bool) ([]studio.Parameter, error) {
	own, err := r.store.GetParams(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !includeGlobal || agentID == studio.GlobalAgentID {
		return own, nil
	}
	global, err := r.store.GetParams(ctx, studio.GlobalAgentID)
	if err != nil {
		return nil, err
	}
	return mergeByName(global, own, func(p studio.Parameter) string { return p.Name }), nil
}

// =============================================================================
// Helpers
// =============================================================================

func scope(agentID string) string {
	if agentID == "" {
		return studio.GlobalAgentID
	}
	return agentID
}

// mergeByName returns own plus the global rows whose name own does not use,
// ordered by name.
func mergeByName[T any](global, own []T, name func(T) string) []T {
	shadowed := make(map[string]struct{}, len(own))
	for _, row := range own {
		shadowed[name(row)] = struct{}{}
	}
	out := append(make([]T, 0, len(global)+len(own)), own...)
	for _, row := range global {
		if _, ok := shadowed[name(row)]; !ok {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return name(out[i]) < name(out[j]) })
	return out
}

func cacheKey(kind, agentID string, includeGlobal bool) string {
	return fmt.Sprintf("%s:%s:%t", kind, agentID, includeGlobal)
}

func (r *Resolver) cacheGet(ctx context.Context, key string, dest any) bool {
	if r.cache == nil {
		return false
	}
	err := r.cache.GetJSON(ctx, key, dest)
	if err != nil && !cache.IsCacheMiss(err) {
		r.logger.Warn("flag cache read failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

func (r *Resolver) cacheSet(ctx context.Context, key string, v any) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetJSON(ctx, key, v, r.ttl); err != nil {
		r.logger.Warn("flag cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate drops cached views that depend on agentID. Global rows feed
// every agent's view.
func (r *Resolver) invalidate(ctx context.Context, kind, agentID string) {
	if r.cache == nil {
		return
	}
	prefix := kind + ":" + agentID + ":"
	if agentID == studio.GlobalAgentID {
		prefix = kind + ":"
	}
	if _, err := r.cache.DeletePrefix(ctx, prefix); err != nil {
		r.logger.Warn("flag cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

func notFound(msg string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return types.NotFound(msg).WithCause(err)
	}
	return err
}
