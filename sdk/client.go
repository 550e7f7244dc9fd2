package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/tlsutil"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/discovery"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/flags"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
)

const (
	// DefaultTimeout bounds every request to the studio.
	DefaultTimeout = 10 * time.Second
	// DefaultCacheTTL is how long flags and params are served from memory.
	DefaultCacheTTL = 30 * time.Second
	// APIKeyHeader carries the studio API key.
	APIKeyHeader = "X-API-Key"

	maxResponseBytes = 8 << 20
)

// Client talks to a studio server on behalf of one agent.
type Client struct {
	baseURL    string
	agentID    string
	name       string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	endpoint     string
	protocol     string
	version      string
	capabilities []string
	metadata     map[string]any
	interval     time.Duration

	activeTasks func() int
	errorCount  func() int

	cacheTTL  time.Duration
	group     singleflight.Group
	mu        sync.Mutex
	flagSnap  *snapshot[map[string]flags.FlagState]
	paramSnap *snapshot[map[string]any]

	started time.Time

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type snapshot[T any] struct {
	value   T
	fetched time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default TLS-hardened client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithName sets the display name sent on registration.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithEndpoint sets the URL the studio uses to reach the agent.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithProtocol sets the agent protocol (http, a2a, mcp).
func WithProtocol(protocol string) Option {
	return func(c *Client) { c.protocol = protocol }
}

// WithVersion sets the agent version.
func WithVersion(version string) Option {
	return func(c *Client) { c.version = version }
}

// WithCapabilities sets the advertised capabilities.
func WithCapabilities(capabilities ...string) Option {
	return func(c *Client) { c.capabilities = capabilities }
}

// WithMetadata sets free-form registration metadata.
func WithMetadata(md map[string]any) Option {
	return func(c *Client) { c.metadata = md }
}

// WithHeartbeatInterval sets the heartbeat period. It is also advertised on
// registration so the studio can judge staleness.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithCacheTTL sets how long flags and params are cached. Zero disables the
// cache.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.cacheTTL = d
		}
	}
}

// WithActiveTasks reports the number of in-flight tasks on each heartbeat.
func WithActiveTasks(fn func() int) Option {
	return func(c *Client) { c.activeTasks = fn }
}

// WithErrorCount reports the errors seen in the last five minutes on each
// heartbeat.
func WithErrorCount(fn func() int) Option {
	return func(c *Client) { c.errorCount = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client for the studio at baseURL. An empty agentID falls
// back to the configured name and then to "unknown".
func New(baseURL, agentID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		agentID:    agentID,
		httpClient: tlsutil.SecureHTTPClient(DefaultTimeout),
		logger:     zap.NewNop(),
		now:        time.Now,
		protocol:   studio.DefaultProtocol,
		interval:   studio.DefaultHeartbeatInterval * time.Second,
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.agentID == "" {
		c.agentID = c.name
	}
	if c.agentID == "" {
		c.agentID = "unknown"
	}
	if c.name == "" {
		c.name = c.agentID
	}
	c.logger = c.logger.With(zap.String("component", "studio_sdk"), zap.String("agent_id", c.agentID))
	c.started = c.now()
	return c
}

// AgentID returns the id the client reports as.
func (c *Client) AgentID() string { return c.agentID }

// =============================================================================
// Discovery
// =============================================================================

// Register announces the agent to the studio.
func (c *Client) Register(ctx context.Context) (*studio.AgentRegistration, error) {
	interval := int(c.interval / time.Second)
	if interval < 1 {
		interval = 1
	}
	reg := discovery.Registration{
		AgentID:            c.agentID,
		Name:               studio.Ptr(c.name),
		Protocol:           studio.Ptr(c.protocol),
		Capabilities:       c.capabilities,
		Metadata:           c.metadata,
		HeartbeatIntervalS: studio.Ptr(interval),
	}
	if c.endpoint != "" {
		reg.Endpoint = studio.Ptr(c.endpoint)
	}
	if c.version != "" {
		reg.Version = studio.Ptr(c.version)
	}

	var agent studio.AgentRegistration
	if err := c.do(ctx, http.MethodPost, "/api/discovery/register", reg, &agent); err != nil {
		return nil, err
	}
	c.logger.Info("registered with studio", zap.String("status", string(agent.Status)))
	return &agent, nil
}

// Heartbeat reports liveness. When the studio no longer knows the agent the
// client registers again and retries once.
func (c *Client) Heartbeat(ctx context.Context) (*api.HeartbeatResponse, error) {
	var resp api.HeartbeatResponse
	err := c.do(ctx, http.MethodPost, "/api/discovery/heartbeat", c.heartbeatReport(), &resp)
	if types.IsNotFound(err) {
		c.logger.Info("agent unknown to studio, registering again")
		if _, regErr := c.Register(ctx); regErr != nil {
			return nil, regErr
		}
		err = c.do(ctx, http.MethodPost, "/api/discovery/heartbeat", c.heartbeatReport(), &resp)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) heartbeatReport() discovery.HeartbeatReport {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	hb := discovery.HeartbeatReport{
		AgentID:       c.agentID,
		Status:        string(studio.AgentHealthy),
		UptimeSeconds: studio.Ptr(c.now().Sub(c.started).Seconds()),
		MemoryMB:      studio.Ptr(float64(ms.Sys) / (1024 * 1024)),
	}
	if c.activeTasks != nil {
		hb.ActiveTasks = studio.Ptr(c.activeTasks())
	}
	if c.errorCount != nil {
		hb.ErrorCountLast5m = studio.Ptr(c.errorCount())
	}
	return hb
}

// StartHeartbeat registers the agent and sends heartbeats until ctx is done
// or Stop is called. Failures are logged and retried on the next tick.
// Calling it while a loop is running is a no-op.
func (c *Client) StartHeartbeat(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if _, err := c.Register(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("studio registration failed", zap.Error(err))
		}
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Heartbeat(ctx); err != nil && ctx.Err() == nil {
					c.logger.Warn("studio heartbeat failed", zap.Error(err))
				}
			}
		}
	}(c.done)
}

// Stop ends the heartbeat loop and waits for it to exit.
func (c *Client) Stop() {
	c.loopMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ListAgents returns the registered agents, optionally filtered.
func (c *Client) ListAgents(ctx context.Context, status, protocol string) ([]studio.AgentRegistration, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if protocol != "" {
		q.Set("protocol", protocol)
	}
	path := "/api/discovery/agents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list api.AgentList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Agents, nil
}

// =============================================================================
// Flags and params
// =============================================================================

// Flags returns the agent's flags merged with the global ones. A failed
// refresh serves the last known values, if any.
func (c *Client) Flags(ctx context.Context) (map[string]flags.FlagState, error) {
	c.mu.Lock()
	snap := c.flagSnap
	c.mu.Unlock()
	if fresh(c, snap) {
		return snap.value, nil
	}

	v, err, _ := c.group.Do("flags", func() (any, error) {
		var list api.FlagList
		if err := c.do(ctx, http.MethodGet, "/api/flags/"+url.PathEscape(c.agentID), nil, &list); err != nil {
			return nil, err
		}
		out := make(map[string]flags.FlagState, len(list.Flags))
		for _, f := range list.Flags {
			out[f.Name] = flags.FlagState{Enabled: f.Enabled, Value: f.Value}
		}
		c.mu.Lock()
		c.flagSnap = &snapshot[map[string]flags.FlagState]{value: out, fetched: c.now()}
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		if snap != nil {
			c.logger.Warn("flag refresh failed, serving cached flags", zap.Error(err))
			return snap.value, nil
		}
		return nil, err
	}
	return v.(map[string]flags.FlagState), nil
}

// IsFlagEnabled reports whether the named flag is on, or def when the flag
// is unknown or the studio is unreachable.
func (c *Client) IsFlagEnabled(ctx context.Context, name string, def bool) bool {
	all, err := c.Flags(ctx)
	if err != nil {
		c.logger.Debug("flag lookup failed", zap.String("flag", name), zap.Error(err))
		return def
	}
	if f, ok := all[name]; ok {
		return f.Enabled
	}
	return def
}

// Params returns the agent's parameters merged with the global ones, with
// the same caching as Flags.
func (c *Client) Params(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	snap := c.paramSnap
	c.mu.Unlock()
	if fresh(c, snap) {
		return snap.value, nil
	}

	v, err, _ := c.group.Do("params", func() (any, error) {
		var list api.ParamList
		if err := c.do(ctx, http.MethodGet, "/api/params/"+url.PathEscape(c.agentID), nil, &list); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(list.Params))
		for _, p := range list.Params {
			out[p.Name] = p.Value
		}
		c.mu.Lock()
		c.paramSnap = &snapshot[map[string]any]{value: out, fetched: c.now()}
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		if snap != nil {
			c.logger.Warn("param refresh failed, serving cached params", zap.Error(err))
			return snap.value, nil
		}
		return nil, err
	}
	return v.(map[string]any), nil
}

// Param returns the named parameter, or def when it is unknown or the studio
// is unreachable.
func (c *Client) Param(ctx context.Context, name string, def any) any {
	all, err := c.Params(ctx)
	if err != nil {
		c.logger.Debug("param lookup failed", zap.String("param", name), zap.Error(err))
		return def
	}
	if v, ok := all[name]; ok {
		return v
	}
	return def
}

// InvalidateCache drops cached flags and params.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	c.flagSnap, c.paramSnap = nil, nil
	c.mu.Unlock()
}

func fresh[T any](c *Client, snap *snapshot[T]) bool {
	return snap != nil && c.cacheTTL > 0 && c.now().Sub(snap.fetched) < c.cacheTTL
}

// =============================================================================
// Prompts and traces
// =============================================================================

// GetPrompt fetches the active version of the named prompt.
func (c *Client) GetPrompt(ctx context.Context, name string) (*api.ActivePrompt, error) {
	var p api.ActivePrompt
	if err := c.do(ctx, http.MethodGet, "/api/prompts/by-name/"+url.PathEscape(name), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SendBatch posts a span batch to the collector. An empty AgentID is filled
// with the client's.
func (c *Client) SendBatch(ctx context.Context, batch collector.Batch) (*collector.Result, error) {
	if batch.AgentID == "" {
		batch.AgentID = c.agentID
	}
	var res collector.Result
	if err := c.do(ctx, http.MethodPost, "/api/traces/ingest", batch, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// =============================================================================
// Transport
// =============================================================================

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// do sends body as JSON and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		code := types.ErrServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = types.ErrUpstreamTimeout
		}
		return types.NewError(code, fmt.Sprintf("%s %s failed", method, path)).
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "read response").WithCause(err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= http.StatusBadRequest || (decodeErr == nil && !env.Success) {
		return responseError(resp.StatusCode, env, decodeErr == nil)
	}
	if decodeErr != nil {
		return types.NewError(types.ErrUpstreamError, "invalid studio response").WithCause(decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return types.NewError(types.ErrUpstreamError, "decode studio response").WithCause(err)
	}
	return nil
}

func responseError(status int, env envelope, decoded bool) error {
	if decoded && env.Error != nil {
		return types.NewError(types.ErrorCode(env.Error.Code), env.Error.Message).
			WithHTTPStatus(status).
			WithRetryable(env.Error.Retryable)
	}
	code := types.ErrUpstreamError
	switch status {
	case http.StatusNotFound:
		code = types.ErrNotFound
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
	}
	return types.NewError(code, fmt.Sprintf("studio returned %d", status)).
		WithHTTPStatus(status).
		WithRetryable(status >= http.StatusInternalServerError || status == http.StatusTooManyRequests)
}
