package sdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/D10S0VSkY-OSS/kiboserve/api/handlers"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/discovery"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/flags"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/prompts"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/mocks"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
)

// studioServer is a real studio API over an in-memory store.
type studioServer struct {
	*httptest.Server
	store    *store.Store
	registry *discovery.Service
	flags    *flags.Resolver
	prompts  *prompts.Service
}

func newStudioServer(t *testing.T) *studioServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := testutil.NewStore(t)

	s := &studioServer{
		store:    st,
		registry: discovery.NewService(st, discovery.DefaultConfig(), logger),
		flags:    flags.NewResolver(st, logger),
		prompts:  prompts.NewService(st, logger),
	}
	routes := &handlers.Set{
		Traces:    handlers.NewTraceHandler(st, collector.New(st, logger), logger),
		Discovery: handlers.NewDiscoveryHandler(s.registry, logger),
		Flags:     handlers.NewFlagHandler(s.flags, logger),
		Prompts:   handlers.NewPromptHandler(s.prompts, logger),
	}
	mux := http.NewServeMux()
	routes.Register(mux)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestNew_AgentIDFallback(t *testing.T) {
	assert.Equal(t, "weather", New("http://x", "", WithName("weather")).AgentID())
	assert.Equal(t, "unknown", New("http://x", "").AgentID())
	assert.Equal(t, "a1", New("http://x", "a1", WithName("weather")).AgentID())
}

func TestRegisterAndHeartbeat(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	c := New(srv.URL, "weather-agent",
		WithName("Weather"),
		WithEndpoint("http://agent:8080"),
		WithCapabilities("forecast"),
		WithVersion("1.2.0"),
		WithHeartbeatInterval(5*time.Second),
		WithActiveTasks(func() int { return 3 }),
	)

	agent, err := c.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, "weather-agent", agent.AgentID)
	assert.Equal(t, "Weather", agent.Name)
	assert.Equal(t, "1.2.0", agent.Version)
	assert.Equal(t, 5, agent.HeartbeatIntervalS)

	resp, err := c.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, "weather-agent", resp.AgentID)
	assert.Equal(t, string(studio.AgentHealthy), resp.Status)

	stored, err := srv.store.GetAgent(ctx, "weather-agent")
	require.NoError(t, err)
	require.NotNil(t, stored.LastHeartbeat)
}

func TestHeartbeat_ReregistersUnknownAgent(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	c := New(srv.URL, "ghost")
	resp, err := c.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ghost", resp.AgentID)

	_, err = srv.store.GetAgent(ctx, "ghost")
	require.NoError(t, err)
}

func TestStartHeartbeat_RegistersAndStops(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	c := New(srv.URL, "looper",
		WithHeartbeatInterval(10*time.Millisecond),
		WithActiveTasks(func() int { return 2 }))
	c.StartHeartbeat(ctx)
	c.StartHeartbeat(ctx)

	ok := testutil.WaitFor(func() bool {
		a, err := srv.store.GetAgent(ctx, "looper")
		return err == nil && a.ActiveTasks == 2
	}, 2*time.Second)
	assert.True(t, ok, "heartbeat never reached the studio")

	c.Stop()
	c.Stop()
}

func TestFlagsAndParams_GlobalFallback(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	_, err := srv.flags.SetFlag(ctx, studio.GlobalAgentID, "use_rag", true, nil, "")
	require.NoError(t, err)
	_, err = srv.flags.SetFlag(ctx, "bot", "beta", false, nil, "")
	require.NoError(t, err)
	_, err = srv.flags.SetParam(ctx, studio.GlobalAgentID, "temperature", 0.2, "")
	require.NoError(t, err)
	_, err = srv.flags.SetParam(ctx, "bot", "temperature", 0.7, "")
	require.NoError(t, err)

	c := New(srv.URL, "bot")
	assert.True(t, c.IsFlagEnabled(ctx, "use_rag", false))
	assert.False(t, c.IsFlagEnabled(ctx, "beta", true))
	assert.True(t, c.IsFlagEnabled(ctx, "missing", true))

	assert.Equal(t, 0.7, c.Param(ctx, "temperature", 1.0))
	assert.Equal(t, "d", c.Param(ctx, "missing", "d"))
}

func TestFlags_CachedAndServedStale(t *testing.T) {
	var calls atomic.Int32
	var down atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/flags/{agent_id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if down.Load() {
			handlers.WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "down", nil)
			return
		}
		handlers.WriteSuccess(w, map[string]any{
			"agent_id": r.PathValue("agent_id"),
			"flags":    []studio.FeatureFlag{{Name: "f", Enabled: true}},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	clock := mocks.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(ts.URL, "bot", WithClock(clock.Now))
	ctx := context.Background()

	assert.True(t, c.IsFlagEnabled(ctx, "f", false))
	assert.True(t, c.IsFlagEnabled(ctx, "f", false))
	assert.Equal(t, int32(1), calls.Load(), "second lookup should hit the cache")

	clock.Advance(DefaultCacheTTL + time.Second)
	down.Store(true)
	got, err := c.Flags(ctx)
	require.NoError(t, err)
	assert.Equal(t, flags.FlagState{Enabled: true}, got["f"])
	assert.Equal(t, int32(2), calls.Load())

	c.InvalidateCache()
	_, err = c.Flags(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
	assert.False(t, c.IsFlagEnabled(ctx, "f", false))
}

func TestGetPrompt(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	_, err := srv.prompts.Create(ctx, prompts.CreateInput{Name: "greeter", Content: "Hello {{name}}", Variables: []string{"name"}})
	require.NoError(t, err)

	c := New(srv.URL, "bot")
	p, err := c.GetPrompt(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "Hello {{name}}", p.Content)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, []string{"name"}, p.Variables)

	_, err = c.GetPrompt(ctx, "nope")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestListAgents(t *testing.T) {
	srv := newStudioServer(t)
	ctx := testutil.TestContext(t)

	for _, id := range []string{"a", "b"} {
		_, err := New(srv.URL, id).Register(ctx)
		require.NoError(t, err)
	}
	agents, err := New(srv.URL, "a").ListAgents(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestDo_SendsAPIKeyAndMapsErrors(t *testing.T) {
	var gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(APIKeyHeader)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer ts.Close()

	c := New(ts.URL, "bot", WithAPIKey("secret"))
	_, err := c.ListAgents(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestDo_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New(url, "bot").ListAgents(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
}
