package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/fixtures"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/mocks"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type transition struct{ agent, from, to string }

type fakeRecorder struct {
	mu          sync.Mutex
	heartbeats  []string
	transitions []transition
}

func (r *fakeRecorder) RecordHeartbeat(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, status)
}

func (r *fakeRecorder) RecordAgentTransition(agentID, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition{agentID, from, to})
}

func (r *fakeRecorder) snapshot() ([]string, []transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.heartbeats...), append([]transition(nil), r.transitions...)
}

type harness struct {
	svc   *Service
	store *store.Store
	clock *mocks.FakeClock
	rec   *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := testutil.NewStore(t)
	clock := mocks.NewFakeClock(fixtures.BaseTime)
	rec := &fakeRecorder{}
	svc := NewService(st, DefaultConfig(), zaptest.NewLogger(t), WithClock(clock.Now), WithRecorder(rec))
	return &harness{svc: svc, store: st, clock: clock, rec: rec}
}

func str(s string) *string { return &s }
func num(n int) *int        { return &n }

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DiscoveryConfig{ErrorThreshold: 2})
	assert.Equal(t, 10*time.Second, cfg.CheckInterval)
	assert.Equal(t, 2, cfg.ErrorThreshold)
	assert.Equal(t, 3, cfg.StaleMultiplier)
}

func TestRegister_NewAgentDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	agent, err := h.svc.Register(ctx, Registration{AgentID: "a1", Name: str("Agent One")})
	require.NoError(t, err)

	assert.Equal(t, "a1", agent.AgentID)
	assert.Equal(t, "Agent One", agent.Name)
	assert.Equal(t, studio.DefaultProtocol, agent.Protocol)
	assert.Equal(t, studio.DefaultAgentVersion, agent.Version)
	assert.Equal(t, studio.DefaultHeartbeatInterval, agent.HeartbeatIntervalS)
	assert.Equal(t, studio.AgentHealthy, agent.Status)
	require.NotNil(t, agent.LastHeartbeat)
	assert.True(t, agent.LastHeartbeat.Equal(fixtures.BaseTime))
	assert.True(t, agent.RegisteredAt.Equal(fixtures.BaseTime))

	stored, err := h.store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{}, stored.Capabilities)
	assert.Equal(t, map[string]any{}, stored.Metadata)
}

func TestRegister_IDFallsBackToName(t *testing.T) {
	h := newHarness(t)
	agent, err := h.svc.Register(testutil.TestContext(t), Registration{Name: str("planner")})
	require.NoError(t, err)
	assert.Equal(t, "planner", agent.AgentID)
}

func TestRegister_UpsertKeepsUnsetFields(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.svc.Register(ctx, Registration{
		AgentID:            "a1",
		Name:               str("one"),
		Endpoint:           str("http://a1:8000"),
		Capabilities:       []string{"chat"},
		HeartbeatIntervalS: num(5),
	})
	require.NoError(t, err)

	// Agent goes stale and is marked unreachable.
	h.clock.Advance(time.Minute)
	marked, err := NewMonitor(h.svc).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, marked)

	// Re-registration revives it and only overwrites provided fields.
	h.clock.Advance(time.Second)
	agent, err := h.svc.Register(ctx, Registration{AgentID: "a1", Version: str("2.0.0")})
	require.NoError(t, err)
	assert.Equal(t, studio.AgentHealthy, agent.Status)
	assert.Equal(t, "one", agent.Name)
	assert.Equal(t, "http://a1:8000", agent.Endpoint)
	assert.Equal(t, []string{"chat"}, agent.Capabilities)
	assert.Equal(t, "2.0.0", agent.Version)
	assert.Equal(t, 5, agent.HeartbeatIntervalS)
	assert.True(t, agent.RegisteredAt.Equal(fixtures.BaseTime))
	assert.True(t, agent.LastHeartbeat.Equal(fixtures.BaseTime.Add(61*time.Second)))

	_, transitions := h.rec.snapshot()
	assert.Equal(t, []transition{
		{"a1", "healthy", "unreachable"},
		{"a1", "unreachable", "healthy"},
	}, transitions)
}

func TestHeartbeat_UnknownAgent(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Heartbeat(testutil.TestContext(t), HeartbeatReport{AgentID: "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentNotRegistered)
	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, "Agent not registered", ErrAgentNotRegistered.Message)
}

func TestHeartbeat_UpdatesCountersAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, h.store.SaveAgent(ctx, fixtures.Agent("a1")))

	h.clock.Advance(5 * time.Second)
	agent, err := h.svc.Heartbeat(ctx, HeartbeatReport{
		AgentID:          "a1",
		Status:           "degraded",
		UptimeSeconds:    studio.Ptr(3600.0),
		ActiveTasks:      num(2),
		ErrorCountLast5m: num(1),
		MemoryMB:         studio.Ptr(256.0),
	})
	require.NoError(t, err)
	assert.Equal(t, studio.AgentDegraded, agent.Status)
	assert.Equal(t, 3600.0, agent.UptimeSeconds)
	assert.Equal(t, 2, agent.ActiveTasks)
	assert.Equal(t, 1, agent.ErrorCountLast5m)
	assert.Equal(t, 256.0, agent.MemoryMB)
	assert.True(t, agent.LastHeartbeat.Equal(fixtures.BaseTime.Add(5*time.Second)))

	// Omitted counters keep their values; error count stays at 1.
	agent, err = h.svc.Heartbeat(ctx, HeartbeatReport{AgentID: "a1", Status: "sleepy"})
	require.NoError(t, err)
	assert.Equal(t, studio.AgentHealthy, agent.Status)
	assert.Equal(t, 2, agent.ActiveTasks)

	heartbeats, _ := h.rec.snapshot()
	assert.Equal(t, []string{"degraded", "healthy"}, heartbeats)
}

func TestHeartbeatStatus_Examples(t *testing.T) {
	tests := []struct {
		name     string
		reported string
		errors   int
		want     studio.AgentStatus
	}{
		{"busy wins over errors", "busy", 99, studio.AgentBusy},
		{"error threshold degrades", "healthy", 5, studio.AgentDegraded},
		{"below threshold keeps reported", "degraded", 4, studio.AgentDegraded},
		{"unreachable can be reported", "unreachable", 0, studio.AgentUnreachable},
		{"unknown becomes healthy", "weird", 0, studio.AgentHealthy},
		{"empty becomes healthy", "", 0, studio.AgentHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, heartbeatStatus(tt.reported, tt.errors, 5))
		})
	}
}

func TestProperty_HeartbeatStatusRuleOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	reported := gen.OneConstOf("busy", "healthy", "degraded", "unreachable", "", "bogus")

	properties.Property("busy always wins", prop.ForAll(
		func(errors, threshold int) bool {
			return heartbeatStatus("busy", errors, threshold) == studio.AgentBusy
		},
		gen.IntRange(0, 100), gen.IntRange(1, 20),
	))

	properties.Property("non-busy at or over the threshold is degraded", prop.ForAll(
		func(status string, threshold, extra int) bool {
			if status == "busy" {
				return true
			}
			return heartbeatStatus(status, threshold+extra, threshold) == studio.AgentDegraded
		},
		reported, gen.IntRange(1, 20), gen.IntRange(0, 50),
	))

	properties.Property("below the threshold the reported status is kept when recognized", prop.ForAll(
		func(status string, threshold int) bool {
			got := heartbeatStatus(status, threshold-1, threshold)
			if want, ok := studio.ParseAgentStatus(status); ok {
				return got == want
			}
			return got == studio.AgentHealthy
		},
		reported, gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

func TestDeregisterAndGet(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, h.store.SaveAgent(ctx, fixtures.Agent("a1")))

	got, err := h.svc.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AgentID)

	require.NoError(t, h.svc.Deregister(ctx, "a1"))

	_, err = h.svc.GetAgent(ctx, "a1")
	assert.True(t, types.IsNotFound(err))
	err = h.svc.Deregister(ctx, "a1")
	assert.True(t, types.IsNotFound(err))
}

func TestListAgents_Filters(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	b := fixtures.Agent("b")
	b.Status = studio.AgentBusy
	c := fixtures.Agent("c")
	c.Protocol = "a2a"
	for _, a := range []*studio.AgentRegistration{fixtures.Agent("a"), b, c} {
		require.NoError(t, h.store.SaveAgent(ctx, a))
	}

	all, err := h.svc.ListAgents(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	busy, err := h.svc.ListAgents(ctx, "busy", "")
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, "b", busy[0].AgentID)

	a2a, err := h.svc.ListAgents(ctx, "", "a2a")
	require.NoError(t, err)
	require.Len(t, a2a, 1)
	assert.Equal(t, "c", a2a[0].AgentID)
}

// trackingStore flags overlapping read-modify-write cycles on one agent.
type trackingStore struct {
	*store.Store
	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func (s *trackingStore) GetAgent(ctx context.Context, id string) (*studio.AgentRegistration, error) {
	if s.inFlight.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	time.Sleep(time.Millisecond)
	return s.Store.GetAgent(ctx, id)
}

func (s *trackingStore) SaveAgent(ctx context.Context, a *studio.AgentRegistration) error {
	defer s.inFlight.Add(-1)
	return s.Store.SaveAgent(ctx, a)
}

func TestHeartbeat_SerializedPerAgent(t *testing.T) {
	base := testutil.NewStore(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, base.SaveAgent(ctx, fixtures.Agent("a1")))

	ts := &trackingStore{Store: base}
	rec := &fakeRecorder{}
	svc := NewService(ts, DefaultConfig(), nil, WithRecorder(rec))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Heartbeat(ctx, HeartbeatReport{AgentID: "a1", ActiveTasks: num(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.False(t, ts.overlapped.Load(), "heartbeats for one agent overlapped")
	heartbeats, _ := rec.snapshot()
	assert.Len(t, heartbeats, n)
	assert.Empty(t, svc.locks.locks, "lock entries are released")
}
