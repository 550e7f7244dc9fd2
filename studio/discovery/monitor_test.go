package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/fixtures"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SweepMarksStaleAgents(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	fresh := fixtures.Agent("fresh")
	stale := fixtures.Agent("stale")
	stale.LastHeartbeat = studio.Ptr(fixtures.BaseTime.Add(-46 * time.Second)) // 15s * 3 = 45s
	edge := fixtures.Agent("edge")
	edge.LastHeartbeat = studio.Ptr(fixtures.BaseTime.Add(-45 * time.Second))
	never := fixtures.Agent("never")
	never.LastHeartbeat = nil
	for _, a := range []*studio.AgentRegistration{fresh, stale, edge, never} {
		require.NoError(t, h.store.SaveAgent(ctx, a))
	}

	m := NewMonitor(h.svc)
	marked, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, marked)

	got, err := h.store.GetAgent(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, studio.AgentUnreachable, got.Status)
	for _, id := range []string{"fresh", "edge", "never"} {
		got, err := h.store.GetAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, studio.AgentHealthy, got.Status, id)
	}

	// Idempotent: already unreachable agents are not touched again.
	marked, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, marked)
	_, transitions := h.rec.snapshot()
	assert.Equal(t, []transition{{"stale", "healthy", "unreachable"}}, transitions)
}

func TestMonitor_RegisteredAgentGoesUnreachableAfterThreeMissedBeats(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	_, err := h.svc.Register(ctx, Registration{AgentID: "a1", HeartbeatIntervalS: num(5)})
	require.NoError(t, err)

	h.clock.Advance(16 * time.Second)
	marked, err := NewMonitor(h.svc).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, marked)

	got, err := h.svc.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, studio.AgentUnreachable, got.Status)
}

func TestMonitor_HeartbeatRevivesUnreachable(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, h.store.SaveAgent(ctx, fixtures.Agent("a1")))

	h.clock.Advance(time.Hour)
	marked, err := NewMonitor(h.svc).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, marked)

	agent, err := h.svc.Heartbeat(ctx, HeartbeatReport{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, studio.AgentHealthy, agent.Status)
}

func TestMonitor_UsesStaleMultiplier(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)
	cfg := DefaultConfig()
	cfg.StaleMultiplier = 10
	clock := mocks.NewFakeClock(fixtures.BaseTime)
	svc := NewService(st, cfg, nil, WithClock(clock.Now))

	require.NoError(t, st.SaveAgent(ctx, fixtures.Agent("a1")))
	clock.Advance(100 * time.Second)

	marked, err := NewMonitor(svc).Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, marked)

	clock.Advance(51 * time.Second)
	marked, err = NewMonitor(svc).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, marked)
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, h.store.SaveAgent(ctx, fixtures.Agent("a1")))
	h.clock.Advance(time.Hour)

	m := NewMonitor(h.svc)
	m.Start(ctx)
	m.Start(ctx)
	assert.True(t, m.Running())

	// The first sweep runs immediately on start.
	ok := testutil.WaitFor(func() bool {
		a, err := h.store.GetAgent(context.Background(), "a1")
		return err == nil && a.Status == studio.AgentUnreachable
	}, 2*time.Second)
	assert.True(t, ok, "monitor did not mark the stale agent")

	m.Stop()
	m.Stop()
	assert.False(t, m.Running())

	_, transitions := h.rec.snapshot()
	assert.Len(t, transitions, 1)
}

func TestMonitor_StopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	m := NewMonitor(h.svc)
	m.Start(ctx)
	var done <-chan struct{} = m.done
	cancel()

	_, closed := testutil.WaitForChannel(done, 2*time.Second)
	assert.True(t, closed)
	m.Stop()
}
