package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/internal/database"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func assertSameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// Traces and spans
// =============================================================================

func TestStore_TraceRoundTrip(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	tr := fixtures.Trace("t1", "agent-a")
	require.NoError(t, st.SaveTrace(ctx, tr))

	got, err := st.GetTrace(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", got.AgentID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, studio.StatusOK, got.Status)
	assert.Equal(t, map[string]any{"env": "test"}, got.Metadata)
	require.NotNil(t, got.DurationMs)
	assert.Equal(t, 1500.0, *got.DurationMs)
	assertSameInstant(t, tr.StartTime, got.StartTime)
	require.NotNil(t, got.EndTime)
	assertSameInstant(t, *tr.EndTime, *got.EndTime)

	// 覆盖写
	tr.Status = studio.StatusError
	require.NoError(t, st.SaveTrace(ctx, tr))
	got, err = st.GetTrace(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, studio.StatusError, got.Status)
}

func TestStore_GetTraceNotFound(t *testing.T) {
	st := testutil.NewStore(t)

	_, err := st.GetTrace(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_CreateTraceIfMissing(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	created, err := st.CreateTraceIfMissing(ctx, fixtures.Trace("t1", "agent-a"))
	require.NoError(t, err)
	assert.True(t, created)

	other := fixtures.Trace("t1", "agent-b")
	created, err = st.CreateTraceIfMissing(ctx, other)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := st.GetTrace(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", got.AgentID)
}

func TestStore_AdvanceTraceEnd(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	tr := fixtures.Trace("t1", "agent-a")
	tr.EndTime = nil
	require.NoError(t, st.SaveTrace(ctx, tr))

	first := fixtures.BaseTime.Add(2 * time.Second)
	changed, err := st.AdvanceTraceEnd(ctx, "t1", first)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = st.AdvanceTraceEnd(ctx, "t1", fixtures.BaseTime.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed, "an earlier end never rewinds")

	later := fixtures.BaseTime.Add(2*time.Second + 150*time.Millisecond)
	changed, err = st.AdvanceTraceEnd(ctx, "t1", later)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := st.GetTrace(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.EndTime)
	assertSameInstant(t, later, *got.EndTime)
}

func TestStore_ListTraces(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	for i := 0; i < 5; i++ {
		tr := fixtures.Trace(fmt.Sprintf("t%d", i), "agent-a")
		if i%2 == 1 {
			tr.AgentID = "agent-b"
		}
		tr.StartTime = fixtures.BaseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.SaveTrace(ctx, tr))
	}

	all, err := st.ListTraces(ctx, store.TraceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "t4", all[0].TraceID, "newest first")
	assert.Equal(t, "t0", all[4].TraceID)

	onlyB, err := st.ListTraces(ctx, store.TraceFilter{AgentID: "agent-b"})
	require.NoError(t, err)
	require.Len(t, onlyB, 2)
	assert.Equal(t, "t3", onlyB[0].TraceID)

	page, err := st.ListTraces(ctx, store.TraceFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "t3", page[0].TraceID)
	assert.Equal(t, "t2", page[1].TraceID)
}

func TestStore_SaveSpanMaintainsSpanCount(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	require.NoError(t, st.SaveTrace(ctx, fixtures.Trace("t1", "a")))

	root := fixtures.InvocationSpan("s1", "t1", map[string]any{"prompt": "hi"}, map[string]any{"response": "hello"})
	child := fixtures.Span("s2", "t1", studio.SpanKindLLMCall, 10*time.Millisecond)
	child.ParentSpanID = studio.Ptr("s1")
	child.Events = []studio.SpanEvent{{Name: "token", Timestamp: fixtures.BaseTime, Attributes: map[string]any{"n": 3.0}}}
	child.Error = studio.Ptr("boom")

	require.NoError(t, st.SaveSpan(ctx, root))
	require.NoError(t, st.SaveSpan(ctx, child))
	// 重复保存不会重复计数
	require.NoError(t, st.SaveSpan(ctx, child))

	tr, err := st.GetTrace(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.SpanCount)

	spans, err := st.ListSpans(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "s1", spans[0].SpanID, "ordered by start time")
	assert.Equal(t, map[string]any{"prompt": "hi"}, spans[0].InputData)
	assert.Equal(t, map[string]any{"response": "hello"}, spans[0].OutputData)

	got, err := st.GetSpan(ctx, "s2")
	require.NoError(t, err)
	require.NotNil(t, got.ParentSpanID)
	assert.Equal(t, "s1", *got.ParentSpanID)
	assert.Equal(t, studio.SpanKindLLMCall, got.Kind)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "token", got.Events[0].Name)
	assert.Equal(t, 3.0, got.Events[0].Attributes["n"])
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
}

func TestStore_SpanCountProperty(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	iteration := 0

	rapid.Check(t, func(rt *rapid.T) {
		iteration++
		traceID := fmt.Sprintf("trace-%d", iteration)
		require.NoError(rt, st.SaveTrace(ctx, fixtures.Trace(traceID, "a")))

		picks := rapid.SliceOfN(rapid.IntRange(0, 6), 1, 25).Draw(rt, "span_picks")
		distinct := map[int]struct{}{}
		for _, p := range picks {
			distinct[p] = struct{}{}
			sp := fixtures.Span(fmt.Sprintf("%s-s%d", traceID, p), traceID, studio.SpanKindCustom, time.Duration(p)*time.Millisecond)
			require.NoError(rt, st.SaveSpan(ctx, sp))
		}

		tr, err := st.GetTrace(ctx, traceID)
		require.NoError(rt, err)
		if tr.SpanCount != len(distinct) {
			rt.Fatalf("span_count = %d, want %d", tr.SpanCount, len(distinct))
		}
	})
}

func TestStore_DeleteTraceCascades(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	require.NoError(t, st.SaveTrace(ctx, fixtures.Trace("t1", "a")))
	require.NoError(t, st.SaveSpan(ctx, fixtures.Span("s1", "t1", studio.SpanKindCustom, 0)))
	require.NoError(t, st.SaveEval(ctx, &studio.EvalResult{EvalID: "e1", TraceID: "t1", Status: studio.EvalCompleted, CreatedAt: studio.Now()}))

	require.NoError(t, st.DeleteTrace(ctx, "t1"))

	_, err := st.GetSpan(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetEval(ctx, "e1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, st.DeleteTrace(ctx, "t1"), store.ErrNotFound)
}

// =============================================================================
// Prompts
// =============================================================================

func TestStore_PromptVersions(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)
	now := studio.Now()

	p := &studio.PromptTemplate{PromptID: "p1", Name: "greeting", Tags: []string{"a"}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.SavePrompt(ctx, p))

	maxVersion, err := st.MaxPromptVersion(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, maxVersion)

	for v := 1; v <= 3; v++ {
		require.NoError(t, st.SavePromptVersion(ctx, &studio.PromptVersion{
			VersionID: fmt.Sprintf("v%d", v), PromptID: "p1", Version: v,
			Content: fmt.Sprintf("Hello v%d {name}", v), Variables: []string{"name"},
			IsActive: v == 2, CreatedAt: now,
		}))
	}

	maxVersion, err = st.MaxPromptVersion(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, maxVersion)

	versions, err := st.ListPromptVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].Version)

	active, err := st.GetActiveVersion(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, []string{"name"}, active.Variables)

	require.NoError(t, st.DeactivateVersions(ctx, "p1"))
	_, err = st.GetActiveVersion(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// 同一 prompt 的版本号唯一
	err = st.SavePromptVersion(ctx, &studio.PromptVersion{VersionID: "dup", PromptID: "p1", Version: 3, Content: "x", CreatedAt: now})
	assert.Error(t, err)

	byName, err := st.GetPromptByName(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "p1", byName.PromptID)
	assert.Equal(t, []string{"a"}, byName.Tags)

	require.NoError(t, st.DeletePrompt(ctx, "p1"))
	versions, err = st.ListPromptVersions(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)
	now := studio.Now()

	sentinel := errors.New("abort")
	err := st.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.SavePrompt(ctx, &studio.PromptTemplate{PromptID: "p1", Name: "n", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = st.GetPrompt(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_TransactionReplaysTransientFailure(t *testing.T) {
	ctx := testutil.TestContext(t)
	db := testutil.NewDB(t)
	// in-memory sqlite lives on one connection, keep it pinned
	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, nil, nil)
	require.NoError(t, err)

	st := store.New(db, nil, store.WithTransactor(pool))
	require.NoError(t, st.Migrate(ctx))
	now := studio.Now()

	attempts := 0
	err = st.Transaction(ctx, func(tx *store.Store) error {
		attempts++
		if attempts == 1 {
			return errors.New("database is locked")
		}
		return tx.SavePrompt(ctx, &studio.PromptTemplate{PromptID: "p1", Name: "n", CreatedAt: now, UpdatedAt: now})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	_, err = st.GetPrompt(ctx, "p1")
	require.NoError(t, err)
}

// =============================================================================
// Evaluations and agents
// =============================================================================

func TestStore_ListEvals(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	for i := 0; i < 3; i++ {
		traceID := "t1"
		if i == 2 {
			traceID = "t2"
		}
		require.NoError(t, st.SaveEval(ctx, &studio.EvalResult{
			EvalID:    fmt.Sprintf("e%d", i),
			TraceID:   traceID,
			Status:    studio.EvalCompleted,
			Metrics:   map[string]float64{"coherence": 0.5},
			CreatedAt: fixtures.BaseTime.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := st.ListEvals(ctx, store.EvalFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e2", all[0].EvalID)
	assert.Equal(t, 0.5, all[0].Metrics["coherence"])

	t1, err := st.ListEvals(ctx, store.EvalFilter{TraceID: "t1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, t1, 1)
	assert.Equal(t, "e1", t1[0].EvalID)
}

func TestStore_Agents(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	a := fixtures.Agent("zeta")
	b := fixtures.Agent("alpha")
	b.Protocol = "a2a"
	b.Status = studio.AgentDegraded
	require.NoError(t, st.SaveAgent(ctx, a))
	require.NoError(t, st.SaveAgent(ctx, b))

	all, err := st.ListAgents(ctx, store.AgentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)

	degraded, err := st.ListAgents(ctx, store.AgentFilter{Status: "degraded"})
	require.NoError(t, err)
	require.Len(t, degraded, 1)

	httpOnly, err := st.ListAgents(ctx, store.AgentFilter{Protocol: "http"})
	require.NoError(t, err)
	require.Len(t, httpOnly, 1)
	assert.Equal(t, "zeta", httpOnly[0].AgentID)
	assert.Equal(t, []string{"chat"}, httpOnly[0].Capabilities)

	require.NoError(t, st.DeleteAgent(ctx, "zeta"))
	assert.ErrorIs(t, st.DeleteAgent(ctx, "zeta"), store.ErrNotFound)
}

// =============================================================================
// Flags and parameters
// =============================================================================

func TestStore_UpsertFlagKeepsIDAndDescription(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	first, err := st.UpsertFlag(ctx, &studio.FeatureFlag{AgentID: "a", Name: "beta", Enabled: true, Description: "beta features"})
	require.NoError(t, err)
	require.NotEmpty(t, first.FlagID)

	second, err := st.UpsertFlag(ctx, &studio.FeatureFlag{AgentID: "a", Name: "beta", Enabled: false, Value: "v2"})
	require.NoError(t, err)
	assert.Equal(t, first.FlagID, second.FlagID)
	assert.False(t, second.Enabled)
	assert.Equal(t, "v2", second.Value)
	assert.Equal(t, "beta features", second.Description, "empty description keeps stored one")

	third, err := st.UpsertFlag(ctx, &studio.FeatureFlag{AgentID: "a", Name: "beta", Enabled: true, Description: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", third.Description)

	flags, err := st.GetFlags(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, flags, 1)

	// 全局同名 flag 是独立的一行
	global, err := st.UpsertFlag(ctx, &studio.FeatureFlag{Name: "beta", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, studio.GlobalAgentID, global.AgentID)
	assert.NotEqual(t, first.FlagID, global.FlagID)

	require.NoError(t, st.DeleteFlag(ctx, first.FlagID))
	_, err = st.GetFlag(ctx, "a", "beta")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UpsertParam(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	first, err := st.UpsertParam(ctx, &studio.Parameter{AgentID: "a", Name: "temperature", Value: 0.2, Description: "sampling"})
	require.NoError(t, err)

	second, err := st.UpsertParam(ctx, &studio.Parameter{AgentID: "a", Name: "temperature", Value: map[string]any{"min": 0.1}})
	require.NoError(t, err)
	assert.Equal(t, first.ParamID, second.ParamID)
	assert.Equal(t, map[string]any{"min": 0.1}, second.Value)
	assert.Equal(t, "sampling", second.Description)

	byID, err := st.GetParamByID(ctx, first.ParamID)
	require.NoError(t, err)
	assert.Equal(t, "temperature", byID.Name)

	require.NoError(t, st.DeleteParam(ctx, first.ParamID))
	params, err := st.GetParams(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, params)
}

// =============================================================================
// Sessions and eval sets
// =============================================================================

func TestStore_SessionsAndMessages(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	sess := &studio.Session{SessionID: "s1", AgentID: "a", CreatedAt: fixtures.BaseTime, UpdatedAt: fixtures.BaseTime}
	require.NoError(t, st.SaveSession(ctx, sess))
	require.NoError(t, st.SaveSession(ctx, &studio.Session{SessionID: "s2", AgentID: "b", CreatedAt: fixtures.BaseTime, UpdatedAt: fixtures.BaseTime.Add(time.Second)}))

	later := fixtures.BaseTime.Add(time.Hour)
	require.NoError(t, st.SaveMessage(ctx, &studio.SessionMessage{MessageID: "m1", SessionID: "s1", Role: studio.RoleUser, Content: "hi", CreatedAt: later}))
	require.NoError(t, st.SaveMessage(ctx, &studio.SessionMessage{MessageID: "m2", SessionID: "s1", Role: studio.RoleAssistant, Content: "hello", TraceID: studio.Ptr("t1"), CreatedAt: later.Add(time.Second)}))

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, studio.DefaultUserID, got.UserID)
	assertSameInstant(t, later.Add(time.Second), got.UpdatedAt)

	list, err := st.ListSessions(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].SessionID, "bumped session sorts first")

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].MessageID)
	require.NotNil(t, msgs[1].TraceID)
	assert.Equal(t, "t1", *msgs[1].TraceID)

	require.NoError(t, st.SaveEvalSet(ctx, &studio.EvalSet{EvalSetID: "es1", Name: "smoke", AgentID: "a", CreatedAt: fixtures.BaseTime}))
	require.NoError(t, st.SaveEvalCase(ctx, &studio.EvalCase{CaseID: "c1", EvalSetID: "es1", SessionID: "s1", CreatedAt: fixtures.BaseTime}))

	cases, err := st.ListEvalCases(ctx, "es1")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, string(studio.EvalPending), cases[0].Status)

	require.NoError(t, st.DeleteSession(ctx, "s1"))
	msgs, err = st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	cases, err = st.ListEvalCases(ctx, "es1")
	require.NoError(t, err)
	assert.Empty(t, cases)

	sets, err := st.ListEvalSets(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, sets, 1)
}
