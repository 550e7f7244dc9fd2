package sessions

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/discovery"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/evaluator"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/fixtures"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/mocks"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type chatRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *chatRecorder) RecordChat(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

type harness struct {
	svc       *Service
	store     *store.Store
	discovery *discovery.Service
	rec       *chatRecorder
	clock     *mocks.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := testutil.NewStore(t)
	clock := mocks.NewFakeClock(fixtures.BaseTime)
	disc := discovery.NewService(st, discovery.DefaultConfig(), nil)
	rec := &chatRecorder{}
	svc := NewService(st, disc, evaluator.New(st, nil), config.ChatConfig{Timeout: 5 * time.Second, EvalConcurrency: 2},
		zaptest.NewLogger(t), WithRecorder(rec), WithClock(clock.Now))
	return &harness{svc: svc, store: st, discovery: disc, rec: rec, clock: clock}
}

func (h *harness) registerAgent(t *testing.T, id, endpoint string) {
	t.Helper()
	_, err := h.discovery.Register(testutil.TestContext(t), discovery.Registration{AgentID: id, Endpoint: &endpoint})
	require.NoError(t, err)
}

func roles(msgs []studio.SessionMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

// =============================================================================
// 💬 Sessions
// =============================================================================

func TestSessions_CRUD(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	sess, err := h.svc.CreateSession(ctx, "agent-a", "")
	require.NoError(t, err)
	assert.Equal(t, studio.DefaultUserID, sess.UserID)

	_, err = h.svc.CreateSession(ctx, "agent-b", "alice")
	require.NoError(t, err)

	list, err := h.svc.ListSessions(ctx, "agent-a", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.SessionID, list[0].SessionID)

	got, msgs, err := h.svc.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", got.AgentID)
	assert.Empty(t, msgs)

	require.NoError(t, h.svc.DeleteSession(ctx, sess.SessionID))
	assert.Same(t, ErrSessionNotFound, h.svc.DeleteSession(ctx, sess.SessionID))
	_, _, err = h.svc.GetSession(ctx, sess.SessionID)
	assert.Same(t, ErrSessionNotFound, err)
}

func TestSendMessage_ProxiesToAgent(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	var gotBody map[string]string
	var gotRequestID string
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invocations", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotRequestID = r.Header.Get("X-Request-Id")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"response":"hello there","usage":{"tokens":3}}`))
	}))
	defer agent.Close()

	h.registerAgent(t, "agent-a", agent.URL+"/")
	require.NoError(t, h.store.SaveTrace(ctx, fixtures.Trace("t-latest", "agent-a")))
	sess, err := h.svc.CreateSession(ctx, "agent-a", "")
	require.NoError(t, err)

	reply, err := h.svc.SendMessage(ctx, sess.SessionID, "hi")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"prompt": "hi"}, gotBody)
	assert.Equal(t, RoleAssistant, reply.Message.Role)
	assert.Equal(t, "hello there", reply.Message.Content)
	require.NotNil(t, reply.Message.TraceID)
	assert.Equal(t, "t-latest", *reply.Message.TraceID)
	assert.JSONEq(t, `{"response":"hello there","usage":{"tokens":3}}`, string(reply.Raw))

	msgs, err := h.svc.Messages(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleUser, RoleAssistant}, roles(msgs))
	assert.Equal(t, msgs[0].MessageID, gotRequestID)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt), "reply sorts after the question")
	assert.Equal(t, []string{"ok"}, h.rec.statuses)
}

func TestSendMessage_WithoutTraceOrResponseField(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":"x"}`))
	}))
	defer agent.Close()
	h.registerAgent(t, "agent-a", agent.URL)
	sess, err := h.svc.CreateSession(ctx, "agent-a", "")
	require.NoError(t, err)

	reply, err := h.svc.SendMessage(ctx, sess.SessionID, "hi")
	require.NoError(t, err)
	assert.Equal(t, `{"output":"x"}`, reply.Message.Content)

	msgs, err := h.svc.Messages(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, msgs[0].MessageID, *reply.Message.TraceID, "falls back to the request id")
}

func TestSendMessage_Failures(t *testing.T) {
	t.Run("session not found", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.SendMessage(testutil.TestContext(t), "missing", "hi")
		assert.Same(t, ErrSessionNotFound, err)
	})

	t.Run("agent not registered", func(t *testing.T) {
		h := newHarness(t)
		ctx := testutil.TestContext(t)
		sess, err := h.svc.CreateSession(ctx, "ghost", "")
		require.NoError(t, err)

		_, err = h.svc.SendMessage(ctx, sess.SessionID, "hi")
		assert.Same(t, ErrAgentNotFound, err)

		msgs, err := h.svc.Messages(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, []string{RoleUser, RoleError}, roles(msgs))
		assert.Equal(t, "Agent 'ghost' not found or unreachable", msgs[1].Content)
	})

	t.Run("agent unreachable", func(t *testing.T) {
		h := newHarness(t)
		ctx := testutil.TestContext(t)
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		h.registerAgent(t, "agent-a", dead.URL)
		sess, err := h.svc.CreateSession(ctx, "agent-a", "")
		require.NoError(t, err)

		_, err = h.svc.SendMessage(ctx, sess.SessionID, "hi")
		assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))

		msgs, err := h.svc.Messages(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, RoleError, msgs[1].Role)
		assert.Contains(t, msgs[1].Content, "Cannot connect to agent at "+dead.URL)
		assert.Equal(t, []string{"error"}, h.rec.statuses)
	})

	t.Run("non-JSON answer", func(t *testing.T) {
		h := newHarness(t)
		ctx := testutil.TestContext(t)
		agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer agent.Close()
		h.registerAgent(t, "agent-a", agent.URL)
		sess, err := h.svc.CreateSession(ctx, "agent-a", "")
		require.NoError(t, err)

		_, err = h.svc.SendMessage(ctx, sess.SessionID, "hi")
		assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
		assert.Contains(t, err.Error(), "HTTP 500")
	})
}

func TestForward(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"prompt":"ping","stream":false}`, string(body))
		_, _ = w.Write([]byte(`{"response":"pong"}`))
	}))
	defer agent.Close()
	h.registerAgent(t, "agent-a", agent.URL)

	out, err := h.svc.Forward(ctx, "agent-a", json.RawMessage(`{"prompt":"ping","stream":false}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"pong"}`, string(out))

	_, err = h.svc.Forward(ctx, "ghost", json.RawMessage(`{}`))
	assert.Same(t, ErrAgentNotFound, err)
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "hi", responseText(json.RawMessage(`{"response":"hi"}`)))
	assert.Equal(t, `{"a":1}`, responseText(json.RawMessage(`{"response":{"a":1}}`)))
	assert.Equal(t, `["x"]`, responseText(json.RawMessage(`["x"]`)))
}
