package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON_Headers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, []int{1, 2, 3})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-42")

	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	WriteCreated(w, map[string]int{"n": 1})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *types.Error
		status int
	}{
		{"invalid request", types.InvalidRequest("trace_id required"), http.StatusBadRequest},
		{"not found", types.NotFound("Trace not found"), http.StatusNotFound},
		{"conflict", types.NewError(types.ErrConflict, "exists"), http.StatusConflict},
		{"rate limited", types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests},
		{"upstream", types.NewError(types.ErrUpstreamError, "agent down"), http.StatusBadGateway},
		{"upstream timeout", types.NewError(types.ErrUpstreamTimeout, "slow agent"), http.StatusGatewayTimeout},
		{"explicit status wins", types.NotFound("gone").WithHTTPStatus(http.StatusGone), http.StatusGone},
		{"unknown code", types.NewError("WEIRD", "?"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
		})
	}
}

func TestWriteErrorWithData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorWithData(w, types.InvalidRequest("trace_id and spans required"), map[string]int{"accepted": 0}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, map[string]any{"accepted": float64(0)}, resp.Data)
}

func TestWriteServiceError(t *testing.T) {
	t.Run("wrapped types error keeps its code", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteServiceError(w, fmt.Errorf("lookup: %w", types.NotFound("Agent not found")), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("plain error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteServiceError(w, errors.New("disk on fire"), zap.NewNop())
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, "internal error", resp.Error.Message)
	})
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"a","extra":true}`, ""},
		{"empty", "", "request body is empty"},
		{"malformed", `{"name":`, "invalid JSON body"},
		{"too large", `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`, "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			err := DecodeJSONBody(w, r, &dst, nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "a", dst.Name)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantErr, decodeResponse(t, w).Error.Message)
		})
	}
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=5&offset=-1&bad=x&flag=false", nil)

	assert.Equal(t, 5, QueryInt(r, "limit", 50))
	assert.Equal(t, 0, QueryInt(r, "offset", 0))
	assert.Equal(t, 50, QueryInt(r, "bad", 50))
	assert.Equal(t, 7, QueryInt(r, "missing", 7))
	assert.False(t, QueryBool(r, "flag", true))
	assert.True(t, QueryBool(r, "bad", true))
	assert.True(t, QueryBool(r, "missing", true))
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	rw.Flush()

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, int64(5), rw.BytesWritten)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err)
}
