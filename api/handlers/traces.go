package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔭 Trace Handler
// =============================================================================

// TraceStore trace 查询所需的持久化接口，由 *store.Store 实现
type TraceStore interface {
	ListTraces(ctx context.Context, f store.TraceFilter) ([]studio.Trace, error)
	GetTrace(ctx context.Context, traceID string) (*studio.Trace, error)
	DeleteTrace(ctx context.Context, traceID string) error
	ListSpans(ctx context.Context, traceID string) ([]studio.Span, error)
	GetSpan(ctx context.Context, spanID string) (*studio.Span, error)
}

// Ingester 接收 Agent 上报的 span 批次，由 *collector.Collector 实现
type Ingester interface {
	IngestBatch(ctx context.Context, b collector.Batch) (collector.Result, error)
}

// TraceHandler trace 摄入与查询
type TraceHandler struct {
	store    TraceStore
	ingester Ingester
	logger   *zap.Logger
}

// NewTraceHandler 创建 trace handler
func NewTraceHandler(st TraceStore, ingester Ingester, logger *zap.Logger) *TraceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceHandler{store: st, ingester: ingester, logger: logger}
}

// HandleList 列出 trace
// @Summary 列出 trace
// @Tags traces
// @Produce json
// @Param limit query int false "返回条数" default(50)
// @Param offset query int false "偏移"
// @Param agent_id query string false "按 Agent 过滤"
// @Success 200 {object} Response{data=api.TraceList}
// @Router /api/traces [get]
func (h *TraceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f := store.TraceFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Limit:   QueryInt(r, "limit", store.DefaultListLimit),
		Offset:  QueryInt(r, "offset", 0),
	}
	traces, err := h.store.ListTraces(r.Context(), f)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.TraceList{Traces: traces, Limit: f.Limit, Offset: f.Offset})
}

// HandleIngest 接收 span 批次
// @Summary 摄入 span
// @Tags traces
// @Accept json
// @Produce json
// @Param request body collector.Batch true "span 批次"
// @Success 200 {object} Response{data=collector.Result}
// @Failure 400 {object} Response{data=collector.Result} "缺少 trace_id 或 spans"
// @Router /api/traces/ingest [post]
func (h *TraceHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var batch collector.Batch
	if err := DecodeJSONBody(w, r, &batch, h.logger); err != nil {
		return
	}
	res, err := h.ingester.IngestBatch(r.Context(), batch)
	if err != nil {
		if apiErr, ok := types.AsError(err); ok && collector.IsBatchRequired(err) {
			WriteErrorWithData(w, apiErr, res, h.logger)
			return
		}
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleGet 返回 trace 及其 span
// @Summary 获取 trace
// @Tags traces
// @Produce json
// @Param trace_id path string true "Trace ID"
// @Success 200 {object} Response{data=api.TraceDetail}
// @Failure 404 {object} Response
// @Router /api/traces/{trace_id} [get]
func (h *TraceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	trace, err := h.store.GetTrace(r.Context(), traceID)
	if err != nil {
		h.writeLookupError(w, err, "Trace not found")
		return
	}
	spans, err := h.store.ListSpans(r.Context(), traceID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.TraceDetail{Trace: trace, Spans: spans})
}

// HandleDelete 删除 trace（含 span 与评估结果）
// @Summary 删除 trace
// @Tags traces
// @Param trace_id path string true "Trace ID"
// @Success 200 {object} Response{data=api.StatusResponse}
// @Failure 404 {object} Response
// @Router /api/traces/{trace_id} [delete]
func (h *TraceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTrace(r.Context(), r.PathValue("trace_id")); err != nil {
		h.writeLookupError(w, err, "Trace not found")
		return
	}
	WriteSuccess(w, api.StatusResponse{Status: "deleted"})
}

// HandleSpans 列出 trace 下的 span
// @Summary 列出 span
// @Tags traces
// @Param trace_id path string true "Trace ID"
// @Success 200 {object} Response{data=api.SpanList}
// @Router /api/traces/{trace_id}/spans [get]
func (h *TraceHandler) HandleSpans(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	spans, err := h.store.ListSpans(r.Context(), traceID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.SpanList{TraceID: traceID, Spans: spans})
}

// HandleGetSpan 获取单个 span
// @Summary 获取 span
// @Tags traces
// @Param span_id path string true "Span ID"
// @Success 200 {object} Response{data=studio.Span}
// @Failure 404 {object} Response
// @Router /api/spans/{span_id} [get]
func (h *TraceHandler) HandleGetSpan(w http.ResponseWriter, r *http.Request) {
	span, err := h.store.GetSpan(r.Context(), r.PathValue("span_id"))
	if err != nil {
		h.writeLookupError(w, err, "Span not found")
		return
	}
	WriteSuccess(w, span)
}

func (h *TraceHandler) writeLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, types.NotFound(notFound), h.logger)
		return
	}
	WriteServiceError(w, err, h.logger)
}
