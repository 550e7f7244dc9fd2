package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/D10S0VSkY-OSS/kiboserve/internal/ctxkeys"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/tracer"
)

// Headers read by TracingMiddleware.
const (
	RequestIDHeader = "X-Request-Id"
	SessionIDHeader = "X-Session-Id"
)

// DefaultTracePath is traced when TracingMiddleware gets no paths.
const DefaultTracePath = "/invocations"

// maxCapture bounds how much of a request or response body is kept as span
// input or output. Bodies beyond it are still served in full.
const maxCapture = 1 << 20

// TracingMiddleware opens a trace for every request whose path is in paths
// (DefaultTracePath when empty). JSON request and response bodies become the
// root span's input and output; a status of 400 or above marks the trace as
// failed. The scope is available to handlers through tracer.FromContext.
func TracingMiddleware(tr *tracer.Tracer, paths ...string) func(http.Handler) http.Handler {
	if len(paths) == 0 {
		paths = []string{DefaultTracePath}
	}
	traced := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		traced[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := traced[r.URL.Path]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			ts := tr.OpenTrace(r.Method+" "+r.URL.Path, r.Header.Get(SessionIDHeader), r.Header.Get(RequestIDHeader))
			ts.SetAttribute("http.method", r.Method)
			ts.SetAttribute("http.path", r.URL.Path)

			if r.Body != nil && r.Body != http.NoBody {
				body, err := io.ReadAll(r.Body)
				_ = r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(body))
				if err == nil {
					if in, ok := decodeCaptured(body); ok {
						ts.SetInput(in)
					}
				}
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := tracer.ContextWithTrace(r.Context(), ts)
			ctx = ctxkeys.WithRequestID(ctx, ts.RequestID())

			defer func() {
				closeCtx := context.WithoutCancel(ctx)
				if rec := recover(); rec != nil {
					_ = ts.Close(closeCtx, fmt.Errorf("panic: %v", rec))
					panic(rec)
				}
				if out, ok := decodeCaptured(cw.buf.Bytes()); ok {
					ts.SetOutput(out)
				}
				ts.SetAttribute("http.status_code", cw.status)
				var opErr error
				if cw.status >= http.StatusBadRequest {
					opErr = fmt.Errorf("HTTP %d", cw.status)
				}
				// export failures are logged by the tracer
				_ = ts.Close(closeCtx, opErr)
			}()

			next.ServeHTTP(cw, r.WithContext(ctx))
		})
	}
}

func decodeCaptured(body []byte) (any, bool) {
	if len(body) == 0 || len(body) > maxCapture {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// captureWriter records the status code and a copy of the body.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
	overflow    bool
}

func (w *captureWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	if !w.overflow {
		if w.buf.Len()+len(p) > maxCapture {
			w.overflow = true
			w.buf.Reset()
		} else {
			w.buf.Write(p)
		}
	}
	return w.ResponseWriter.Write(p)
}

// Flush keeps streaming responses working.
func (w *captureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *captureWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
