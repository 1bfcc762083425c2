package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type logFieldsKey struct{}

// requestFields collects attributes that handlers attach while serving.
type requestFields struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func (f *requestFields) add(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.attrs {
		if a.Key == key {
			f.attrs[i] = slog.String(key, value)
			return
		}
	}
	f.attrs = append(f.attrs, slog.String(key, value))
}

func (f *requestFields) snapshot() []slog.Attr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]slog.Attr(nil), f.attrs...)
}

// quietPaths are logged at debug level so probes do not flood the log.
var quietPaths = map[string]bool{"/healthz": true}

// LoggingMiddleware emits a start and a completion record for every request.
// The completion record carries status, size, duration and any fields added
// with AddLogField; 5xx responses log at error level and 4xx at warn.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := &requestFields{}
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			base := []slog.Attr{
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			}

			startLevel := slog.LevelInfo
			if quietPaths[r.URL.Path] {
				startLevel = slog.LevelDebug
			}
			logger.LogAttrs(ctx, startLevel, "request started",
				append(base, slog.String("remote_addr", r.RemoteAddr))...)

			next.ServeHTTP(rw, r.WithContext(ctx))

			attrs := append(base,
				slog.Int("status", rw.status),
				slog.Int64("bytes", rw.bytes),
				slog.Duration("duration", time.Since(start)),
			)
			attrs = append(attrs, fields.snapshot()...)

			logger.LogAttrs(ctx, completionLevel(r.URL.Path, rw.status), "request completed", attrs...)
		})
	}
}

func completionLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// statusRecorder remembers the status code and counts body bytes.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush keeps server-sent event streams working through the wrapper.
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AddLogField adds key=value to the request's completion record. Empty values
// are ignored, as are calls outside LoggingMiddleware.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(*requestFields); ok {
		fields.add(key, value)
	}
}

// AddError records err under the "error" field.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}
