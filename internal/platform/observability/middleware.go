package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/platform/requestctx"
)

// InjectLoggerMiddleware stores the logger on the request context so handlers
// and services can retrieve it via requestctx.Logger.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// requestLogger derives the per-request logger with correlation fields. The
// logging.googleapis.com/trace field is what Cloud Logging keys trace
// correlation on, so it is only attached when both halves are known.
func requestLogger(r *http.Request, info requestctx.TraceInfo, route string) *zap.Logger {
	logger := requestctx.Logger(r.Context()).With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("route", route),
		zap.String("trace_id", info.TraceID),
		zap.String("user_id", requestUserID(r)),
	)
	if info.ProjectID != "" && info.TraceID != "" {
		logger = logger.With(zap.String("logging.googleapis.com/trace",
			fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
	}
	if ip := clientAddr(r); ip != "" {
		logger = logger.With(zap.String("remote_ip", ip))
	}
	return logger
}

// finishRequest records the outcome on the active span and emits the
// completion log at a severity matching the response class.
func finishRequest(ctx context.Context, logger *zap.Logger, sw *statusWriter, route string, start time.Time, panicked bool) {
	status := sw.status
	if panicked && status < http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		span.SetAttributes(
			semconv.HTTPResponseStatusCode(status),
			semconv.HTTPRoute(route),
		)
		spanStatus := codes.Ok
		if status >= http.StatusInternalServerError {
			spanStatus = codes.Error
		}
		span.SetStatus(spanStatus, http.StatusText(status))
	}

	emit := logger.Info
	switch {
	case panicked || status >= http.StatusInternalServerError:
		emit = logger.Error
	case status >= http.StatusBadRequest:
		emit = logger.Warn
	}
	emit("request completed",
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)),
		zap.Int64("bytes", sw.written),
	)
}

// RequestLoggerMiddleware emits a structured completion log per request and
// attaches Cloud Logging trace correlation when a trace is present.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceInfo, _ := requestctx.Trace(r.Context())
			if traceInfo.ProjectID == "" {
				traceInfo.ProjectID = projectID
			}
			route := SanitizeRoute(routePattern(r))
			logger := requestLogger(r, traceInfo, route)

			ctx := requestctx.WithLogger(r.Context(), logger)
			r = r.WithContext(ctx)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			logger.Info("request started")

			// The completion log must fire even when the handler panics, and
			// the panic itself must keep unwinding so RecoveryMiddleware can
			// answer the client.
			defer func() {
				rec := recover()
				finishRequest(ctx, logger, sw, route, start, rec != nil)
				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

// RecoveryMiddleware converts panics into a JSON 500 after logging the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func requestUserID(r *http.Request) string {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil {
		return ""
	}
	return SanitizeUserID(identity.UID)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return r.URL.Path
	}
	return "/"
}

func clientAddr(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(status int) {
	if status < 100 {
		status = http.StatusOK
	}
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}
