package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Context keys for tenant and trace propagation.
type contextKey string

const (
	// TenantIDKey is the context key for tenant ID.
	TenantIDKey contextKey = "tenantID"

	// TraceIDKey is the context key for trace ID.
	TraceIDKey contextKey = "traceID"

	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "requestID"

	// TenantIDHeader is the HTTP header for tenant ID.
	TenantIDHeader = "X-Tenant-ID"

	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader is the HTTP header for trace ID.
	TraceIDHeader = "X-Trace-ID"
)

// ErrUnknownTenant rejects tenants outside the configured allow-list.
var ErrUnknownTenant = errors.New("unknown tenant")

var tracer = otel.Tracer("kestrel-api")

// TenantMiddleware resolves the tenant from X-Tenant-ID. The ID must be a
// valid subject token, which also keeps the global rule tenant "*" out of
// request scope. When allowed is non-empty only those tenants are served.
func TenantMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get(TenantIDHeader)
			if err := domain.ValidateTenantID(tenantID); err != nil {
				writeError(w, err)
				return
			}
			if len(allowed) > 0 && !slices.Contains(allowed, tenantID) {
				slog.Warn("rejected unknown tenant", "tenant_id", tenantID, "path", r.URL.Path)
				writeJSON(w, http.StatusForbidden, map[string]string{"error": ErrUnknownTenant.Error()})
				return
			}

			if slot, ok := r.Context().Value(tenantSlot{}).(*string); ok {
				*slot = tenantID
			}
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("tenant.id", tenantID))
			ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TracingMiddleware opens a span per request and echoes the request and
// trace IDs as response headers. Without an exporter the trace ID falls
// back to the request ID.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		traceID := requestID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			traceID = sc.TraceID().String()
		}

		ctx = context.WithValue(ctx, RequestIDKey, requestID)
		ctx = context.WithValue(ctx, TraceIDKey, traceID)

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", rw.statusCode))
	})
}

// LoggingMiddleware writes one structured line per request. Tenant and
// preset are read after the handler so inner middleware can set them.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		var tenantID string
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), tenantSlot{}, &tenantID)))

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"bytes", rw.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"tenant_id", tenantID,
			"request_id", GetRequestID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
		}
		if preset := r.URL.Query().Get("preset"); preset != "" {
			attrs = append(attrs, "preset", preset)
		}

		level := slog.LevelInfo
		if rw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request", attrs...)
	})
}

// tenantSlot carries a pointer through which TenantMiddleware reports the
// resolved tenant back to LoggingMiddleware.
type tenantSlot struct{}

// CORSMiddleware answers browser preflights. An empty origins list
// reflects any origin, which suits local development only.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && (len(origins) == 0 || slices.Contains(origins, origin))

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-Request-ID, X-Trace-ID, Authorization")
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Trace-ID")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 with a JSON body.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"path", r.URL.Path,
					"trace_id", GetTraceID(r.Context()),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

// GetTenantID extracts tenant ID from context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return ""
}

// GetTraceID extracts trace ID from context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRequestID extracts request ID from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
