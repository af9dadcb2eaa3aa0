package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/gatewayid"
	"github.com/wayfarerhq/gandalf/internal/telemetry"
)

const maxRequestIDLen = 128

const hdrRetryAfter = "Retry-After"

// Pre-allocated header value slices for security headers. Direct map
// assignment avoids the []string{v} alloc that Header.Set creates.
var (
	nosniffVal = []string{"nosniff"}
	denyVal    = []string{"DENY"}
)

// statusWriterPool eliminates one alloc/req from &statusWriter{} escaping
// to heap.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{status: http.StatusOK} },
}

// securityHeaders sets defense-in-depth response headers on every request.
func (s *server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h["X-Content-Type-Options"] = nosniffVal
		h["X-Frame-Options"] = denyVal
		next.ServeHTTP(w, r)
	})
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeError(w, gateway.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-Id"

// requestID carries through a client-supplied request-id header, or mints
// one via gatewayid.NewRequestID (16 random bytes, hex) when absent or
// invalid (spec §6: "request-id passed through if present, else
// generated"). Client-provided IDs are validated: max 128 chars,
// [a-zA-Z0-9._-] only.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header["Request-Id"]; len(vals) > 0 && isValidRequestID(vals[0]) {
			id = vals[0]
		} else {
			id = gatewayid.NewRequestID()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := gateway.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isValidRequestID(s string) bool {
	if len(s) == 0 || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// authenticate resolves the request's credentials to a Principal and
// injects it into context. When requestMeta already exists in context
// (set by the requestID middleware), the principal is stored by mutation
// of the same struct -- no second context allocation.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := gateway.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuthenticate resolves credentials when present but admits the
// request as an anonymous principal rather than rejecting it when absent,
// for endpoints whose auth column is "any" (spec §6).
func (s *server) optionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			principal = &gateway.Principal{Kind: gateway.PrincipalAnonymous, UserID: gateway.AnonymousPrincipalID}
			if ch := r.Header.Get("model-channel"); ch != "" {
				principal.Channel = gateway.Channel(ch)
			} else {
				principal.Channel = gateway.StableChannel
			}
		}
		ctx := gateway.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter if it implements
// http.Flusher, so SSE streaming works through this middleware.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// rateLimit enforces the fixed-window request ceiling (C5) and the cost
// ceiling (C6) for the authenticated principal (spec §4.3, §4.4).
// Anonymous callers share a single window keyed by AnonymousPrincipalID.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := gateway.PrincipalFromContext(r.Context())
		id := gateway.AnonymousPrincipalID
		if principal != nil && principal.UserID != "" {
			id = principal.UserID
		}

		if s.deps.RateLimiter != nil {
			result := s.deps.RateLimiter.Check(id)
			if !result.Allowed {
				if s.deps.Metrics != nil {
					s.deps.Metrics.RateLimitRejects.WithLabelValues("rate_limited").Inc()
				}
				w.Header()[hdrRetryAfter] = []string{strconv.FormatInt(result.ResetInSeconds, 10)}
				writeErrorWithExtra(w, gateway.ErrRateLimited, map[string]any{"resetInSeconds": result.ResetInSeconds})
				return
			}
		}

		if s.deps.CostCap != nil && principal != nil && principal.Kind != gateway.PrincipalAnonymous {
			rejection, err := s.deps.CostCap.Check(r.Context(), principal.UserID, time.Now())
			if err != nil {
				slog.LogAttrs(r.Context(), slog.LevelWarn, "cost ceiling check failed", slog.String("error", err.Error()))
			} else if rejection != nil {
				if s.deps.Metrics != nil {
					s.deps.Metrics.RateLimitRejects.WithLabelValues("spend_cap_exceeded").Inc()
				}
				writeErrorWithExtra(w, gateway.ErrSpendCapExceeded, map[string]any{
					"period":    rejection.Period,
					"limit":     rejection.LimitUSD,
					"current":   rejection.CurrentUSD,
					"resetInfo": rejection.ResetAt,
				})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// tracingMiddleware creates a span for each HTTP request.
func tracingMiddleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.Path),
					attribute.String("http.request_id", gateway.RequestIDFromContext(r.Context())),
				),
			)
			defer span.End()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", sw.status))
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)
		})
	}
}

// metricsMiddleware records request totals, durations, and in-flight count.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r)

			path := routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())

			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)
		})
	}
}

// requireAppKey gates operator-only endpoints (analytics) on the app-key
// header, independent of the general Authenticator precedence chain,
// since spec §6 names "app-key" specifically as the analytics gate.
func (s *server) requireAppKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil || principal.Kind != gateway.PrincipalApp {
			writeError(w, gateway.ErrAuthRequired)
			return
		}
		ctx := gateway.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireTowerKey gates /v1/tower/* on the tower-key header, authenticating
// against the sandbox's own per-agent secret set rather than the general
// Authenticator chain.
func (s *server) requireTowerKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile, ok := s.deps.Tower.Authenticate(r.Header.Get("tower-key"))
		if !ok {
			writeError(w, gateway.ErrAuthInvalid)
			return
		}
		ctx := context.WithValue(r.Context(), towerProfileKey{}, profile)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type towerProfileKey struct{}

// routePattern returns chi's matched route pattern (e.g. "/v1/images/{id}")
// so metrics don't explode into one series per distinct id.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}
