package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crate/internal/access"
	"crate/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// responseWriter wraps http.ResponseWriter to capture status code & size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

// requestLoggingMiddleware records request metrics and, if enabled, logs
// each request with latency & size.
func (ms *StoreServer) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     200,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ms.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rw.statusCode), duration)

		if ms.config.Logging.RequestLogging && ms.shouldLogRequest(r.URL.Path) {
			ms.logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"status":   rw.statusCode,
				"size":     formatBytes(rw.size),
				"duration": duration.Round(time.Millisecond).String(),
			}).Info("Request")
		}
	})
}

// corsMiddleware injects CORS headers if enabled in configuration.
func (ms *StoreServer) corsMiddleware(next http.Handler) http.Handler {
	if !ms.config.Server.EnableCORS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// contentSecurityPolicy admits the embedded Stripe checkout and Google fonts.
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com https://*.stripe.com",
	"script-src 'self' https://js.stripe.com/v3/ https://*.stripe.com",
	"frame-src https://js.stripe.com https://checkout.stripe.com https://*.stripe.com",
	"font-src 'self' https://fonts.gstatic.com",
	"img-src 'self' data: https:",
	"connect-src 'self' https://api.stripe.com https://checkout.stripe.com https://*.stripe.com",
}, "; ")

// securityHeadersMiddleware sets the CSP and the usual hardening headers.
func (ms *StoreServer) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")
		if ms.config.IsProduction() {
			h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// httpsRedirectMiddleware upgrades plain HTTP in production. TLS is usually
// terminated by a proxy, so X-Forwarded-Proto is trusted.
func (ms *StoreServer) httpsRedirectMiddleware(next http.Handler) http.Handler {
	if !ms.config.IsProduction() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" && r.URL.Path != "/health" {
			target := "https://" + r.Host + r.URL.RequestURI()
			ms.logger.WithField("path", r.URL.Path).Debug("Redirecting HTTP to HTTPS")
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type (
	sessionContextKey    struct{}
	sessionErrContextKey struct{}
)

// sessionMiddleware resolves the session cookie, if any, and threads the
// user ID into the request context. It never creates a session. A store
// failure is kept on the context so protected routes can report it instead
// of treating the caller as anonymous.
func (ms *StoreServer) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := ms.sessions.Current(w, r)
		switch {
		case err != nil:
			ms.logger.WithError(err).Warn("Failed to resolve session")
			r = r.WithContext(context.WithValue(r.Context(), sessionErrContextKey{}, err))
		case session != nil:
			ctx := auth.WithUserID(r.Context(), session.UserID)
			ctx = context.WithValue(ctx, sessionContextKey{}, session)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// sessionFrom returns the session resolved by sessionMiddleware.
func sessionFrom(ctx context.Context) (*auth.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(*auth.Session)
	return session, ok
}

// authorize gates a route on the access policy for op. Browsers without a
// session are sent to /login; API clients get 401.
func (ms *StoreServer) authorize(op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !access.Protected(op) {
				next.ServeHTTP(w, r)
				return
			}
			if err, ok := r.Context().Value(sessionErrContextKey{}).(error); ok {
				ms.respondWithDomainError(w, r, err)
				return
			}

			err := access.Authorize(op, auth.UserIDFrom(r.Context()))
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			if isBrowserRequest(r) {
				redirect := fmt.Sprintf("/tracks?page=%d", pageParam(r))
				http.Redirect(w, r, "/login?redirect="+url.QueryEscape(redirect), http.StatusFound)
				return
			}
			ms.logger.WithField("operation", op).Debug("Rejected unauthenticated request")
			ms.respondWithDomainError(w, r, err)
		})
	}
}

// rateLimitMiddleware throttles per client on the payment and login routes.
func (ms *StoreServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ms.limiter.Allow(clientKey(r, ms.trustedProxies)) {
			w.Header().Set("Retry-After", "60")
			ms.respondWithError(w, r, http.StatusTooManyRequests, codeRateLimited, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isBrowserRequest checks if the request is from a browser (vs API client)
func isBrowserRequest(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}

// shouldLogRequest filters noisy paths from request logging output.
func (ms *StoreServer) shouldLogRequest(path string) bool {
	skipPaths := []string{
		"/health",
		"/metrics",
		"/favicon.ico",
	}

	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return false
		}
	}

	return true
}

// formatBytes provides a simple approximate human-readable size.
func formatBytes(bytes int) string {
	if bytes == 0 {
		return "0B"
	}

	const unit = 1024
	if bytes < unit {
		return "< 1KB"
	}

	div, exp := int64(unit), 0
	for n := int64(bytes) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}

	result := int64(bytes) / div
	return fmt.Sprintf("%d%s", result, units[exp])
}

// panicRecoveryMiddleware intercepts panics returning HTTP 500 without crashing the process.
func (ms *StoreServer) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				ms.logger.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  err,
				}).Error("Recovered from panic")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
