package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/services"
	"github.com/alpinegear/identity/types"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const contextPrincipalKey contextKey = "principal"

// Authenticator turns an Authorization header into a principal.
type Authenticator interface {
	Authenticate(header string) (services.Principal, error)
}

// RequireAuth rejects requests without a valid session token and attaches the
// decoded principal to the request context.
func RequireAuth(auth Authenticator, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := auth.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				writeServiceError(w, r, log, err)
				return
			}
			ctx := context.WithValue(r.Context(), contextPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only principals holding role. It must run after RequireAuth.
func RequireRole(role types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, services.ErrNoToken)
				return
			}
			if principal.Role != role {
				writeError(w, http.StatusForbidden, services.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext returns the principal attached by RequireAuth.
func PrincipalFromContext(ctx context.Context) (services.Principal, bool) {
	p, ok := ctx.Value(contextPrincipalKey).(services.Principal)
	return p, ok
}

// RequestLogger writes one structured access-log line per request.
func RequestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
