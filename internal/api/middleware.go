package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"autocall/internal/auth"
	"autocall/internal/core"
	"autocall/internal/logging"

	"github.com/go-chi/chi/v5/middleware"
)

type principalKey struct{}

// AuthMiddleware verifies the bearer token and stores the caller's principal in
// the request context.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			p, err := authenticator.Parse(raw)
			if err != nil {
				code := "unauthorized"
				if errors.Is(err, auth.ErrInvalidToken) {
					code = "invalid_token"
				}
				writeError(w, http.StatusUnauthorized, code, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects authenticated callers that are not administrators.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).IsAdmin {
			writeError(w, http.StatusForbidden, "forbidden", core.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFrom(ctx context.Context) core.Principal {
	p, _ := ctx.Value(principalKey{}).(core.Principal)
	return p
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logging.FromContext(r.Context(), logger).Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.logger)
}
