package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/security"
	"helpboard-backend/internal/service"
)

type actorCtxKey struct{}

func withActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actorID)
}

// actorFrom returns the authenticated actor, or 0 outside the auth middleware.
func actorFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(actorCtxKey{}).(int64)
	return id
}

// authenticate resolves the caller from a bearer access token. EventSource
// clients cannot set headers, so a feed token in the access_token query
// parameter is accepted instead.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			claims *security.ActorClaims
			err    error
		)
		if token, ok := bearerToken(r); ok {
			claims, err = s.tokens.ValidateToken(token, security.TokenTypeAccess)
		} else if token := r.URL.Query().Get("access_token"); token != "" {
			claims, err = s.tokens.ValidateToken(token, security.TokenTypeFeed)
		} else {
			writeError(w, r, &domain.Error{Code: domain.CodeUnauthorized, Message: "authorization token is not provided"})
			return
		}
		if err != nil {
			writeError(w, r, &domain.Error{Code: domain.CodeUnauthorized, Message: "invalid token", Err: err})
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), claims.ActorID)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:]), true
	}
	return "", false
}

// idempotencyKey threads the Idempotency-Key header into the ledger.
func idempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
			if len(key) > 128 {
				writeError(w, r, domain.Validationf("Idempotency-Key is longer than 128 characters"))
				return
			}
			r = r.WithContext(service.WithIdempotencyKey(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.DebugContext(r.Context(), "HTTP request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
