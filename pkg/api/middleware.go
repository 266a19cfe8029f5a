package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
)

const sessionCookie = "session_id"

// withRequest opens the root request span, injects a request ID and a
// session ID into the request context, and logs the request on
// completion.
func (s *Server) withRequest(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		sessionID, created := sessionFrom(r)
		if created {
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
			})
		}

		ctx := r.Context()
		if s.tracing != nil {
			var span trace.Span
			ctx, span = s.tracing.StartRequest(ctx, endpoint)
			defer span.End()
		}
		ctx = context.WithValue(ctx, requestIDKey, requestID)
		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
		w.Header().Set("X-Request-ID", requestID)

		next(w, r.WithContext(ctx))

		s.logger.Info("http_request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// sessionFrom resolves the caller's session ID from the X-Session-ID
// header or the session cookie, minting one when absent.
func sessionFrom(r *http.Request) (id string, created bool) {
	if id := r.Header.Get("X-Session-ID"); id != "" {
		return id, false
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, false
	}
	return uuid.NewString(), true
}

// sessionID returns the session ID stored by withRequest.
func sessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
