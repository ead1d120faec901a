package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sixtypay/automail/internal/session"
)

type contextKey string

const (
	ctxSession contextKey = "session"
	ctxUser    contextKey = "user"
)

const sessionCookie = "session"

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", elapsed,
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)

		s.metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, r.URL.Path, http.StatusText(ww.Status()),
		).Inc()
		s.metrics.HTTPRequestDurationSeconds.WithLabelValues(
			r.Method, r.URL.Path,
		).Observe(elapsed.Seconds())
	})
}

// authMiddleware resolves the session cookie to a live session and puts
// session and user on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			s.sendError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		sess, user, err := s.sessions.GetSession(cookie.Value)
		if err != nil {
			s.sendError(w, http.StatusUnauthorized, "session expired")
			return
		}

		ctx := context.WithValue(r.Context(), ctxSession, sess)
		ctx = context.WithValue(ctx, ctxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates a route on the local account's admin flag
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := currentUser(r); user == nil || !user.Admin {
			s.sendError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentSession(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(ctxSession).(*session.Session)
	return sess
}

func currentUser(r *http.Request) *session.User {
	user, _ := r.Context().Value(ctxUser).(*session.User)
	return user
}
