package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sixtypay/automail/internal/session"
)

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// LoginRequest is the request body for POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the response for POST /api/auth/login
type LoginResponse struct {
	User      *session.User `json:"user"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleLogin handles POST /api/auth/login. The local account is the
// gate; when the outreach backend also recognizes the credentials, its
// token is attached to the session so proxied calls act as that user.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.sessions.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			s.sendError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		s.logger.Error("login failed", "error", err, "email", req.Email)
		s.sendError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token := s.cfg.Upstream.APIKey
	if tok, err := s.upstream.Login(r.Context(), req.Email, req.Password); err == nil {
		token = tok.AccessToken
	} else {
		s.logger.Warn("upstream login unavailable, using service credentials",
			"email", req.Email, "error", err)
	}

	sess, err := s.sessions.CreateSession(user.ID, token)
	if err != nil {
		s.logger.Error("failed to create session", "error", err, "email", req.Email)
		s.sendError(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.metrics.SessionsActive.Inc()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.Server.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info("user logged in", "email", user.Email, "admin", user.Admin)
	s.sendJSON(w, http.StatusOK, LoginResponse{User: user, ExpiresAt: sess.ExpiresAt})
}

// handleLogout handles POST /api/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	if err == nil {
		s.workflows.remove(cookie.Value)
		removed, err := s.sessions.DeleteSession(cookie.Value)
		if err != nil {
			s.logger.Error("failed to delete session", "error", err)
		}
		// A stale or repeated cookie names no live session; the gauge
		// moves only when a row actually went away.
		if removed {
			s.metrics.SessionsActive.Dec()
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleCurrentUser handles GET /api/auth/me
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, currentUser(r))
}

// handleUserList handles GET /api/users
func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.sessions.ListUsers()
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	s.sendJSON(w, http.StatusOK, users)
}

// settingDefaultTemplate names the template auto-selected for fresh
// workflows. Admins change it via PUT /api/settings/default_template.
const settingDefaultTemplate = "default_template"

// SettingResponse is a single service-wide setting
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// handleSettingGet handles GET /api/settings/{key}
func (s *Server) handleSettingGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.settings.GetSetting(key)
	if err != nil {
		s.logger.Error("failed to read setting", "error", err, "key", key)
		s.sendError(w, http.StatusInternalServerError, "failed to read setting")
		return
	}
	s.sendJSON(w, http.StatusOK, SettingResponse{Key: key, Value: value})
}

// handleSettingSet handles PUT /api/settings/{key}
func (s *Server) handleSettingSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := chi.URLParam(r, "key")
	if err := s.settings.SetSetting(key, req.Value); err != nil {
		s.logger.Error("failed to store setting", "error", err, "key", key)
		s.sendError(w, http.StatusInternalServerError, "failed to store setting")
		return
	}
	s.logger.Info("setting updated", "key", key, "by", currentUser(r).Email)
	s.sendJSON(w, http.StatusOK, SettingResponse{Key: key, Value: req.Value})
}

// handleSettingDelete handles DELETE /api/settings/{key}
func (s *Server) handleSettingDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.settings.DeleteSetting(key); err != nil {
		s.logger.Error("failed to delete setting", "error", err, "key", key)
		s.sendError(w, http.StatusInternalServerError, "failed to delete setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuditRecent handles GET /api/audit
func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	records, err := s.audit.Recent(50)
	if err != nil {
		s.logger.Error("failed to read audit log", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	s.sendJSON(w, http.StatusOK, records)
}

// handleAuditGet handles GET /api/audit/{id}
func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.audit.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to read audit record", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to read audit record")
		return
	}
	if rec == nil {
		s.sendError(w, http.StatusNotFound, "audit record not found")
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

// sendJSON writes a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
