package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sixtypay/automail/internal/upstream"
)

// client returns the upstream client acting as the request's session
func (s *Server) client(r *http.Request) *upstream.Client {
	if sess := currentSession(r); sess != nil && sess.UpstreamToken != "" {
		return s.upstream.WithToken(sess.UpstreamToken)
	}
	return s.upstream
}

// proxyError maps an upstream failure onto our response
func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, upstream.ErrUnauthorized) {
		s.sendError(w, http.StatusUnauthorized, "upstream rejected credentials")
		return
	}
	s.logger.Error("upstream request failed", "error", err, "path", r.URL.Path)
	s.sendError(w, http.StatusBadGateway, "upstream request failed")
}

// handleCompanyList handles GET /api/companies
func (s *Server) handleCompanyList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := upstream.CompanyListParams{
		Search: q.Get("search"),
	}
	if v := q.Get("skip"); v != "" {
		params.Skip, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		params.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("is_active"); v != "" {
		active := v == "true"
		params.IsActive = &active
	}

	resp, err := s.client(r).ListCompanies(r.Context(), params)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleCompanyGet handles GET /api/companies/{id}
func (s *Server) handleCompanyGet(w http.ResponseWriter, r *http.Request) {
	company, err := s.client(r).GetCompany(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, company)
}

// handleCompanyCreate handles POST /api/companies
func (s *Server) handleCompanyCreate(w http.ResponseWriter, r *http.Request) {
	var req upstream.CompanyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	company, err := s.client(r).CreateCompany(r.Context(), &req)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, company)
}

// handleCompanyUpdate handles PUT /api/companies/{id}
func (s *Server) handleCompanyUpdate(w http.ResponseWriter, r *http.Request) {
	var req upstream.CompanyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	company, err := s.client(r).UpdateCompany(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, company)
}

// handleCompanyDelete handles DELETE /api/companies/{id}
func (s *Server) handleCompanyDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.client(r).DeleteCompany(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.proxyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCompanyExists handles GET /api/companies/exists?name=
func (s *Server) handleCompanyExists(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	resp, err := s.client(r).CheckCompanyExists(r.Context(), name)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleTemplateList handles GET /api/templates
func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	params := upstream.TemplateListParams{}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active := v == "true"
		params.IsActive = &active
	}

	resp, err := s.client(r).ListTemplates(r.Context(), params)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleTemplateGet handles GET /api/templates/{id}
func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.client(r).GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tpl)
}

// handleTemplateCreate handles POST /api/templates
func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req upstream.TemplateCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl, err := s.client(r).CreateTemplate(r.Context(), &req)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, tpl)
}

// handleTemplateUpdate handles PUT /api/templates/{id}
func (s *Server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	var req upstream.TemplateUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl, err := s.client(r).UpdateTemplate(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tpl)
}

// handleTemplateDelete handles DELETE /api/templates/{id}
func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.client(r).DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.proxyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTemplateVariables handles GET /api/templates/variables
func (s *Server) handleTemplateVariables(w http.ResponseWriter, r *http.Request) {
	resp, err := s.client(r).ListTemplateVariables(r.Context())
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleEmailHistoryList handles GET /api/email-history
func (s *Server) handleEmailHistoryList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := upstream.HistoryListParams{
		CompanyID:      q.Get("company_id"),
		UserID:         q.Get("user_id"),
		RecipientEmail: q.Get("recipient_email"),
		TemplateName:   q.Get("template_name"),
		Status:         q.Get("status"),
	}
	if v := q.Get("skip"); v != "" {
		params.Skip, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		params.Limit, _ = strconv.Atoi(v)
	}
	if t, err := parseDay(q.Get("start_date")); err == nil && !t.IsZero() {
		params.StartDate = &t
	}
	if t, err := parseDay(q.Get("end_date")); err == nil && !t.IsZero() {
		params.EndDate = &t
	}

	resp, err := s.client(r).ListHistory(r.Context(), params)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleEmailHistoryGet handles GET /api/email-history/{id}
func (s *Server) handleEmailHistoryGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.client(r).GetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entry)
}

// handleEmailHistoryByCompany handles GET /api/email-history/company/{companyID}
func (s *Server) handleEmailHistoryByCompany(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	resp, err := s.client(r).ListHistoryByCompany(r.Context(), chi.URLParam(r, "companyID"), skip, limit)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleTemplateGetByName handles GET /api/templates/by-name/{name}
func (s *Server) handleTemplateGetByName(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.client(r).GetTemplateByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tpl)
}

// handleProfile handles GET /api/auth/profile. Unlike /api/auth/me this
// reflects the account on the outreach backend, as seen through the
// session's token.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.client(r).CurrentUser(r.Context())
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

// handleProfileUpdate handles PUT /api/auth/profile
func (s *Server) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	var req upstream.UserUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.client(r).UpdateCurrentUser(r.Context(), &req)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

// handleUpstreamUserList handles GET /api/upstream-users
func (s *Server) handleUpstreamUserList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	var isActive *bool
	if v := q.Get("is_active"); v != "" {
		active := v == "true"
		isActive = &active
	}

	users, err := s.client(r).ListUsers(r.Context(), skip, limit, isActive)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, users)
}

// handleUpstreamUserGet handles GET /api/upstream-users/{id}
func (s *Server) handleUpstreamUserGet(w http.ResponseWriter, r *http.Request) {
	user, err := s.client(r).GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

// handleUpstreamUserCreate handles POST /api/upstream-users
func (s *Server) handleUpstreamUserCreate(w http.ResponseWriter, r *http.Request) {
	var req upstream.UserCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.client(r).CreateUser(r.Context(), &req)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, user)
}

// handleUpstreamUserUpdate handles PUT /api/upstream-users/{id}
func (s *Server) handleUpstreamUserUpdate(w http.ResponseWriter, r *http.Request) {
	var req upstream.UserUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.client(r).UpdateUser(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, user)
}

// handleUpstreamUserDelete handles DELETE /api/upstream-users/{id}
func (s *Server) handleUpstreamUserDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.client(r).DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.proxyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEmailStatistics handles GET /api/statistics/email
func (s *Server) handleEmailStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var start, end *time.Time
	if t, err := parseDay(q.Get("start_date")); err == nil && !t.IsZero() {
		start = &t
	}
	if t, err := parseDay(q.Get("end_date")); err == nil && !t.IsZero() {
		end = &t
	}

	stats, err := s.client(r).EmailStatistics(r.Context(), q.Get("user_email"), start, end)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleCompanyStatistics handles GET /api/statistics/companies
func (s *Server) handleCompanyStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.client(r).CompanyStatistics(r.Context(), r.URL.Query().Get("user_email"))
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleCrawlerHealth handles GET /api/crawler/health
func (s *Server) handleCrawlerHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.client(r).CrawlerHealth(r.Context())
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, health)
}

// handleCrawlerCategories handles GET /api/crawler/categories
func (s *Server) handleCrawlerCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.client(r).CrawlerCategories(r.Context())
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, cats)
}

// handleCrawlStart handles POST /api/crawler/jobs
func (s *Server) handleCrawlStart(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		s.sendError(w, http.StatusServiceUnavailable, "crawler integration is disabled")
		return
	}

	var opts upstream.CrawlJobOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.poller.StartJob(r.Context(), opts)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.metrics.CrawlJobsActive.Set(float64(len(s.poller.Jobs())))
	s.sendJSON(w, http.StatusAccepted, job)
}

// handleCrawlJobs handles GET /api/crawler/jobs
func (s *Server) handleCrawlJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	jobs, err := s.client(r).ListCrawlJobs(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, jobs)
}

// handleCrawlJobGet handles GET /api/crawler/jobs/{id}. The poller's
// cached state answers first; unknown jobs fall through to upstream.
func (s *Server) handleCrawlJobGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.poller != nil {
		if job := s.poller.Job(id); job != nil {
			s.sendJSON(w, http.StatusOK, job)
			return
		}
	}

	job, err := s.client(r).CrawlJobStatus(r.Context(), id)
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, job)
}

// handleCrawlJobDelete handles DELETE /api/crawler/jobs/{id}
func (s *Server) handleCrawlJobDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.client(r).DeleteCrawlJob(r.Context(), id); err != nil {
		s.proxyError(w, r, err)
		return
	}
	if s.poller != nil {
		s.poller.Forget(id)
		s.metrics.CrawlJobsActive.Set(float64(len(s.poller.Jobs())))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCrawlResultFiles handles GET /api/crawler/results/files
func (s *Server) handleCrawlResultFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.client(r).ListCrawlResultFiles(r.Context())
	if err != nil {
		s.proxyError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, files)
}
