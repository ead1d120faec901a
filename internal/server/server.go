package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sixtypay/automail/internal/audit"
	"github.com/sixtypay/automail/internal/config"
	"github.com/sixtypay/automail/internal/crawljob"
	"github.com/sixtypay/automail/internal/metrics"
	"github.com/sixtypay/automail/internal/session"
	"github.com/sixtypay/automail/internal/store"
	"github.com/sixtypay/automail/internal/upstream"
)

// Server is the dashboard's HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	cfg       *config.Config
	logger    *slog.Logger
	sessions  *session.Store
	upstream  *upstream.Client
	workflows *workflowRegistry
	audit     *audit.Log
	options   *store.OptionsRepository
	settings  *store.SettingsRepository
	poller    *crawljob.Poller
	metrics   *metrics.Metrics

	version   string
	startTime time.Time
}

// NewServer creates the API server. poller may be nil when the crawler
// integration is disabled.
func NewServer(
	cfg *config.Config,
	sessions *session.Store,
	client *upstream.Client,
	auditLog *audit.Log,
	options *store.OptionsRepository,
	settings *store.SettingsRepository,
	poller *crawljob.Poller,
	m *metrics.Metrics,
	version string,
	logger *slog.Logger,
) *Server {
	client.OnResult(func(method string, err error) {
		m.UpstreamRequestsTotal.WithLabelValues(method).Inc()
		if err != nil {
			m.UpstreamErrorsTotal.WithLabelValues(method).Inc()
		}
	})

	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		logger:    logger.With("component", "server"),
		sessions:  sessions,
		upstream:  client,
		workflows: newWorkflowRegistry(client, m, logger),
		audit:     auditLog,
		options:   options,
		settings:  settings,
		poller:    poller,
		metrics:   m,
		version:   version,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		// Everything below requires a live session
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleCurrentUser)
			r.Get("/auth/profile", s.handleProfile)
			r.Put("/auth/profile", s.handleProfileUpdate)

			// Outreach workflow, one instance per session
			r.Route("/workflow", func(r chi.Router) {
				r.Get("/state", s.handleWorkflowState)
				r.Post("/refresh", s.handleWorkflowRefresh)
				r.Post("/search", s.handleWorkflowSearch)
				r.Post("/filters", s.handleWorkflowFilters)
				r.Post("/template", s.handleWorkflowTemplate)
				r.Post("/options", s.handleWorkflowOptions)

				r.Post("/selection/all", s.handleSelectAll)
				r.Post("/selection/none", s.handleSelectNone)
				r.Post("/selection/toggle", s.handleSelectionToggle)

				r.Post("/history/range", s.handleHistoryRange)
				r.Post("/history/clear", s.handleHistoryClear)
				r.Get("/history/{companyID}", s.handleHistoryFor)

				r.Post("/dispatch", s.handleDispatch)
				r.Get("/dispatch/failures", s.handleDispatchFailures)
				r.Post("/dispatch/dismiss", s.handleDispatchDismiss)
			})

			// Dispatch audit log
			r.Get("/audit", s.handleAuditRecent)
			r.Get("/audit/{id}", s.handleAuditGet)

			// Proxied upstream resources
			r.Route("/companies", func(r chi.Router) {
				r.Get("/", s.handleCompanyList)
				r.Post("/", s.handleCompanyCreate)
				r.Get("/exists", s.handleCompanyExists)
				r.Get("/{id}", s.handleCompanyGet)
				r.Put("/{id}", s.handleCompanyUpdate)
				r.Delete("/{id}", s.handleCompanyDelete)
			})

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", s.handleTemplateList)
				r.Post("/", s.handleTemplateCreate)
				r.Get("/variables", s.handleTemplateVariables)
				r.Get("/by-name/{name}", s.handleTemplateGetByName)
				r.Get("/{id}", s.handleTemplateGet)
				r.Put("/{id}", s.handleTemplateUpdate)
				r.Delete("/{id}", s.handleTemplateDelete)
			})

			r.Route("/email-history", func(r chi.Router) {
				r.Get("/", s.handleEmailHistoryList)
				r.Get("/company/{companyID}", s.handleEmailHistoryByCompany)
				r.Get("/{id}", s.handleEmailHistoryGet)
			})

			r.Get("/statistics/email", s.handleEmailStatistics)
			r.Get("/statistics/companies", s.handleCompanyStatistics)

			// Crawler, admin only
			r.Route("/crawler", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/health", s.handleCrawlerHealth)
				r.Get("/categories", s.handleCrawlerCategories)
				r.Post("/jobs", s.handleCrawlStart)
				r.Get("/jobs", s.handleCrawlJobs)
				r.Get("/jobs/{id}", s.handleCrawlJobGet)
				r.Delete("/jobs/{id}", s.handleCrawlJobDelete)
				r.Get("/results/files", s.handleCrawlResultFiles)
			})

			// Local account admin
			r.Route("/users", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/", s.handleUserList)
			})

			// Staff accounts on the outreach backend, admin only
			r.Route("/upstream-users", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/", s.handleUpstreamUserList)
				r.Post("/", s.handleUpstreamUserCreate)
				r.Get("/{id}", s.handleUpstreamUserGet)
				r.Put("/{id}", s.handleUpstreamUserUpdate)
				r.Delete("/{id}", s.handleUpstreamUserDelete)
			})

			// Service-wide settings, admin only
			r.Route("/settings", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/{key}", s.handleSettingGet)
				r.Put("/{key}", s.handleSettingSet)
				r.Delete("/{key}", s.handleSettingDelete)
			})
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.cfg.Server.ListenAddr)
	if s.cfg.Server.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the routes for tests
func (s *Server) Router() http.Handler {
	return s.router
}
