package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sixtypay/automail/internal/audit"
	"github.com/sixtypay/automail/internal/config"
	"github.com/sixtypay/automail/internal/metrics"
	"github.com/sixtypay/automail/internal/outreach"
	"github.com/sixtypay/automail/internal/session"
	"github.com/sixtypay/automail/internal/store"
	"github.com/sixtypay/automail/internal/upstream"
)

// fakeUpstream is an httptest server speaking just enough of the
// outreach backend's API for the handlers under test.
type fakeUpstream struct {
	*httptest.Server
	sendCalls    atomic.Int64
	loginOK      bool
	lastSendBody []byte
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{loginOK: true}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/login", func(w http.ResponseWriter, r *http.Request) {
		if !f.loginOK {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "bad credentials"})
			return
		}
		json.NewEncoder(w).Encode(upstream.TokenResponse{AccessToken: "upstream-tok", TokenType: "bearer"})
	})
	mux.HandleFunc("GET /companies", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstream.CompanyListResponse{
			Total: 2,
			Items: []upstream.Company{
				{ID: "A", Name: "Alpha", Email: "a@example.com", IsActive: true},
				{ID: "B", Name: "Beta", Email: "b@example.com", IsActive: true},
			},
		})
	})
	mux.HandleFunc("GET /companies/industries", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstream.IndustryListResponse{Industries: []string{"Tech"}})
	})
	mux.HandleFunc("GET /companies/regions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstream.RegionListResponse{Regions: []string{"North"}})
	})
	mux.HandleFunc("GET /mail/templates", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstream.TemplateListResponse{
			Total: 2,
			Items: []upstream.Template{
				{ID: "t1", Name: "welcome", IsActive: true},
				{ID: "t2", Name: "newsletter", IsActive: true},
			},
		})
	})
	mux.HandleFunc("GET /mail/templates/name/{name}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstream.Template{ID: "t2", Name: r.PathValue("name"), IsActive: true})
	})
	historyPage := func() upstream.HistoryListResponse {
		companyA := "A"
		return upstream.HistoryListResponse{
			Total: 1,
			Items: []upstream.HistoryEntry{{
				ID: "h1", CompanyID: &companyA, RecipientEmail: "a@example.com",
				Status: "sent", SentAt: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
			}},
		}
	}
	mux.HandleFunc("GET /email-history", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(historyPage())
	})
	mux.HandleFunc("GET /email-history/company/{companyID}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(historyPage())
	})
	mux.HandleFunc("GET /email-history/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(historyPage().Items[0])
	})
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstream.User{ID: "uu1", Email: "staff@example.com", Username: "staff"})
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]upstream.User{
			{ID: "uu1", Email: "staff@example.com", Username: "staff"},
		})
	})
	mux.HandleFunc("POST /mail/send", func(w http.ResponseWriter, r *http.Request) {
		f.sendCalls.Add(1)
		f.lastSendBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(upstream.SendResponse{
			Total: 1, SuccessCount: 1,
			Results:        []upstream.SendResult{{Success: true, Recipient: "a@example.com"}},
			ProcessingTime: 0.2,
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

type testEnv struct {
	srv      *Server
	sessions *session.Store
	fake     *fakeUpstream
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	fake := newFakeUpstream(t)

	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewStore(db, time.Hour, logger)
	if _, err := sessions.CreateUser("admin@example.com", "hunter22", "Admin", true); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := sessions.CreateUser("staff@example.com", "hunter22", "Staff", false); err != nil {
		t.Fatalf("create staff: %v", err)
	}

	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	cfg := &config.Config{}
	cfg.Upstream.BaseURL = fake.URL

	m := metrics.New()
	srv := NewServer(
		cfg,
		sessions,
		upstream.NewClient(fake.URL, ""),
		auditLog,
		store.NewOptionsRepository(db),
		store.NewSettingsRepository(db),
		nil,
		m,
		"test",
		logger,
	)
	return &testEnv{srv: srv, sessions: sessions, fake: fake, metrics: m}
}

// login authenticates through the API and returns the session cookie
func (e *testEnv) login(t *testing.T, email string) *http.Cookie {
	t.Helper()

	body, _ := json.Marshal(LoginRequest{Email: email, Password: "hunter22"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func (e *testEnv) do(t *testing.T, method, path string, cookie *http.Cookie, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	e := newTestServer(t)
	rec := e.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
}

func TestLoginBadPassword(t *testing.T) {
	e := newTestServer(t)
	rec := e.do(t, http.MethodPost, "/api/auth/login", nil,
		LoginRequest{Email: "staff@example.com", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login = %d, want 401", rec.Code)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	e := newTestServer(t)
	rec := e.do(t, http.MethodGet, "/api/workflow/state", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("state without session = %d, want 401", rec.Code)
	}
}

func TestWorkflowStateAfterLogin(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodGet, "/api/workflow/state", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state = %d: %s", rec.Code, rec.Body.String())
	}

	var st outreach.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(st.Companies) != 2 {
		t.Errorf("companies = %d, want 2", len(st.Companies))
	}
	if st.TemplateID != "t1" {
		t.Errorf("template id = %s, want t1", st.TemplateID)
	}
	if len(st.Industries) != 1 || len(st.Regions) != 1 {
		t.Errorf("facets = %v / %v", st.Industries, st.Regions)
	}
}

func TestDispatchRequiresConfirm(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodPost, "/api/workflow/dispatch", cookie,
		DispatchRequest{Mode: "all", Confirm: false})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed dispatch = %d, want 400", rec.Code)
	}
	if e.fake.sendCalls.Load() != 0 {
		t.Fatal("unconfirmed dispatch reached upstream")
	}
}

func TestDispatchSelectedFlow(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	// Prime the workflow and select a company.
	if rec := e.do(t, http.MethodGet, "/api/workflow/state", cookie, nil); rec.Code != http.StatusOK {
		t.Fatalf("state = %d", rec.Code)
	}
	rec := e.do(t, http.MethodPost, "/api/workflow/selection/toggle", cookie,
		map[string]any{"id": "A", "selected": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/workflow/dispatch", cookie,
		DispatchRequest{Mode: "selected", Confirm: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch = %d: %s", rec.Code, rec.Body.String())
	}
	if e.fake.sendCalls.Load() != 1 {
		t.Fatalf("upstream send calls = %d, want 1", e.fake.sendCalls.Load())
	}

	// Non-admin requests always skip previously contacted companies.
	var sent upstream.SendRequest
	if err := json.Unmarshal(e.fake.lastSendBody, &sent); err != nil {
		t.Fatalf("decode send body: %v", err)
	}
	if !sent.SkipSent {
		t.Error("non-admin dispatch without skip_sent")
	}
	if len(sent.CompanyIDs) != 1 || sent.CompanyIDs[0] != "A" {
		t.Errorf("company ids = %v", sent.CompanyIDs)
	}

	// The dispatch is recorded in the audit log.
	rec = e.do(t, http.MethodGet, "/api/audit", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit = %d", rec.Code)
	}
	var records []audit.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(records) != 1 || records[0].SuccessCount != 1 {
		t.Fatalf("audit records = %+v", records)
	}
}

func TestDispatchEmptySelection(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodPost, "/api/workflow/dispatch", cookie,
		DispatchRequest{Mode: "selected", Confirm: true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty-selection dispatch = %d, want 400", rec.Code)
	}
	if e.fake.sendCalls.Load() != 0 {
		t.Fatal("empty-selection dispatch reached upstream")
	}
}

func TestHistoryRange(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodPost, "/api/workflow/history/range", cookie,
		map[string]string{"start_date": "2026-03-01", "end_date": "2026-03-10"})
	if rec.Code != http.StatusOK {
		t.Fatalf("range = %d: %s", rec.Code, rec.Body.String())
	}

	var st outreach.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !st.HistoryApplied {
		t.Error("history not applied")
	}
	if len(st.HighlightedDays) != 1 || st.HighlightedDays[0] != "2026-03-05" {
		t.Errorf("highlighted days = %v", st.HighlightedDays)
	}

	// Missing dates are rejected before hitting upstream.
	rec = e.do(t, http.MethodPost, "/api/workflow/history/range", cookie,
		map[string]string{"start_date": "2026-03-01"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("partial range = %d, want 400", rec.Code)
	}

	// Clearing drops the index.
	rec = e.do(t, http.MethodPost, "/api/workflow/history/clear", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.HistoryApplied || len(st.HighlightedDays) != 0 {
		t.Errorf("state after clear = applied %v days %v", st.HistoryApplied, st.HighlightedDays)
	}
}

func TestAdminRoutesForbiddenForStaff(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodGet, "/api/users/", cookie, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff user list = %d, want 403", rec.Code)
	}

	admin := e.login(t, "admin@example.com")
	rec = e.do(t, http.MethodGet, "/api/users/", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin user list = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutTearsDownSession(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodPost, "/api/auth/logout", cookie, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/workflow/state", cookie, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("state after logout = %d, want 401", rec.Code)
	}
}

func TestRepeatLogoutKeepsSessionsGauge(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	if got := testutil.ToFloat64(e.metrics.SessionsActive); got != 1 {
		t.Fatalf("sessions gauge after login = %v, want 1", got)
	}

	rec := e.do(t, http.MethodPost, "/api/auth/logout", cookie, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d", rec.Code)
	}

	// Replaying the stale cookie must not move the gauge again.
	rec = e.do(t, http.MethodPost, "/api/auth/logout", cookie, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("repeat logout = %d", rec.Code)
	}

	if got := testutil.ToFloat64(e.metrics.SessionsActive); got != 0 {
		t.Fatalf("sessions gauge after repeat logout = %v, want 0", got)
	}
}

func TestEmailHistoryProxy(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodGet, "/api/email-history/?company_id=A&start_date=2026-03-01", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history list = %d: %s", rec.Code, rec.Body.String())
	}
	var list upstream.HistoryListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("history list = %+v", list)
	}

	rec = e.do(t, http.MethodGet, "/api/email-history/h1", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history get = %d: %s", rec.Code, rec.Body.String())
	}
	var entry upstream.HistoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.ID != "h1" {
		t.Errorf("entry id = %s, want h1", entry.ID)
	}

	rec = e.do(t, http.MethodGet, "/api/email-history/company/A", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history by company = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTemplateByNameProxy(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodGet, "/api/templates/by-name/newsletter", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("template by name = %d: %s", rec.Code, rec.Body.String())
	}
	var tpl upstream.Template
	if err := json.Unmarshal(rec.Body.Bytes(), &tpl); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	if tpl.Name != "newsletter" {
		t.Errorf("template name = %s", tpl.Name)
	}
}

func TestProfileProxy(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodGet, "/api/auth/profile", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile = %d: %s", rec.Code, rec.Body.String())
	}
	var user upstream.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if user.Email != "staff@example.com" {
		t.Errorf("profile email = %s", user.Email)
	}
}

func TestUpstreamUserRoutesAdminOnly(t *testing.T) {
	e := newTestServer(t)

	staff := e.login(t, "staff@example.com")
	rec := e.do(t, http.MethodGet, "/api/upstream-users/", staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff upstream user list = %d, want 403", rec.Code)
	}

	admin := e.login(t, "admin@example.com")
	rec = e.do(t, http.MethodGet, "/api/upstream-users/", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin upstream user list = %d: %s", rec.Code, rec.Body.String())
	}
	var users []upstream.User
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("users = %d, want 1", len(users))
	}
}

func TestDefaultTemplateSetting(t *testing.T) {
	e := newTestServer(t)

	staff := e.login(t, "staff@example.com")
	rec := e.do(t, http.MethodPut, "/api/settings/default_template", staff,
		map[string]string{"value": "newsletter"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff setting write = %d, want 403", rec.Code)
	}

	admin := e.login(t, "admin@example.com")
	rec = e.do(t, http.MethodPut, "/api/settings/default_template", admin,
		map[string]string{"value": "newsletter"})
	if rec.Code != http.StatusOK {
		t.Fatalf("setting write = %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/settings/default_template", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("setting read = %d", rec.Code)
	}
	var setting SettingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &setting); err != nil {
		t.Fatalf("decode setting: %v", err)
	}
	if setting.Value != "newsletter" {
		t.Errorf("setting value = %q, want newsletter", setting.Value)
	}

	// A workflow created after the change auto-selects the configured
	// template instead of the first in the list.
	rec = e.do(t, http.MethodGet, "/api/workflow/state", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state = %d: %s", rec.Code, rec.Body.String())
	}
	var st outreach.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.TemplateID != "t2" {
		t.Errorf("template id = %s, want t2", st.TemplateID)
	}
}

func TestUpstreamCallsCounted(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	before := testutil.ToFloat64(e.metrics.UpstreamRequestsTotal.WithLabelValues(http.MethodGet))
	rec := e.do(t, http.MethodGet, "/api/companies/", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("company list = %d", rec.Code)
	}
	after := testutil.ToFloat64(e.metrics.UpstreamRequestsTotal.WithLabelValues(http.MethodGet))
	if after != before+1 {
		t.Errorf("upstream GET counter %v -> %v, want +1", before, after)
	}
	if got := testutil.ToFloat64(e.metrics.UpstreamErrorsTotal.WithLabelValues(http.MethodGet)); got != 0 {
		t.Errorf("upstream error counter = %v, want 0", got)
	}
}

func TestCompanyProxy(t *testing.T) {
	e := newTestServer(t)
	cookie := e.login(t, "staff@example.com")

	rec := e.do(t, http.MethodGet, "/api/companies/", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("company list = %d: %s", rec.Code, rec.Body.String())
	}
	var resp upstream.CompanyListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
}
