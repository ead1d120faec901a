package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnauthorized is returned when the backend rejects the access token.
// Callers use it to invalidate the local session.
var ErrUnauthorized = errors.New("upstream: unauthorized")

// Client is a client for the outreach backend API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	observe    func(method string, err error)
}

// NewClient creates a new backend client. token may be empty for
// unauthenticated calls such as Login.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout overrides the default per-request timeout
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// OnResult installs an observer invoked after every backend call with
// the HTTP method and the call's outcome. Set it before handing out
// WithToken copies so they all share it.
func (c *Client) OnResult(fn func(method string, err error)) {
	c.observe = fn
}

// WithToken returns a copy of the client bound to a different access token
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// request performs an HTTP request against the backend API
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	err := c.doRequest(ctx, method, path, body, result)
	if c.observe != nil {
		c.observe(method, err)
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		detail := errResp.Detail
		if detail == "" {
			detail = errResp.Msg
		}
		if detail == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", detail)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// ListCompanies lists companies from the directory
func (c *Client) ListCompanies(ctx context.Context, p CompanyListParams) (*CompanyListResponse, error) {
	params := url.Values{}
	if p.Skip > 0 {
		params.Set("skip", strconv.Itoa(p.Skip))
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.IsActive != nil {
		params.Set("is_active", strconv.FormatBool(*p.IsActive))
	}
	if p.Search != "" {
		params.Set("search", p.Search)
	}

	path := "/companies"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp CompanyListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCompany gets a company by ID
func (c *Client) GetCompany(ctx context.Context, id string) (*Company, error) {
	var resp Company
	if err := c.request(ctx, http.MethodGet, "/companies/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateCompany creates a new company
func (c *Client) CreateCompany(ctx context.Context, req *CompanyCreateRequest) (*Company, error) {
	var resp Company
	if err := c.request(ctx, http.MethodPost, "/companies", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCompany updates an existing company
func (c *Client) UpdateCompany(ctx context.Context, id string, req *CompanyUpdateRequest) (*Company, error) {
	var resp Company
	if err := c.request(ctx, http.MethodPut, "/companies/"+id, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteCompany deletes a company
func (c *Client) DeleteCompany(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/companies/"+id, nil, nil)
}

// CheckCompanyExists checks whether a company with the given name exists
func (c *Client) CheckCompanyExists(ctx context.Context, name string) (*CompanyExistsResponse, error) {
	var resp CompanyExistsResponse
	if err := c.request(ctx, http.MethodGet, "/companies/check/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListIndustries returns the distinct industry names in use
func (c *Client) ListIndustries(ctx context.Context, activeOnly bool) ([]string, error) {
	path := "/companies/industries?active_only=" + strconv.FormatBool(activeOnly)
	var resp IndustryListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Industries, nil
}

// ListRegions returns the distinct region names in use
func (c *Client) ListRegions(ctx context.Context, activeOnly bool) ([]string, error) {
	path := "/companies/regions?active_only=" + strconv.FormatBool(activeOnly)
	var resp RegionListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Regions, nil
}

// ListTemplates lists email templates
func (c *Client) ListTemplates(ctx context.Context, p TemplateListParams) (*TemplateListResponse, error) {
	params := url.Values{}
	if p.Skip > 0 {
		params.Set("skip", strconv.Itoa(p.Skip))
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.IsActive != nil {
		params.Set("is_active", strconv.FormatBool(*p.IsActive))
	}
	if p.Search != "" {
		params.Set("search", p.Search)
	}

	path := "/mail/templates"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp TemplateListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTemplate gets a template by ID
func (c *Client) GetTemplate(ctx context.Context, id string) (*Template, error) {
	var resp Template
	if err := c.request(ctx, http.MethodGet, "/mail/templates/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTemplateByName gets a template by name
func (c *Client) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	var resp Template
	if err := c.request(ctx, http.MethodGet, "/mail/templates/name/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTemplate creates a new template
func (c *Client) CreateTemplate(ctx context.Context, req *TemplateCreateRequest) (*Template, error) {
	var resp Template
	if err := c.request(ctx, http.MethodPost, "/mail/templates", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateTemplate updates a template
func (c *Client) UpdateTemplate(ctx context.Context, id string, req *TemplateUpdateRequest) (*Template, error) {
	var resp Template
	if err := c.request(ctx, http.MethodPut, "/mail/templates/"+id, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteTemplate soft-deletes a template
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/mail/templates/"+id, nil, nil)
}

// ListTemplateVariables returns the substitution variables templates may use
func (c *Client) ListTemplateVariables(ctx context.Context) (*TemplateVariableListResponse, error) {
	var resp TemplateVariableListResponse
	if err := c.request(ctx, http.MethodGet, "/mail/template-variables", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListHistory lists past send events
func (c *Client) ListHistory(ctx context.Context, p HistoryListParams) (*HistoryListResponse, error) {
	params := url.Values{}
	if p.Skip > 0 {
		params.Set("skip", strconv.Itoa(p.Skip))
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.CompanyID != "" {
		params.Set("company_id", p.CompanyID)
	}
	if p.UserID != "" {
		params.Set("user_id", p.UserID)
	}
	if p.RecipientEmail != "" {
		params.Set("recipient_email", p.RecipientEmail)
	}
	if p.TemplateName != "" {
		params.Set("template_name", p.TemplateName)
	}
	if p.Status != "" {
		params.Set("status", p.Status)
	}
	if p.StartDate != nil {
		params.Set("start_date", p.StartDate.UTC().Format(time.RFC3339))
	}
	if p.EndDate != nil {
		params.Set("end_date", p.EndDate.UTC().Format(time.RFC3339))
	}

	path := "/email-history"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp HistoryListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetHistory gets a single history entry by ID
func (c *Client) GetHistory(ctx context.Context, id string) (*HistoryEntry, error) {
	var resp HistoryEntry
	if err := c.request(ctx, http.MethodGet, "/email-history/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListHistoryByCompany lists send events for one company
func (c *Client) ListHistoryByCompany(ctx context.Context, companyID string, skip, limit int) (*HistoryListResponse, error) {
	params := url.Values{}
	if skip > 0 {
		params.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/email-history/company/" + companyID
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp HistoryListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendBulk asks the backend to send a template to companies. The backend
// performs the actual delivery and returns per-recipient outcomes.
func (c *Client) SendBulk(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := c.request(ctx, http.MethodPost, "/mail/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmailStatistics returns aggregate send statistics
func (c *Client) EmailStatistics(ctx context.Context, userEmail string, start, end *time.Time) (*EmailStatistics, error) {
	params := url.Values{}
	if userEmail != "" {
		params.Set("user_email", userEmail)
	}
	if start != nil {
		params.Set("start_date", start.UTC().Format(time.RFC3339))
	}
	if end != nil {
		params.Set("end_date", end.UTC().Format(time.RFC3339))
	}
	path := "/statistics/email"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp EmailStatistics
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompanyStatistics returns aggregate directory statistics
func (c *Client) CompanyStatistics(ctx context.Context, userEmail string) (*CompanyStatistics, error) {
	path := "/statistics/companies"
	if userEmail != "" {
		path += "?user_email=" + url.QueryEscape(userEmail)
	}

	var resp CompanyStatistics
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates against the backend and returns an access token
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	var resp TokenResponse
	req := LoginRequest{Email: email, Password: password}
	if err := c.request(ctx, http.MethodPost, "/users/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentUser returns the user bound to the client's token
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var resp User
	if err := c.request(ctx, http.MethodGet, "/users/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCurrentUser updates the user bound to the client's token
func (c *Client) UpdateCurrentUser(ctx context.Context, req *UserUpdateRequest) (*User, error) {
	var resp User
	if err := c.request(ctx, http.MethodPut, "/users/me", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListUsers lists staff accounts
func (c *Client) ListUsers(ctx context.Context, skip, limit int, isActive *bool) ([]User, error) {
	params := url.Values{}
	if skip > 0 {
		params.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if isActive != nil {
		params.Set("is_active", strconv.FormatBool(*isActive))
	}
	path := "/users"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp []User
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetUser gets a user by ID
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var resp User
	if err := c.request(ctx, http.MethodGet, "/users/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateUser registers a new staff account
func (c *Client) CreateUser(ctx context.Context, req *UserCreateRequest) (*User, error) {
	var resp User
	if err := c.request(ctx, http.MethodPost, "/users/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateUser updates a staff account
func (c *Client) UpdateUser(ctx context.Context, id string, req *UserUpdateRequest) (*User, error) {
	var resp User
	if err := c.request(ctx, http.MethodPut, "/users/"+id, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteUser deletes a staff account
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/users/"+id, nil, nil)
}
