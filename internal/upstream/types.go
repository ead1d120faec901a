package upstream

import "time"

// UserInfo is a compact user reference embedded in other resources
type UserInfo struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	FullName *string `json:"full_name"`
}

// NamedCategory is an industry or region attached to a company
type NamedCategory struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Code *string `json:"code,omitempty"`
}

// Company is a company record from the directory
type Company struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	ContactPhone *string        `json:"contact_phone"`
	ContactEmail *string        `json:"contact_email"`
	Address      *string        `json:"address"`
	Industry     *NamedCategory `json:"industry"`
	Region       *NamedCategory `json:"region"`
	Description  *string        `json:"description"`
	CreatedBy    *string        `json:"created_by"`
	Creator      *UserInfo      `json:"creator"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DisplayEmail returns the preferred outreach address for a company
func (c *Company) DisplayEmail() string {
	if c.ContactEmail != nil && *c.ContactEmail != "" {
		return *c.ContactEmail
	}
	return c.Email
}

// CompanyListResponse is the response for GET /companies
type CompanyListResponse struct {
	Total int       `json:"total"`
	Items []Company `json:"items"`
	Skip  int       `json:"skip"`
	Limit int       `json:"limit"`
}

// CompanyListParams filters GET /companies
type CompanyListParams struct {
	Skip     int
	Limit    int
	IsActive *bool
	Search   string
}

// CompanyCreateRequest is the body for POST /companies
type CompanyCreateRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	ContactPhone *string `json:"contact_phone,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
	Address      *string `json:"address,omitempty"`
	IndustryID   *string `json:"industry_id,omitempty"`
	RegionID     *string `json:"region_id,omitempty"`
	Description  *string `json:"description,omitempty"`
}

// CompanyUpdateRequest is the body for PUT /companies/{id}
type CompanyUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	Email        *string `json:"email,omitempty"`
	ContactPhone *string `json:"contact_phone,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
	Address      *string `json:"address,omitempty"`
	IndustryID   *string `json:"industry_id,omitempty"`
	RegionID     *string `json:"region_id,omitempty"`
	Description  *string `json:"description,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// CompanyExistsResponse is the response for GET /companies/check/{name}
type CompanyExistsResponse struct {
	Exists  bool     `json:"exists"`
	Company *Company `json:"company"`
}

// IndustryListResponse is the response for GET /companies/industries
type IndustryListResponse struct {
	Industries []string `json:"industries"`
	Count      int      `json:"count"`
}

// RegionListResponse is the response for GET /companies/regions
type RegionListResponse struct {
	Regions []string `json:"regions"`
	Count   int      `json:"count"`
}

// Template is an email template
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsHTML      bool      `json:"is_html"`
	CreatedBy   *string   `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateListResponse is the response for GET /mail/templates
type TemplateListResponse struct {
	Total int        `json:"total"`
	Items []Template `json:"items"`
}

// TemplateListParams filters GET /mail/templates
type TemplateListParams struct {
	Skip     int
	Limit    int
	IsActive *bool
	Search   string
}

// TemplateCreateRequest is the body for POST /mail/templates
type TemplateCreateRequest struct {
	Name        string  `json:"name"`
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	Description *string `json:"description,omitempty"`
}

// TemplateUpdateRequest is the body for PUT /mail/templates/{id}
type TemplateUpdateRequest struct {
	Subject     *string `json:"subject,omitempty"`
	Body        *string `json:"body,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// TemplateVariable describes a substitution variable templates may use
type TemplateVariable struct {
	Name         string  `json:"name"`
	DisplayName  string  `json:"display_name"`
	Description  string  `json:"description"`
	SourceType   string  `json:"source_type"`
	SourceTable  *string `json:"source_table,omitempty"`
	SourceColumn *string `json:"source_column,omitempty"`
	Syntax       string  `json:"jinja2_syntax"`
	ExampleValue *string `json:"example_value,omitempty"`
	IsRequired   bool    `json:"is_required"`
	Category     string  `json:"category"`
}

// TemplateVariableListResponse is the response for GET /mail/template-variables
type TemplateVariableListResponse struct {
	Variables  []TemplateVariable `json:"variables"`
	Categories []string           `json:"categories"`
}

// HistoryEntry is one past send event
type HistoryEntry struct {
	ID             string    `json:"id"`
	CompanyID      *string   `json:"company_id"`
	UserID         *string   `json:"user_id"`
	User           *UserInfo `json:"user"`
	RecipientEmail string    `json:"recipient_email"`
	RecipientName  *string   `json:"recipient_name"`
	SenderEmail    string    `json:"sender_email"`
	SenderName     *string   `json:"sender_name"`
	Subject        string    `json:"subject"`
	TemplateName   *string   `json:"template_name"`
	Status         string    `json:"status"`
	MessageID      *string   `json:"message_id"`
	ErrorMessage   *string   `json:"error_message"`
	SentAt         time.Time `json:"sent_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryListResponse is the response for GET /email-history
type HistoryListResponse struct {
	Total int            `json:"total"`
	Items []HistoryEntry `json:"items"`
}

// HistoryListParams filters GET /email-history
type HistoryListParams struct {
	Skip           int
	Limit          int
	CompanyID      string
	UserID         string
	RecipientEmail string
	TemplateName   string
	Status         string
	StartDate      *time.Time
	EndDate        *time.Time
}

// SendRequest is the body for POST /mail/send. A nil CompanyIDs means
// "all active companies subject to server-side default filtering".
type SendRequest struct {
	CompanyIDs   []string `json:"company_ids"`
	TemplateID   *string  `json:"template_id"`
	TemplateName *string  `json:"template_name"`
	Industry     *string  `json:"industry"`
	Region       *string  `json:"region"`
	SkipSent     bool     `json:"skip_sent"`
	Limit        int      `json:"limit"`
}

// SendResult is the per-recipient outcome of a bulk send
type SendResult struct {
	Success   bool    `json:"success"`
	Recipient string  `json:"recipient"`
	MessageID *string `json:"message_id"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
}

// SendResponse is the response for POST /mail/send
type SendResponse struct {
	Total          int          `json:"total"`
	SuccessCount   int          `json:"success_count"`
	FailureCount   int          `json:"failure_count"`
	Results        []SendResult `json:"results"`
	ProcessingTime float64      `json:"processing_time"`
}

// EmailStatistics is the response for GET /statistics/email
type EmailStatistics struct {
	UserEmail    *string `json:"user_email"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
	TotalCount   int     `json:"total_count"`
	SentCount    int     `json:"sent_count"`
	FailedCount  int     `json:"failed_count"`
	PendingCount int     `json:"pending_count"`
}

// CompanyStatistics is the response for GET /statistics/companies
type CompanyStatistics struct {
	UserEmail     *string `json:"user_email"`
	TotalCount    int     `json:"total_count"`
	ActiveCount   int     `json:"active_count"`
	InactiveCount int     `json:"inactive_count"`
}

// User is a staff account on the outreach backend
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FullName    *string    `json:"full_name"`
	IsAdmin     bool       `json:"is_admin"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LoginRequest is the body for POST /users/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the response for POST /users/login
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// UserCreateRequest is the body for POST /users/register
type UserCreateRequest struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	FullName *string `json:"full_name,omitempty"`
	Password string  `json:"password"`
}

// UserUpdateRequest is the body for PUT /users/{id}
type UserUpdateRequest struct {
	Email    *string `json:"email,omitempty"`
	Username *string `json:"username,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Password *string `json:"password,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	IsAdmin  *bool   `json:"is_admin,omitempty"`
}

// ErrorResponse is the error body returned by the backend
type ErrorResponse struct {
	Detail string `json:"detail"`
	Msg    string `json:"msg"`
}
