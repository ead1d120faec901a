package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// CrawlHealth is the response for GET /crawler/health
type CrawlHealth struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		BaseURL string `json:"base_url"`
	} `json:"data,omitempty"`
}

// CrawlCategory is one node of the crawl target's category tree
type CrawlCategory struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Level  int    `json:"level"`
	Parent string `json:"parent,omitempty"`
	Count  *int   `json:"count,omitempty"`
}

// CrawlCategoryList is the response for GET /crawler/categories/simple
type CrawlCategoryList struct {
	Total      int             `json:"total"`
	Categories []CrawlCategory `json:"categories"`
}

// CrawlJobOptions configures a full-catalog crawl
type CrawlJobOptions struct {
	MaxCompaniesPerCategory int  `json:"max_companies_per_category"`
	ExtractDetails          bool `json:"extract_details"`
	CategoryLevel           int  `json:"category_level"`
	MaxCategories           int  `json:"max_categories"`
}

// CrawlJob is the acknowledgement returned when a crawl job is started
type CrawlJob struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	EstimatedTime string `json:"estimated_time,omitempty"`
}

// CrawlJobProgress reports how far a running job has advanced
type CrawlJobProgress struct {
	TotalCategories     int    `json:"total_categories"`
	ProcessedCategories int    `json:"processed_categories"`
	TotalCompanies      int    `json:"total_companies"`
	CurrentCategory     string `json:"current_category,omitempty"`
}

// CrawlJobStatus is the full state of a crawl job
type CrawlJobStatus struct {
	JobID    string           `json:"job_id"`
	Status   string           `json:"status"`
	Progress CrawlJobProgress `json:"progress"`
	Result   *struct {
		TotalCompanies  int    `json:"total_companies"`
		TotalCategories int    `json:"total_categories"`
		FilePath        string `json:"file_path,omitempty"`
	} `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job has finished, successfully or not
func (s *CrawlJobStatus) Terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// CrawlResultFile is a file produced by a finished crawl job
type CrawlResultFile struct {
	Filename  string    `json:"filename"`
	Filepath  string    `json:"filepath"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobID     string    `json:"job_id,omitempty"`
}

// CrawlerHealth checks the crawler backend
func (c *Client) CrawlerHealth(ctx context.Context) (*CrawlHealth, error) {
	var resp CrawlHealth
	if err := c.request(ctx, http.MethodGet, "/crawler/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CrawlerCategories returns the crawl target's category list
func (c *Client) CrawlerCategories(ctx context.Context) (*CrawlCategoryList, error) {
	var resp CrawlCategoryList
	if err := c.request(ctx, http.MethodGet, "/crawler/categories/simple", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartCrawlAll starts a background job crawling every category
func (c *Client) StartCrawlAll(ctx context.Context, opts CrawlJobOptions) (*CrawlJob, error) {
	params := url.Values{}
	params.Set("max_companies_per_category", strconv.Itoa(opts.MaxCompaniesPerCategory))
	params.Set("extract_details", strconv.FormatBool(opts.ExtractDetails))
	level := opts.CategoryLevel
	if level == 0 {
		level = 3
	}
	params.Set("category_level", strconv.Itoa(level))
	params.Set("max_categories", strconv.Itoa(opts.MaxCategories))

	var resp CrawlJob
	if err := c.request(ctx, http.MethodPost, "/crawler/companies/all?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CrawlJobStatus fetches the state of one crawl job
func (c *Client) CrawlJobStatus(ctx context.Context, jobID string) (*CrawlJobStatus, error) {
	var resp CrawlJobStatus
	if err := c.request(ctx, http.MethodGet, "/crawler/jobs/"+jobID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListCrawlJobs lists crawl jobs, optionally filtered by status
func (c *Client) ListCrawlJobs(ctx context.Context, status string, limit int) ([]CrawlJobStatus, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status_filter", status)
	}
	if limit <= 0 {
		limit = 20
	}
	params.Set("limit", strconv.Itoa(limit))

	var resp []CrawlJobStatus
	if err := c.request(ctx, http.MethodGet, "/crawler/jobs?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteCrawlJob removes a crawl job record
func (c *Client) DeleteCrawlJob(ctx context.Context, jobID string) error {
	return c.request(ctx, http.MethodDelete, "/crawler/jobs/"+jobID, nil, nil)
}

// ListCrawlResultFiles lists files produced by finished jobs
func (c *Client) ListCrawlResultFiles(ctx context.Context) ([]CrawlResultFile, error) {
	var resp []CrawlResultFile
	if err := c.request(ctx, http.MethodGet, "/crawler/results/files", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
