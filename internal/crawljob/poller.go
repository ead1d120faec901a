package crawljob

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sixtypay/automail/internal/upstream"
)

// Backend is the slice of the crawler API the poller depends on
type Backend interface {
	StartCrawlAll(ctx context.Context, opts upstream.CrawlJobOptions) (*upstream.CrawlJob, error)
	CrawlJobStatus(ctx context.Context, jobID string) (*upstream.CrawlJobStatus, error)
}

// Poller starts discovery crawl jobs upstream and tracks their progress
// until they reach a terminal status.
type Poller struct {
	backend Backend
	logger  *slog.Logger

	pollInterval time.Duration

	mu   sync.Mutex
	jobs map[string]*upstream.CrawlJobStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(backend Backend, pollInterval time.Duration, logger *slog.Logger) *Poller {
	ctx, cancel := context.WithCancel(context.Background())

	return &Poller{
		backend:      backend,
		logger:       logger.With("component", "crawljob"),
		pollInterval: pollInterval,
		jobs:         make(map[string]*upstream.CrawlJobStatus),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the poll loop
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.run()
	p.logger.Info("crawl poller started", "poll_interval", p.pollInterval)
}

// Stop stops the poll loop gracefully
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("crawl poller stopped")
}

// StartJob launches a crawl job upstream and begins tracking it
func (p *Poller) StartJob(ctx context.Context, opts upstream.CrawlJobOptions) (*upstream.CrawlJob, error) {
	job, err := p.backend.StartCrawlAll(ctx, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.jobs[job.JobID] = &upstream.CrawlJobStatus{
		JobID:  job.JobID,
		Status: job.Status,
	}
	p.mu.Unlock()

	p.logger.Info("crawl job started", "job_id", job.JobID, "status", job.Status)
	return job, nil
}

// Track begins polling an already-running job
func (p *Poller) Track(status *upstream.CrawlJobStatus) {
	p.mu.Lock()
	p.jobs[status.JobID] = status
	p.mu.Unlock()
}

// Job returns the last known state of a tracked job, nil when untracked
func (p *Poller) Job(jobID string) *upstream.CrawlJobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[jobID]
}

// Jobs returns the last known state of every tracked job
func (p *Poller) Jobs() []*upstream.CrawlJobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobs := make([]*upstream.CrawlJobStatus, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

// Forget drops a job from tracking
func (p *Poller) Forget(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, jobID)
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// pollOnce refreshes every non-terminal tracked job. Terminal jobs stay
// in the map for status queries until Forget is called.
func (p *Poller) pollOnce() {
	p.mu.Lock()
	pending := make([]string, 0, len(p.jobs))
	for id, job := range p.jobs {
		if !job.Terminal() {
			pending = append(pending, id)
		}
	}
	p.mu.Unlock()

	for _, id := range pending {
		ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
		status, err := p.backend.CrawlJobStatus(ctx, id)
		cancel()
		if err != nil {
			p.logger.Error("crawl status poll failed", "job_id", id, "error", err)
			continue
		}

		p.mu.Lock()
		p.jobs[id] = status
		p.mu.Unlock()

		if status.Terminal() {
			p.logger.Info("crawl job finished",
				"job_id", id,
				"status", status.Status,
				"processed", status.Progress.ProcessedCategories,
				"companies", status.Progress.TotalCompanies,
			)
		}
	}
}
