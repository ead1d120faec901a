package crawljob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sixtypay/automail/internal/upstream"
)

type fakeCrawler struct {
	mu       sync.Mutex
	startErr error
	statuses map[string][]*upstream.CrawlJobStatus
	polls    map[string]int
}

func (f *fakeCrawler) StartCrawlAll(ctx context.Context, opts upstream.CrawlJobOptions) (*upstream.CrawlJob, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &upstream.CrawlJob{JobID: "job-1", Status: "started"}, nil
}

func (f *fakeCrawler) CrawlJobStatus(ctx context.Context, jobID string) (*upstream.CrawlJobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq := f.statuses[jobID]
	if len(seq) == 0 {
		return nil, errors.New("unknown job")
	}
	i := f.polls[jobID]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	f.polls[jobID]++
	return seq[i], nil
}

func (f *fakeCrawler) pollCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[jobID]
}

func newTestPoller(t *testing.T, backend *fakeCrawler) *Poller {
	t.Helper()
	if backend.polls == nil {
		backend.polls = make(map[string]int)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(backend, 5*time.Millisecond, logger)
}

func TestStartJobTracks(t *testing.T) {
	backend := &fakeCrawler{}
	p := newTestPoller(t, backend)

	job, err := p.StartJob(context.Background(), upstream.CrawlJobOptions{})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if got := p.Job(job.JobID); got == nil || got.Status != "started" {
		t.Fatalf("tracked job = %+v", got)
	}
	if len(p.Jobs()) != 1 {
		t.Fatalf("tracked jobs = %d, want 1", len(p.Jobs()))
	}
}

func TestStartJobErrorNotTracked(t *testing.T) {
	backend := &fakeCrawler{startErr: errors.New("crawler down")}
	p := newTestPoller(t, backend)

	if _, err := p.StartJob(context.Background(), upstream.CrawlJobOptions{}); err == nil {
		t.Fatal("start succeeded against failing backend")
	}
	if len(p.Jobs()) != 0 {
		t.Fatalf("tracked jobs = %d, want 0", len(p.Jobs()))
	}
}

func TestPollUntilTerminal(t *testing.T) {
	backend := &fakeCrawler{
		statuses: map[string][]*upstream.CrawlJobStatus{
			"job-1": {
				{JobID: "job-1", Status: "running", Progress: upstream.CrawlJobProgress{ProcessedCategories: 1}},
				{JobID: "job-1", Status: "running", Progress: upstream.CrawlJobProgress{ProcessedCategories: 2}},
				{JobID: "job-1", Status: "completed", Progress: upstream.CrawlJobProgress{ProcessedCategories: 3, TotalCompanies: 42}},
			},
		},
	}
	p := newTestPoller(t, backend)
	p.Track(&upstream.CrawlJobStatus{JobID: "job-1", Status: "running"})

	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		job := p.Job("job-1")
		if job != nil && job.Terminal() {
			if job.Progress.TotalCompanies != 42 {
				t.Fatalf("terminal job = %+v", job)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached terminal state: %+v", job)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Terminal jobs are not polled again.
	polls := backend.pollCount("job-1")
	time.Sleep(30 * time.Millisecond)
	if got := backend.pollCount("job-1"); got != polls {
		t.Fatalf("terminal job polled again: %d -> %d", polls, got)
	}

	p.Forget("job-1")
	if p.Job("job-1") != nil {
		t.Fatal("job survived Forget")
	}
}

func TestPollErrorKeepsLastState(t *testing.T) {
	backend := &fakeCrawler{statuses: map[string][]*upstream.CrawlJobStatus{}}
	p := newTestPoller(t, backend)
	p.Track(&upstream.CrawlJobStatus{JobID: "ghost", Status: "running"})

	p.pollOnce()

	if got := p.Job("ghost"); got == nil || got.Status != "running" {
		t.Fatalf("job state after failed poll = %+v", got)
	}
}
