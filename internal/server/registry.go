package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sixtypay/automail/internal/metrics"
	"github.com/sixtypay/automail/internal/outreach"
	"github.com/sixtypay/automail/internal/session"
	"github.com/sixtypay/automail/internal/upstream"
)

// workflowRegistry holds one outreach workflow per login session. A
// workflow is created lazily on first use and torn down at logout or
// when its session expires.
type workflowRegistry struct {
	upstream *upstream.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	workflows map[string]*outreach.Workflow
}

func newWorkflowRegistry(client *upstream.Client, m *metrics.Metrics, logger *slog.Logger) *workflowRegistry {
	return &workflowRegistry{
		upstream:  client,
		logger:    logger,
		metrics:   m,
		workflows: make(map[string]*outreach.Workflow),
	}
}

// get returns the session's workflow, creating and priming it on first
// access. The workflow's backend carries the session's upstream token.
// configure, when non-nil, runs on a freshly created workflow before
// its initial loads.
func (r *workflowRegistry) get(ctx context.Context, sess *session.Session, user *session.User, configure func(*outreach.Workflow)) (*outreach.Workflow, bool) {
	r.mu.Lock()
	if w, ok := r.workflows[sess.ID]; ok {
		r.mu.Unlock()
		return w, false
	}

	backend := r.upstream
	if sess.UpstreamToken != "" {
		backend = r.upstream.WithToken(sess.UpstreamToken)
	}
	w := outreach.New(backend, outreach.Actor{
		ID:    user.ID,
		Email: user.Email,
		Admin: user.Admin,
	}, r.logger)
	r.workflows[sess.ID] = w
	r.metrics.WorkflowsActive.Set(float64(len(r.workflows)))
	r.mu.Unlock()

	if configure != nil {
		configure(w)
	}
	w.Start(ctx)
	return w, true
}

// peek returns the session's workflow without creating one
func (r *workflowRegistry) peek(sessionID string) *outreach.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workflows[sessionID]
}

// remove tears down the session's workflow
func (r *workflowRegistry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workflows[sessionID]; ok {
		w.Close()
		delete(r.workflows, sessionID)
		r.metrics.WorkflowsActive.Set(float64(len(r.workflows)))
	}
}
