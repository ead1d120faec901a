package outreach

import (
	"context"

	"github.com/sixtypay/automail/internal/upstream"
)

// buildSendRequest constructs the bulk-send request. ids == nil means
// "all active companies, server-side default filtering". The
// skip-contacted pin for non-admin actors is enforced here so it holds
// for every entry point, not just the ones whose UI hides the option.
func (w *Workflow) buildSendRequest(ids []string) *upstream.SendRequest {
	skip := w.options.SkipContacted
	if !w.actor.Admin {
		skip = true
	}

	templateID := w.templateID
	return &upstream.SendRequest{
		CompanyIDs: ids,
		TemplateID: &templateID,
		// Selection and "send to all" are authoritative; ambient
		// industry/region facets are never forwarded.
		Industry: nil,
		Region:   nil,
		SkipSent: skip,
		Limit:    w.options.MaxRecipients,
	}
}

// DispatchToAll sends the selected template to every active company,
// subject to the backend's default filtering.
func (w *Workflow) DispatchToAll(ctx context.Context) (*upstream.SendResponse, error) {
	return w.dispatch(ctx, false)
}

// DispatchToSelected sends the selected template to the explicit
// selection. Fails fast without a network call when the selection is
// empty.
func (w *Workflow) DispatchToSelected(ctx context.Context) (*upstream.SendResponse, error) {
	return w.dispatch(ctx, true)
}

func (w *Workflow) dispatch(ctx context.Context, selected bool) (*upstream.SendResponse, error) {
	w.mu.Lock()
	if w.sending {
		w.mu.Unlock()
		return nil, ErrDispatchInFlight
	}
	if w.templateID == "" {
		w.mu.Unlock()
		return nil, ErrNoTemplate
	}

	var ids []string
	if selected {
		if len(w.selection) == 0 {
			w.mu.Unlock()
			return nil, ErrEmptySelection
		}
		ids = w.selectedIDsLocked()
	}

	req := w.buildSendRequest(ids)
	w.sending = true
	w.result = nil
	w.mu.Unlock()

	// The flag is released on every path: success, backend error, or
	// panic during the call.
	defer func() {
		w.mu.Lock()
		w.sending = false
		w.mu.Unlock()
	}()

	resp, err := w.backend.SendBulk(ctx, req)
	if err != nil {
		w.logger.Error("bulk dispatch failed", "error", err, "targets", len(ids))
		return nil, err
	}

	w.mu.Lock()
	w.result = resp
	if selected {
		w.selection = make(map[string]struct{})
	}
	w.mu.Unlock()

	w.logger.Info("bulk dispatch completed",
		"total", resp.Total,
		"success", resp.SuccessCount,
		"failed", resp.FailureCount,
		"elapsed_s", resp.ProcessingTime,
	)

	// Send outcomes feed the backend's previously-contacted bookkeeping,
	// so the directory view refreshes after, never concurrent with, the
	// dispatch.
	w.RefreshCompanies(ctx)

	return resp, nil
}

// Sending reports whether a dispatch is in flight
func (w *Workflow) Sending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sending
}

// Result returns the last dispatch outcome, or nil when none is held
func (w *Workflow) Result() *upstream.SendResponse {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// DismissResult drops the held dispatch outcome
func (w *Workflow) DismissResult() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.result = nil
}

// FailureLine is one row of the failure report
type FailureLine struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// Failures enumerates the per-recipient failures of the held result, in
// result order, with a fallback message when the backend gave none.
func (w *Workflow) Failures() []FailureLine {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.result == nil {
		return nil
	}

	var lines []FailureLine
	for _, r := range w.result.Results {
		if r.Success {
			continue
		}
		msg := "Unknown error"
		if r.Error != nil && *r.Error != "" {
			msg = *r.Error
		}
		lines = append(lines, FailureLine{Recipient: r.Recipient, Error: msg})
	}
	return lines
}
