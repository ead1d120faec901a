package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sixtypay/automail/internal/audit"
	"github.com/sixtypay/automail/internal/outreach"
	"github.com/sixtypay/automail/internal/upstream"
)

// workflow resolves the request's session to its outreach workflow. On
// first access the user's persisted send options and the service-wide
// default template setting are applied before the initial loads.
func (s *Server) workflow(r *http.Request) *outreach.Workflow {
	user := currentUser(r)
	wf, _ := s.workflows.get(r.Context(), currentSession(r), user, func(wf *outreach.Workflow) {
		if name, err := s.settings.GetSetting(settingDefaultTemplate); err != nil {
			s.logger.Error("failed to load default template setting", "error", err)
		} else {
			wf.SetDefaultTemplateName(name)
		}

		saved, err := s.options.Get(user.ID)
		if err != nil {
			s.logger.Error("failed to load send options", "error", err, "user", user.Email)
		} else if saved != nil {
			wf.SetOptions(outreach.Options{
				SkipContacted: saved.SkipContacted,
				MaxRecipients: saved.MaxRecipients,
			})
		}
	})
	return wf
}

// handleWorkflowState handles GET /api/workflow/state
func (s *Server) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.workflow(r).Snapshot())
}

// handleWorkflowRefresh handles POST /api/workflow/refresh
func (s *Server) handleWorkflowRefresh(w http.ResponseWriter, r *http.Request) {
	wf := s.workflow(r)
	if err := wf.RefreshCompanies(r.Context()); err != nil {
		s.sendError(w, http.StatusBadGateway, "failed to refresh companies")
		return
	}
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleWorkflowSearch handles POST /api/workflow/search. The refetch is
// debounced inside the workflow; the snapshot returned here still shows
// the previous company list.
func (s *Server) handleWorkflowSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf := s.workflow(r)
	wf.SetSearch(req.Query)
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleWorkflowFilters handles POST /api/workflow/filters
func (s *Server) handleWorkflowFilters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Industry  *string `json:"industry"`
		Region    *string `json:"region"`
		Contacted *string `json:"contacted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf := s.workflow(r)
	if req.Industry != nil {
		wf.SetIndustryFilter(*req.Industry)
	}
	if req.Region != nil {
		wf.SetRegionFilter(*req.Region)
	}
	if req.Contacted != nil {
		switch f := outreach.ContactedFilter(*req.Contacted); f {
		case outreach.ContactedAll, outreach.ContactedYes, outreach.ContactedNo:
			wf.SetContactedFilter(f)
		default:
			s.sendError(w, http.StatusBadRequest, "invalid contacted filter")
			return
		}
	}
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleWorkflowTemplate handles POST /api/workflow/template
func (s *Server) handleWorkflowTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf := s.workflow(r)
	if err := wf.SetTemplate(req.ID); err != nil {
		s.sendError(w, http.StatusBadRequest, "unknown template")
		return
	}
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleWorkflowOptions handles POST /api/workflow/options. Options are
// applied to the live workflow and persisted for the next login.
func (s *Server) handleWorkflowOptions(w http.ResponseWriter, r *http.Request) {
	var req outreach.Options
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxRecipients < 0 || req.MaxRecipients > outreach.MaxPageSize {
		s.sendError(w, http.StatusBadRequest, "max_recipients out of range")
		return
	}

	wf := s.workflow(r)
	wf.SetOptions(req)

	applied := wf.Options()
	user := currentUser(r)
	if err := s.options.Set(user.ID, applied.SkipContacted, applied.MaxRecipients); err != nil {
		s.logger.Error("failed to persist send options", "error", err, "user", user.Email)
	}
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleSelectAll handles POST /api/workflow/selection/all
func (s *Server) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	wf := s.workflow(r)
	wf.SelectAllVisible()
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleSelectNone handles POST /api/workflow/selection/none
func (s *Server) handleSelectNone(w http.ResponseWriter, r *http.Request) {
	wf := s.workflow(r)
	wf.SelectNone()
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleSelectionToggle handles POST /api/workflow/selection/toggle
func (s *Server) handleSelectionToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Selected bool   `json:"selected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf := s.workflow(r)
	wf.Toggle(req.ID, req.Selected)
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleHistoryRange handles POST /api/workflow/history/range
func (s *Server) handleHistoryRange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := parseDay(req.StartDate)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid start_date")
		return
	}
	end, err := parseDay(req.EndDate)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid end_date")
		return
	}

	wf := s.workflow(r)
	if err := wf.ApplyDateRange(r.Context(), start, end); err != nil {
		if errors.Is(err, outreach.ErrMissingDates) {
			s.sendError(w, http.StatusBadRequest, "both start and end dates are required")
			return
		}
		s.sendError(w, http.StatusBadGateway, "failed to fetch history")
		return
	}
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleHistoryClear handles POST /api/workflow/history/clear
func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	wf := s.workflow(r)
	wf.ClearHistory()
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleHistoryFor handles GET /api/workflow/history/{companyID}
func (s *Server) handleHistoryFor(w http.ResponseWriter, r *http.Request) {
	wf := s.workflow(r)
	s.sendJSON(w, http.StatusOK, wf.HistoryFor(chi.URLParam(r, "companyID")))
}

// DispatchRequest is the request body for POST /api/workflow/dispatch
type DispatchRequest struct {
	Mode    string `json:"mode"`
	Confirm bool   `json:"confirm"`
}

// handleDispatch handles POST /api/workflow/dispatch. The confirm flag
// stands in for the dashboard's confirmation dialog; a dispatch without
// it is rejected before any state changes.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Confirm {
		s.sendError(w, http.StatusBadRequest, "dispatch requires confirmation")
		return
	}

	wf := s.workflow(r)
	targeted := len(wf.SelectedIDs())

	var (
		resp *upstream.SendResponse
		err  error
	)
	switch req.Mode {
	case "selected":
		resp, err = wf.DispatchToSelected(r.Context())
	case "all":
		targeted = 0
		resp, err = wf.DispatchToAll(r.Context())
	default:
		s.sendError(w, http.StatusBadRequest, "mode must be \"all\" or \"selected\"")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, outreach.ErrDispatchInFlight):
			s.sendError(w, http.StatusConflict, "a dispatch is already in progress")
		case errors.Is(err, outreach.ErrNoTemplate):
			s.sendError(w, http.StatusBadRequest, "no template selected")
		case errors.Is(err, outreach.ErrEmptySelection):
			s.sendError(w, http.StatusBadRequest, "selection is empty")
		default:
			s.sendError(w, http.StatusBadGateway, "dispatch failed")
		}
		return
	}

	s.recordDispatch(r, targeted, resp)
	s.sendJSON(w, http.StatusOK, resp)
}

// handleDispatchFailures handles GET /api/workflow/dispatch/failures
func (s *Server) handleDispatchFailures(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.workflow(r).Failures())
}

// handleDispatchDismiss handles POST /api/workflow/dispatch/dismiss
func (s *Server) handleDispatchDismiss(w http.ResponseWriter, r *http.Request) {
	wf := s.workflow(r)
	wf.DismissResult()
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// recordDispatch writes the outcome to the audit log and metrics
func (s *Server) recordDispatch(r *http.Request, targeted int, res *upstream.SendResponse) {
	user := currentUser(r)
	wf := s.workflows.peek(currentSession(r).ID)

	rec := &audit.Record{
		ActorID:      user.ID,
		ActorEmail:   user.Email,
		TemplateID:   wf.Snapshot().TemplateID,
		Targeted:     targeted,
		Total:        res.Total,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
		ElapsedSec:   res.ProcessingTime,
	}
	for _, f := range wf.Failures() {
		rec.Failures = append(rec.Failures, audit.Failure{Recipient: f.Recipient, Error: f.Error})
	}
	if err := s.audit.Append(rec); err != nil {
		s.logger.Error("failed to record dispatch", "error", err)
	}

	s.metrics.RecordDispatch(res.SuccessCount, res.FailureCount, res.ProcessingTime)
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", value)
}
