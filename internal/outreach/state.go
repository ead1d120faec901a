package outreach

import (
	"github.com/sixtypay/automail/internal/upstream"
)

// CompanyRow is one visible company plus its per-range send count
type CompanyRow struct {
	Company   upstream.Company `json:"company"`
	Selected  bool             `json:"selected"`
	SentCount int              `json:"sent_count"`
}

// State is a serializable snapshot of the workflow for the dashboard
type State struct {
	Companies  []CompanyRow        `json:"companies"`
	Templates  []upstream.Template `json:"templates"`
	TemplateID string              `json:"template_id"`
	Industries []string            `json:"industries"`
	Regions    []string            `json:"regions"`

	SearchText     string          `json:"search_text"`
	IndustryFilter string          `json:"industry_filter"`
	RegionFilter   string          `json:"region_filter"`
	Contacted      ContactedFilter `json:"contacted_filter"`

	Selection       SelectionState `json:"selection"`
	Options         Options        `json:"options"`
	HighlightedDays []string       `json:"highlighted_days"`
	HistoryApplied  bool           `json:"history_applied"`

	Sending bool                   `json:"sending"`
	Result  *upstream.SendResponse `json:"result,omitempty"`

	CompaniesError string `json:"companies_error,omitempty"`
	TemplatesError string `json:"templates_error,omitempty"`
	FacetsError    string `json:"facets_error,omitempty"`
}

// Snapshot captures the full workflow state under one lock acquisition
// per derived piece; the result is safe to serialize without further
// synchronization.
func (w *Workflow) Snapshot() State {
	visible := w.Visible()
	sel := w.Selection()
	days := w.HighlightedDays()

	w.mu.Lock()
	defer w.mu.Unlock()

	rows := make([]CompanyRow, len(visible))
	for i := range visible {
		_, selected := w.selection[visible[i].ID]
		rows[i] = CompanyRow{
			Company:   visible[i],
			Selected:  selected,
			SentCount: len(w.history[visible[i].ID]),
		}
	}

	st := State{
		Companies:       rows,
		Templates:       w.templates,
		TemplateID:      w.templateID,
		Industries:      w.industries,
		Regions:         w.regions,
		SearchText:      w.searchText,
		IndustryFilter:  w.industryFilter,
		RegionFilter:    w.regionFilter,
		Contacted:       w.contacted,
		Selection:       sel,
		Options:         w.options,
		HighlightedDays: days,
		HistoryApplied:  len(w.history) > 0,
		Sending:         w.sending,
		Result:          w.result,
	}
	if w.companiesErr != nil {
		st.CompaniesError = w.companiesErr.Error()
	}
	if w.templatesErr != nil {
		st.TemplatesError = w.templatesErr.Error()
	}
	if w.facetsErr != nil {
		st.FacetsError = w.facetsErr.Error()
	}
	return st
}
