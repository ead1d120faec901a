package outreach

import "github.com/sixtypay/automail/internal/upstream"

// SetIndustryFilter sets the industry facet ("all" matches everything)
func (w *Workflow) SetIndustryFilter(value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.industryFilter = value
}

// SetRegionFilter sets the region facet ("all" matches everything)
func (w *Workflow) SetRegionFilter(value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.regionFilter = value
}

// SetContactedFilter sets the history-based facet. It has no effect until
// a date range has been applied; the setter accepts the value regardless
// but the visible-set computation ignores it while the index is empty.
func (w *Workflow) SetContactedFilter(f ContactedFilter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.contacted = f
}

// Visible returns the companies passing every active facet, in the order
// the backend returned them. Search is not re-applied locally: the fetch
// already scoped results to the search text.
func (w *Workflow) Visible() []upstream.Company {
	w.mu.Lock()
	defer w.mu.Unlock()
	return visibleCompanies(w.companies, w.industryFilter, w.regionFilter, w.contacted, w.history)
}

// visibleCompanies is the pure filter: conjunction of is_active, industry,
// region, and the contacted facet. The contacted facet only applies while
// the history index is non-empty.
func visibleCompanies(
	companies []upstream.Company,
	industry, region string,
	contacted ContactedFilter,
	history map[string][]upstream.HistoryEntry,
) []upstream.Company {
	out := make([]upstream.Company, 0, len(companies))
	for i := range companies {
		c := &companies[i]
		if !c.IsActive {
			continue
		}
		if industry != "all" && (c.Industry == nil || c.Industry.Name != industry) {
			continue
		}
		if region != "all" && (c.Region == nil || c.Region.Name != region) {
			continue
		}
		if contacted != ContactedAll && len(history) > 0 {
			_, has := history[c.ID]
			if contacted == ContactedYes && !has {
				continue
			}
			if contacted == ContactedNo && has {
				continue
			}
		}
		out = append(out, *c)
	}
	return out
}
