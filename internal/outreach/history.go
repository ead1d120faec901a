package outreach

import (
	"context"
	"time"

	"github.com/sixtypay/automail/internal/upstream"
)

// dayKey derives the calendar-day key for a send timestamp. Both the
// outgoing range bounds and the incoming day keys use UTC so a send never
// lands on different days in the query and the annotation.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func startOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}

// buildHistoryIndex groups history entries by company id, keeping only
// entries attributed to a company in the target set. Entries with no
// company id, or for companies outside the target, are dropped. The
// returned day set holds the UTC day keys that saw at least one send.
func buildHistoryIndex(entries []upstream.HistoryEntry, target map[string]struct{}) (map[string][]upstream.HistoryEntry, map[string]struct{}) {
	index := make(map[string][]upstream.HistoryEntry)
	days := make(map[string]struct{})

	for _, e := range entries {
		if e.CompanyID == nil {
			continue
		}
		id := *e.CompanyID
		if _, ok := target[id]; !ok {
			continue
		}
		index[id] = append(index[id], e)
		days[dayKey(e.SentAt)] = struct{}{}
	}
	return index, days
}

// ApplyDateRange fetches send history for the inclusive calendar range
// and rebuilds the history index for the companies of interest: the
// selection when non-empty, else the currently visible set. The fetch is
// a single unfiltered round trip capped at MaxPageSize; restriction to
// the target set happens client-side. On fetch failure the prior index is
// left untouched.
func (w *Workflow) ApplyDateRange(ctx context.Context, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return ErrMissingDates
	}

	from := startOfDayUTC(start)
	to := endOfDayUTC(end)

	visible := w.Visible()

	w.mu.Lock()
	target := make(map[string]struct{})
	if len(w.selection) > 0 {
		for id := range w.selection {
			target[id] = struct{}{}
		}
	} else {
		for i := range visible {
			target[visible[i].ID] = struct{}{}
		}
	}
	w.mu.Unlock()

	resp, err := w.backend.ListHistory(ctx, upstream.HistoryListParams{
		StartDate: &from,
		EndDate:   &to,
		Limit:     MaxPageSize,
	})
	if err != nil {
		w.logger.Error("history fetch failed", "error", err, "from", from, "to", to)
		return err
	}

	index, days := buildHistoryIndex(resp.Items, target)

	w.mu.Lock()
	w.history = index
	w.highlightedDays = days
	w.rangeStart = from
	w.rangeEnd = to
	w.mu.Unlock()

	w.logger.Info("history range applied",
		"from", from, "to", to,
		"entries", len(resp.Items),
		"companies", len(index),
	)
	return nil
}

// ClearHistory drops the history index and highlighted days and resets
// the contacted facet, which is meaningless without an index.
func (w *Workflow) ClearHistory() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.history = make(map[string][]upstream.HistoryEntry)
	w.highlightedDays = make(map[string]struct{})
	w.rangeStart = time.Time{}
	w.rangeEnd = time.Time{}
	w.contacted = ContactedAll
}

// HistoryFor returns the in-range send events recorded for one company
func (w *Workflow) HistoryFor(companyID string) []upstream.HistoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history[companyID]
}

// HighlightedDays returns the UTC day keys that saw at least one send
// within the applied range, for calendar annotation.
func (w *Workflow) HighlightedDays() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	days := make([]string, 0, len(w.highlightedDays))
	for d := range w.highlightedDays {
		days = append(days, d)
	}
	return days
}

// HistorySize returns how many companies have in-range history
func (w *Workflow) HistorySize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.history)
}
