package outreach

import "sort"

// SelectionState summarizes the tri-state select-all indicator
type SelectionState struct {
	Selected      int  `json:"selected"`
	Visible       int  `json:"visible"`
	AllSelected   bool `json:"all_selected"`
	Indeterminate bool `json:"indeterminate"`
}

// SelectAllVisible replaces the selection with every currently visible id
func (w *Workflow) SelectAllVisible() {
	visible := w.Visible()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.selection = make(map[string]struct{}, len(visible))
	for i := range visible {
		w.selection[visible[i].ID] = struct{}{}
	}
}

// SelectNone clears the selection
func (w *Workflow) SelectNone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selection = make(map[string]struct{})
}

// Toggle adds or removes a single company id. Adding an id twice is a
// no-op; the selection has set semantics.
func (w *Workflow) Toggle(id string, included bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if included {
		w.selection[id] = struct{}{}
	} else {
		delete(w.selection, id)
	}
}

// SelectedIDs returns the selection in stable order
func (w *Workflow) SelectedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectedIDsLocked()
}

func (w *Workflow) selectedIDsLocked() []string {
	ids := make([]string, 0, len(w.selection))
	for id := range w.selection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Selection reports the tri-state indicator against the visible set.
// Selection is not pruned when filters narrow the visible set, so the
// count can exceed what is on screen; dispatch-to-selected always uses
// the full selection.
func (w *Workflow) Selection() SelectionState {
	visible := w.Visible()

	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.selection)
	return SelectionState{
		Selected:      n,
		Visible:       len(visible),
		AllSelected:   len(visible) > 0 && n == len(visible),
		Indeterminate: n > 0 && n < len(visible),
	}
}
