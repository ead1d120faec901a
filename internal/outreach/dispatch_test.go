package outreach

import (
	"context"
	"errors"
	"testing"

	"github.com/sixtypay/automail/internal/upstream"
)

func strptr(s string) *string { return &s }

func TestDispatchToSelectedEmptySelection(t *testing.T) {
	backend := &fakeBackend{
		companies: []upstream.Company{company("A", "", "", true)},
		templates: []upstream.Template{{ID: "t1", Name: "welcome"}},
	}
	w := newTestWorkflow(t, backend, true)

	if _, err := w.DispatchToSelected(context.Background()); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("DispatchToSelected = %v, want ErrEmptySelection", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.sendCalls != 0 {
		t.Fatalf("send called %d times for empty selection, want 0", backend.sendCalls)
	}
}

func TestDispatchRequiresTemplate(t *testing.T) {
	backend := &fakeBackend{companies: []upstream.Company{company("A", "", "", true)}}
	w := New(backend, Actor{Admin: true}, testLogger())
	if err := w.RefreshCompanies(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	w.Toggle("A", true)

	if _, err := w.DispatchToSelected(context.Background()); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("DispatchToSelected = %v, want ErrNoTemplate", err)
	}
}

func TestDispatchRequestShape(t *testing.T) {
	tests := []struct {
		name     string
		admin    bool
		skipOpt  bool
		wantSkip bool
	}{
		{"admin may disable skip", true, false, false},
		{"admin keeps skip", true, true, true},
		{"non-admin pinned despite opt-out", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{
				companies: []upstream.Company{
					company("A", "Tech", "North", true),
					company("B", "Tech", "North", true),
				},
				templates: []upstream.Template{{ID: "t1", Name: "welcome"}},
				sendResp:  &upstream.SendResponse{Total: 1, SuccessCount: 1},
			}
			w := newTestWorkflow(t, backend, tt.admin)
			w.SetIndustryFilter("Tech")
			w.SetRegionFilter("North")
			w.SetOptions(Options{SkipContacted: tt.skipOpt, MaxRecipients: 250})
			w.Toggle("A", true)

			if _, err := w.DispatchToSelected(context.Background()); err != nil {
				t.Fatalf("dispatch: %v", err)
			}

			backend.mu.Lock()
			req := backend.lastSend
			backend.mu.Unlock()

			if req == nil {
				t.Fatal("no send request captured")
			}
			if len(req.CompanyIDs) != 1 || req.CompanyIDs[0] != "A" {
				t.Errorf("company ids = %v, want [A]", req.CompanyIDs)
			}
			if req.TemplateID == nil || *req.TemplateID != "t1" {
				t.Errorf("template id = %v, want t1", req.TemplateID)
			}
			if req.Industry != nil || req.Region != nil {
				t.Errorf("facets forwarded: industry=%v region=%v, want nil", req.Industry, req.Region)
			}
			if req.SkipSent != tt.wantSkip {
				t.Errorf("skip_sent = %v, want %v", req.SkipSent, tt.wantSkip)
			}
			if req.Limit != 250 {
				t.Errorf("limit = %d, want 250", req.Limit)
			}
		})
	}
}

func TestDispatchToAllSendsNilIDs(t *testing.T) {
	backend := &fakeBackend{
		companies: []upstream.Company{company("A", "", "", true)},
		templates: []upstream.Template{{ID: "t1", Name: "welcome"}},
		sendResp:  &upstream.SendResponse{Total: 1, SuccessCount: 1},
	}
	w := newTestWorkflow(t, backend, true)
	w.Toggle("A", true)

	if _, err := w.DispatchToAll(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	backend.mu.Lock()
	req := backend.lastSend
	backend.mu.Unlock()
	if req.CompanyIDs != nil {
		t.Errorf("company ids = %v, want nil for send-to-all", req.CompanyIDs)
	}
	// Send-to-all leaves the explicit selection alone.
	if got := w.SelectedIDs(); len(got) != 1 {
		t.Errorf("selection = %v after send-to-all, want untouched", got)
	}
}

func TestDispatchSuccessClearsSelectionAndRefreshes(t *testing.T) {
	backend := &fakeBackend{
		companies: []upstream.Company{company("A", "", "", true)},
		templates: []upstream.Template{{ID: "t1", Name: "welcome"}},
		sendResp:  &upstream.SendResponse{Total: 1, SuccessCount: 1},
	}
	w := newTestWorkflow(t, backend, true)
	w.Toggle("A", true)

	backend.mu.Lock()
	callsBefore := backend.companyCalls
	backend.mu.Unlock()

	resp, err := w.DispatchToSelected(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.SuccessCount != 1 {
		t.Errorf("success count = %d, want 1", resp.SuccessCount)
	}
	if got := w.SelectedIDs(); len(got) != 0 {
		t.Errorf("selection = %v after dispatch, want cleared", got)
	}
	if w.Result() != resp {
		t.Error("result not held after dispatch")
	}
	if w.Sending() {
		t.Error("sending flag still set after dispatch returned")
	}

	backend.mu.Lock()
	callsAfter := backend.companyCalls
	backend.mu.Unlock()
	if callsAfter != callsBefore+1 {
		t.Errorf("company refreshes during dispatch = %d, want 1", callsAfter-callsBefore)
	}
}

func TestDispatchFailureKeepsStateAndReleasesFlag(t *testing.T) {
	backend := &fakeBackend{
		companies: []upstream.Company{company("A", "", "", true)},
		templates: []upstream.Template{{ID: "t1", Name: "welcome"}},
		sendErr:   errors.New("upstream 502"),
	}
	w := newTestWorkflow(t, backend, true)
	w.Toggle("A", true)

	backend.mu.Lock()
	callsBefore := backend.companyCalls
	backend.mu.Unlock()

	if _, err := w.DispatchToSelected(context.Background()); err == nil {
		t.Fatal("dispatch succeeded against failing backend")
	}
	if got := w.SelectedIDs(); len(got) != 1 {
		t.Errorf("selection = %v after failed dispatch, want retained", got)
	}
	if w.Result() != nil {
		t.Error("result held after failed dispatch")
	}
	if w.Sending() {
		t.Error("sending flag leaked after failed dispatch")
	}

	backend.mu.Lock()
	callsAfter := backend.companyCalls
	backend.mu.Unlock()
	if callsAfter != callsBefore {
		t.Errorf("companies refreshed after failed dispatch, want no refresh")
	}
}

func TestDispatchSingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	backend := &fakeBackend{
		companies: []upstream.Company{company("A", "", "", true)},
		templates: []upstream.Template{{ID: "t1", Name: "welcome"}},
	}
	backend.sendHook = func(req *upstream.SendRequest) (*upstream.SendResponse, error) {
		close(entered)
		<-release
		return &upstream.SendResponse{Total: 1, SuccessCount: 1}, nil
	}
	w := newTestWorkflow(t, backend, true)
	w.Toggle("A", true)

	done := make(chan error, 1)
	go func() {
		_, err := w.DispatchToSelected(context.Background())
		done <- err
	}()
	<-entered

	if !w.Sending() {
		t.Error("sending flag not set during in-flight dispatch")
	}
	if _, err := w.DispatchToAll(context.Background()); !errors.Is(err, ErrDispatchInFlight) {
		t.Fatalf("concurrent dispatch = %v, want ErrDispatchInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.sendCalls != 1 {
		t.Fatalf("send called %d times, want 1", backend.sendCalls)
	}
}

func TestFailuresFallBackToUnknownError(t *testing.T) {
	backend := &fakeBackend{
		companies: []upstream.Company{company("A", "", "", true)},
		templates: []upstream.Template{{ID: "t1", Name: "welcome"}},
		sendResp: &upstream.SendResponse{
			Total:        3,
			SuccessCount: 1,
			FailureCount: 2,
			Results: []upstream.SendResult{
				{Success: true, Recipient: "ok@example.com"},
				{Success: false, Recipient: "bad@example.com", Error: strptr("mailbox full")},
				{Success: false, Recipient: "worse@example.com"},
			},
		},
	}
	w := newTestWorkflow(t, backend, true)
	w.Toggle("A", true)

	if _, err := w.DispatchToSelected(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	failures := w.Failures()
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(failures))
	}
	if failures[0].Recipient != "bad@example.com" || failures[0].Error != "mailbox full" {
		t.Errorf("failures[0] = %+v", failures[0])
	}
	if failures[1].Error != "Unknown error" {
		t.Errorf("failures[1].Error = %q, want fallback", failures[1].Error)
	}

	w.DismissResult()
	if w.Result() != nil || w.Failures() != nil {
		t.Error("result survived dismissal")
	}
}
