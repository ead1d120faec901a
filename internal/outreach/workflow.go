package outreach

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sixtypay/automail/internal/upstream"
)

const (
	// MaxPageSize is the backend's hard cap on list endpoints. Results
	// beyond it are silently truncated server-side; we treat the cap as
	// authoritative rather than paginating past it.
	MaxPageSize = 1000

	// DefaultTemplateName is auto-selected after templates load, when present
	DefaultTemplateName = "factoring_service"

	defaultSearchDebounce = 300 * time.Millisecond
)

var (
	ErrNoTemplate       = errors.New("outreach: no template selected")
	ErrUnknownTemplate  = errors.New("outreach: template not in loaded set")
	ErrEmptySelection   = errors.New("outreach: selection is empty")
	ErrDispatchInFlight = errors.New("outreach: a dispatch is already in progress")
	ErrMissingDates     = errors.New("outreach: both start and end dates are required")
)

// Backend is the slice of the outreach API the workflow depends on
type Backend interface {
	ListCompanies(ctx context.Context, p upstream.CompanyListParams) (*upstream.CompanyListResponse, error)
	ListTemplates(ctx context.Context, p upstream.TemplateListParams) (*upstream.TemplateListResponse, error)
	ListIndustries(ctx context.Context, activeOnly bool) ([]string, error)
	ListRegions(ctx context.Context, activeOnly bool) ([]string, error)
	ListHistory(ctx context.Context, p upstream.HistoryListParams) (*upstream.HistoryListResponse, error)
	SendBulk(ctx context.Context, req *upstream.SendRequest) (*upstream.SendResponse, error)
}

// Actor identifies who is driving the workflow. Admin gates the
// skip-contacted override in dispatch requests.
type Actor struct {
	ID    string
	Email string
	Admin bool
}

// ContactedFilter narrows the visible set by send history within the
// applied date range. It is meaningful only while a history index exists.
type ContactedFilter string

const (
	ContactedAll ContactedFilter = "all"
	ContactedYes ContactedFilter = "contacted"
	ContactedNo  ContactedFilter = "not_contacted"
)

// Options are the persisted dispatch knobs
type Options struct {
	SkipContacted bool `json:"skip_contacted"`
	MaxRecipients int  `json:"max_recipients"`
}

// Workflow owns the recipient-selection and bulk-dispatch state for one
// login session. All state is guarded by mu; no external mutators exist.
type Workflow struct {
	backend Backend
	logger  *slog.Logger
	actor   Actor

	mu sync.Mutex

	companies  []upstream.Company
	templates  []upstream.Template
	industries []string
	regions    []string

	searchText     string
	industryFilter string
	regionFilter   string
	contacted      ContactedFilter

	selection           map[string]struct{}
	templateID          string
	defaultTemplateName string
	options             Options

	history         map[string][]upstream.HistoryEntry
	highlightedDays map[string]struct{}
	rangeStart      time.Time
	rangeEnd        time.Time

	sending bool
	result  *upstream.SendResponse

	// Debounced search. searchSeq tags each company refetch; a response
	// applies only while its tag is still the latest issued, so a slow
	// early response cannot overwrite a later one.
	searchSeq     uint64
	debounce      *time.Timer
	debounceDelay time.Duration

	companiesErr error
	templatesErr error
	facetsErr    error
}

// New creates a workflow for the given actor. Non-admin actors have
// SkipContacted pinned on from the start.
func New(backend Backend, actor Actor, logger *slog.Logger) *Workflow {
	return &Workflow{
		backend:             backend,
		logger:              logger.With("component", "outreach", "actor", actor.Email),
		actor:               actor,
		industryFilter:      "all",
		regionFilter:        "all",
		contacted:           ContactedAll,
		selection:           make(map[string]struct{}),
		history:             make(map[string][]upstream.HistoryEntry),
		highlightedDays:     make(map[string]struct{}),
		options:             Options{SkipContacted: true, MaxRecipients: MaxPageSize},
		defaultTemplateName: DefaultTemplateName,
		debounceDelay:       defaultSearchDebounce,
	}
}

// Start performs the initial loads. Each load is independent; a failure
// is recorded for its section and does not block the others.
func (w *Workflow) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		w.RefreshCompanies(ctx)
	}()
	go func() {
		defer wg.Done()
		w.LoadTemplates(ctx)
	}()
	go func() {
		defer wg.Done()
		w.LoadFacets(ctx)
	}()
	wg.Wait()
}

// RefreshCompanies fetches active companies scoped by the current search
// text and replaces prior state wholesale. The selection is pruned to ids
// still present so a later dispatch cannot target unknown companies.
func (w *Workflow) RefreshCompanies(ctx context.Context) error {
	w.mu.Lock()
	w.searchSeq++
	seq := w.searchSeq
	search := w.searchText
	w.mu.Unlock()

	active := true
	resp, err := w.backend.ListCompanies(ctx, upstream.CompanyListParams{
		Limit:    MaxPageSize,
		IsActive: &active,
		Search:   search,
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	if seq != w.searchSeq {
		// A newer refetch was issued while this one was in flight.
		return nil
	}

	if err != nil {
		w.companiesErr = err
		w.logger.Error("company refresh failed", "error", err)
		return err
	}

	w.companiesErr = nil
	w.companies = resp.Items

	known := make(map[string]struct{}, len(resp.Items))
	for i := range resp.Items {
		known[resp.Items[i].ID] = struct{}{}
	}
	for id := range w.selection {
		if _, ok := known[id]; !ok {
			delete(w.selection, id)
		}
	}
	return nil
}

// LoadTemplates fetches active templates and auto-selects a default when
// none is chosen yet: the template named DefaultTemplateName if present,
// else the first returned.
func (w *Workflow) LoadTemplates(ctx context.Context) error {
	active := true
	resp, err := w.backend.ListTemplates(ctx, upstream.TemplateListParams{
		Limit:    MaxPageSize,
		IsActive: &active,
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.templatesErr = err
		w.logger.Error("template load failed", "error", err)
		return err
	}

	w.templatesErr = nil
	w.templates = resp.Items

	if w.templateID == "" && len(resp.Items) > 0 {
		w.templateID = resp.Items[0].ID
		for i := range resp.Items {
			if resp.Items[i].Name == w.defaultTemplateName {
				w.templateID = resp.Items[i].ID
				break
			}
		}
	}
	return nil
}

// LoadFacets fetches the distinct industry and region values concurrently
func (w *Workflow) LoadFacets(ctx context.Context) error {
	var (
		wg         sync.WaitGroup
		industries []string
		regions    []string
		indErr     error
		regErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		industries, indErr = w.backend.ListIndustries(ctx, true)
	}()
	go func() {
		defer wg.Done()
		regions, regErr = w.backend.ListRegions(ctx, true)
	}()
	wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if indErr != nil || regErr != nil {
		w.facetsErr = errors.Join(indErr, regErr)
		w.logger.Error("facet load failed", "error", w.facetsErr)
		return w.facetsErr
	}

	w.facetsErr = nil
	sort.Strings(industries)
	sort.Strings(regions)
	w.industries = industries
	w.regions = regions
	return nil
}

// SetSearch updates the search text and arms a debounced company refetch.
// A pending refetch is superseded, not queued.
func (w *Workflow) SetSearch(text string) {
	w.mu.Lock()
	w.searchText = text
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		w.RefreshCompanies(ctx)
	})
	w.mu.Unlock()
}

// SetDefaultTemplateName overrides which template name is auto-selected
// after templates load. Call it before Start; an empty name is ignored.
func (w *Workflow) SetDefaultTemplateName(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	w.defaultTemplateName = name
	w.mu.Unlock()
}

// SetTemplate selects the template used at dispatch time
func (w *Workflow) SetTemplate(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.templates {
		if w.templates[i].ID == id {
			w.templateID = id
			return nil
		}
	}
	return ErrUnknownTemplate
}

// SetOptions updates the dispatch knobs. SkipContacted stays pinned on
// for non-admin actors no matter what the caller passes; the pin lives
// here and in the request builder so no entry point can bypass it.
func (w *Workflow) SetOptions(opts Options) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if opts.MaxRecipients <= 0 {
		opts.MaxRecipients = MaxPageSize
	}
	if !w.actor.Admin {
		opts.SkipContacted = true
	}
	w.options = opts
}

// Options returns the current dispatch knobs
func (w *Workflow) Options() Options {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.options
}

// Close releases the pending debounce timer, if any
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
}
