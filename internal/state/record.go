package state

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which record family a run hunts for.
type Mode string

const (
	ModeGHGIData       Mode = "ghgi_data"
	ModeFundedProjects Mode = "funded_projects"
)

// Valid reports whether the mode is one of the supported search modes.
func (m Mode) Valid() bool {
	return m == ModeGHGIData || m == ModeFundedProjects
}

// Geography identifies the research target area. Exactly one of Country,
// City, or Region must be set; NewRecord enforces this before any phase runs.
type Geography struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
}

// Validate enforces the mutual-exclusion rule.
func (g Geography) Validate() error {
	set := 0
	if strings.TrimSpace(g.Country) != "" {
		set++
	}
	if strings.TrimSpace(g.City) != "" {
		set++
	}
	if strings.TrimSpace(g.Region) != "" {
		set++
	}
	if set == 0 {
		return fmt.Errorf("geography: one of country, city, or region is required")
	}
	if set > 1 {
		return fmt.Errorf("geography: country, city, and region are mutually exclusive")
	}
	return nil
}

// Label returns the single populated geography value.
func (g Geography) Label() string {
	switch {
	case g.Country != "":
		return g.Country
	case g.City != "":
		return g.City
	default:
		return g.Region
	}
}

// SearchStatus tracks a planned query through its lifecycle. Transitions are
// one-way: pending -> searched.
type SearchStatus string

const (
	SearchPending  SearchStatus = "pending"
	SearchSearched SearchStatus = "searched"
)

// SearchTask is one planned query in the search plan.
type SearchTask struct {
	Query      string       `json:"query"`
	Rank       int          `json:"rank"`
	Status     SearchStatus `json:"status"`
	Provenance string       `json:"provenance"`
}

// ScrapedDoc is one fetched page, deduplicated by URL in the record.
type ScrapedDoc struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet,omitempty"`
	Content   string    `json:"content"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// DatasetRecord is an extracted GHGI dataset reference.
type DatasetRecord struct {
	Name               string `json:"name"`
	URL                string `json:"url"`
	Description        string `json:"description,omitempty"`
	Sector             string `json:"sector,omitempty"`
	Granularity        string `json:"granularity,omitempty"`
	YearsCovered       string `json:"years_covered,omitempty"`
	Format             string `json:"format,omitempty"`
	SourceOrganization string `json:"source_organization,omitempty"`
}

// FollowupRequest is a synthesized search request for fields a candidate
// project is still missing. The pipeline never fabricates values for them.
type FollowupRequest struct {
	ProjectTitle  string   `json:"project_title"`
	Query         string   `json:"query"`
	MissingFields []string `json:"missing_fields"`
}

// FilterEntry records why a candidate was filtered out of the funded-project
// track.
type FilterEntry struct {
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is one append-only audit entry. Every phase appends at least one.
type Decision struct {
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the single state record threaded through every phase of a run.
// It is passed by value between phases; no two phases mutate it concurrently.
type Record struct {
	RunID  string    `json:"run_id"`
	Prompt string    `json:"prompt"`
	Target Geography `json:"target"`
	Sector string    `json:"sector"`
	Mode   Mode      `json:"mode"`

	// Counters. All are monotonically non-decreasing within a run except
	// ConsecutiveDeepDives, which resets to 0 whenever a routing decision
	// other than deep-dive is taken.
	CurrentIteration         int `json:"current_iteration"`
	SearchesConducted        int `json:"searches_conducted_count"`
	ConsecutiveDeepDives     int `json:"consecutive_deep_dive_count"`
	DeepDiveActionsThisCycle int `json:"current_deep_dive_actions_count"`

	SearchPlan            []SearchTask      `json:"search_plan"`
	SelectedForExtraction []string          `json:"selected_for_extraction"`
	ScrapedData           []ScrapedDoc      `json:"scraped_data"`
	StructuredData        []DatasetRecord   `json:"structured_data"`
	FundedProjects        []ProjectRecord   `json:"funded_projects"`
	FundedFollowups       []FollowupRequest `json:"funded_followups"`
	FundingFilterLog      []FilterEntry     `json:"funding_filter_log"`

	DecisionLog []Decision `json:"decision_log"`
}

// NewRecord builds a zeroed record for a fresh run. Geography contradictions
// and unknown modes fail here, before any external call is made.
func NewRecord(runID, prompt string, target Geography, sector string, mode Mode) (Record, error) {
	if err := target.Validate(); err != nil {
		return Record{}, err
	}
	if !mode.Valid() {
		return Record{}, fmt.Errorf("unknown search mode %q", mode)
	}
	return Record{
		RunID:  runID,
		Prompt: prompt,
		Target: target,
		Sector: sector,
		Mode:   mode,
	}, nil
}

// LogDecision appends one audit entry. The decision log is append-only; there
// is no removal path.
func (r *Record) LogDecision(agent, action, details string, at time.Time) {
	r.DecisionLog = append(r.DecisionLog, Decision{
		Agent:     agent,
		Action:    action,
		Details:   details,
		Timestamp: at,
	})
}

// HasScrapedURL reports whether the URL is already in scraped_data.
func (r *Record) HasScrapedURL(url string) bool {
	for i := range r.ScrapedData {
		if r.ScrapedData[i].URL == url {
			return true
		}
	}
	return false
}

// AppendScraped adds a document unless its URL was already seen. Returns true
// if the document was added.
func (r *Record) AppendScraped(doc ScrapedDoc) bool {
	if doc.URL == "" || r.HasScrapedURL(doc.URL) {
		return false
	}
	r.ScrapedData = append(r.ScrapedData, doc)
	return true
}

// AppendDataset adds an extracted dataset record unless its URL was already
// recorded. Returns true if the record was added.
func (r *Record) AppendDataset(rec DatasetRecord) bool {
	for i := range r.StructuredData {
		if rec.URL != "" && r.StructuredData[i].URL == rec.URL {
			return false
		}
	}
	r.StructuredData = append(r.StructuredData, rec)
	return true
}

// MarkSearched flips a planned query from pending to searched. Backward
// transitions are not possible through this API.
func (r *Record) MarkSearched(query string) {
	for i := range r.SearchPlan {
		if r.SearchPlan[i].Query == query {
			r.SearchPlan[i].Status = SearchSearched
			return
		}
	}
}

// PendingSearches returns planned queries not yet executed, in rank order.
func (r *Record) PendingSearches() []SearchTask {
	var out []SearchTask
	for _, t := range r.SearchPlan {
		if t.Status == SearchPending {
			out = append(out, t)
		}
	}
	return out
}

// ScrapedByURL returns the scraped document for a URL, if present.
func (r *Record) ScrapedByURL(url string) (ScrapedDoc, bool) {
	for i := range r.ScrapedData {
		if r.ScrapedData[i].URL == url {
			return r.ScrapedData[i], true
		}
	}
	return ScrapedDoc{}, false
}
