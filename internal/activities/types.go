package activities

import "github.com/verdantlabs/prospector/internal/state"

// Phase names, used for registration, metrics, and the decision log.
const (
	PhasePlan             = "plan"
	PhaseResearch         = "research"
	PhaseReviewRaw        = "review_raw"
	PhaseExtract          = "extract"
	PhaseReviewStructured = "review_structured"
	PhaseDeepDive         = "deep_dive"
	PhasePersist          = "persist"
)

// PlanInput carries the record into the planning phase. Guidance is reviewer
// feedback from a refine_plan decision, empty on the first cycle.
type PlanInput struct {
	Record   state.Record `json:"record"`
	Guidance string       `json:"guidance,omitempty"`
}

// PlanResult returns the record with new pending search tasks. Action is
// empty on success; a fatal planning failure sets it to the end action with
// Details explaining why.
type PlanResult struct {
	Record  state.Record `json:"record"`
	Action  string       `json:"action,omitempty"`
	Details string       `json:"details,omitempty"`
}

// ResearchInput carries the record into the research phase.
type ResearchInput struct {
	Record state.Record `json:"record"`
}

// ResearchResult returns the record with newly scraped documents appended.
type ResearchResult struct {
	Record state.Record `json:"record"`
}

// ReviewRawInput carries the record into the raw-document review.
type ReviewRawInput struct {
	Record state.Record `json:"record"`
}

// ReviewRawResult carries the reviewer's wire action. Selected is populated
// for a proceed action and already filtered to URLs present in scraped data.
type ReviewRawResult struct {
	Record   state.Record `json:"record"`
	Action   string       `json:"action"`
	Selected []string     `json:"selected,omitempty"`
	Details  string       `json:"details,omitempty"`
}

// ExtractInput carries the record into the extraction phase.
type ExtractInput struct {
	Record state.Record `json:"record"`
}

// ExtractResult returns the record with structured records appended.
type ExtractResult struct {
	Record state.Record `json:"record"`
}

// ReviewStructuredInput carries the record into the structured review.
// FinalDecision is set by the workflow when this review immediately follows a
// terminated deep-dive cycle; the reviewer must then land on accept or reject.
type ReviewStructuredInput struct {
	Record        state.Record `json:"record"`
	FinalDecision bool         `json:"final_decision,omitempty"`
}

// ReviewStructuredResult carries the reviewer's verdict wire action.
type ReviewStructuredResult struct {
	Record  state.Record `json:"record"`
	Action  string       `json:"action"`
	Details string       `json:"details,omitempty"`
}

// DeepDiveInput carries the record into a deep-dive cycle. Refinement is the
// reviewer's guidance from the deep_dive verdict.
type DeepDiveInput struct {
	Record     state.Record `json:"record"`
	Refinement string       `json:"refinement,omitempty"`
}

// DeepDiveResult returns the record with deep-dive scrapes appended and the
// cycle's wire action: continue for another research pass, or terminate.
type DeepDiveResult struct {
	Record  state.Record `json:"record"`
	Action  string       `json:"action"`
	Details string       `json:"details,omitempty"`
}

// PersistInput carries the finished record and its terminal decision.
type PersistInput struct {
	Record        state.Record `json:"record"`
	FinalDecision string       `json:"final_decision"`
}

// PersistResult reports where the run artifact was written.
type PersistResult struct {
	ArtifactPath string `json:"artifact_path,omitempty"`
}
