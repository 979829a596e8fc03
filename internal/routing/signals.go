// Package routing holds the controller's routing decisions as pure functions
// over typed phase signals, so every transition rule is testable without a
// workflow harness.
package routing

// ReviewSignal is the raw-review phase's suggestion. Exactly one variant is
// produced per review; routing matches exhaustively.
type ReviewSignal interface{ isReviewSignal() }

// Proceed suggests moving to extraction with the selected document URLs.
type Proceed struct {
	Selected []string
}

// RefinePlan suggests another planning cycle, with guidance for the planner.
type RefinePlan struct {
	Details string
}

// EndRun suggests terminating the run without a result.
type EndRun struct {
	Reason string
}

func (Proceed) isReviewSignal()    {}
func (RefinePlan) isReviewSignal() {}
func (EndRun) isReviewSignal()     {}

// VerdictSignal is the structured-review phase's suggestion.
type VerdictSignal interface{ isVerdictSignal() }

// Accept marks the extracted records as a satisfactory final result.
type Accept struct{}

// Reject marks the extracted records as unsatisfactory and terminal.
type Reject struct {
	Reason string
}

// DeepDive asks for a bounded sub-cycle of targeted scraping before
// re-review.
type DeepDive struct {
	Refinement string
}

// Replan asks for another planning cycle from the structured review.
type Replan struct {
	Details string
}

// Finish ends the run from structured review without accept/reject.
type Finish struct {
	Reason string
}

func (Accept) isVerdictSignal()   {}
func (Reject) isVerdictSignal()   {}
func (DeepDive) isVerdictSignal() {}
func (Replan) isVerdictSignal()   {}
func (Finish) isVerdictSignal()   {}

// DiveSignal is the deep-dive phase's outcome.
type DiveSignal interface{ isDiveSignal() }

// DiveContinue reports that scrape/crawl work was queued for research.
type DiveContinue struct{}

// DiveTerminate reports that the deep-dive cycle is over.
type DiveTerminate struct {
	Reason string
}

func (DiveContinue) isDiveSignal()  {}
func (DiveTerminate) isDiveSignal() {}

// Wire-format action names shared with the phase activities. Activities
// return these as plain strings across the activity boundary; Decode* turns
// them back into signal variants for routing.
const (
	ActionProceed    = "proceed_to_extraction"
	ActionRefinePlan = "refine_plan"
	ActionEnd        = "end"
	ActionAccept     = "accept"
	ActionReject     = "reject"
	ActionDeepDive   = "deep_dive"
	ActionContinue   = "continue"
	ActionTerminate  = "terminate_deep_dive"
)

// DecodeReviewSignal maps a raw-review wire action to its variant. Unknown or
// empty actions decode to nil; the router treats nil as a missing signal.
func DecodeReviewSignal(action string, selected []string, details string) ReviewSignal {
	switch action {
	case ActionProceed:
		return Proceed{Selected: selected}
	case ActionRefinePlan:
		return RefinePlan{Details: details}
	case ActionEnd:
		return EndRun{Reason: details}
	default:
		return nil
	}
}

// DecodeVerdictSignal maps a structured-review wire action to its variant.
func DecodeVerdictSignal(action, details string) VerdictSignal {
	switch action {
	case ActionAccept:
		return Accept{}
	case ActionReject:
		return Reject{Reason: details}
	case ActionDeepDive:
		return DeepDive{Refinement: details}
	case ActionRefinePlan:
		return Replan{Details: details}
	case ActionEnd:
		return Finish{Reason: details}
	default:
		return nil
	}
}

// DecodeDiveSignal maps a deep-dive wire action to its variant.
func DecodeDiveSignal(action, details string) DiveSignal {
	switch action {
	case ActionContinue:
		return DiveContinue{}
	case ActionTerminate:
		return DiveTerminate{Reason: details}
	default:
		return nil
	}
}
