package routing

import "fmt"

// Next names the controller state a routing decision selects.
type Next string

const (
	NextPlan             Next = "plan"
	NextResearch         Next = "research"
	NextReviewRaw        Next = "review_raw"
	NextExtract          Next = "extract"
	NextReviewStructured Next = "review_structured"
	NextDeepDive         Next = "deep_dive"
	NextAccept           Next = "accept"
	NextReject           Next = "reject"
	NextEnd              Next = "end"
)

// Terminal reports whether the state ends the run.
func (n Next) Terminal() bool {
	return n == NextAccept || n == NextReject || n == NextEnd
}

// Route is a routing decision. Override is non-empty when the phase's own
// suggestion was not honored; callers must record it in the decision log so
// no override is ever silent.
type Route struct {
	Next     Next
	Override string
}

// Ceilings carries the counters and configured limits a routing decision
// reads. Routing never mutates state; counter side effects belong to the
// controller.
type Ceilings struct {
	CurrentIteration        int
	MaxIterations           int
	ConsecutiveDeepDives    int
	MaxConsecutiveDeepDives int
}

// AfterRawReview routes out of the raw-review state. A "proceed" suggestion
// with zero selected documents can never reach extraction; it is demoted to
// another planning cycle and the demotion is reported. A missing signal fails
// safe toward ending the run.
func AfterRawReview(sig ReviewSignal) Route {
	switch s := sig.(type) {
	case Proceed:
		if len(s.Selected) == 0 {
			return Route{Next: NextPlan, Override: "proceed_with_zero_documents_demoted_to_refine_plan"}
		}
		return Route{Next: NextExtract}
	case RefinePlan:
		return Route{Next: NextPlan}
	case EndRun:
		return Route{Next: NextEnd}
	case nil:
		return Route{Next: NextEnd, Override: "missing_or_unparseable_review_output"}
	default:
		return Route{Next: NextEnd, Override: fmt.Sprintf("unrecognized_review_signal_%T", sig)}
	}
}

// AfterStructuredReview routes out of the structured-review state. The global
// iteration ceiling is checked first and forces an end regardless of the
// suggestion. A deep-dive suggestion past the consecutive-dive ceiling is
// overridden to reject, never silently dropped.
func AfterStructuredReview(sig VerdictSignal, c Ceilings) Route {
	if c.CurrentIteration >= c.MaxIterations {
		return Route{Next: NextEnd, Override: "iteration_ceiling_reached"}
	}
	switch sig.(type) {
	case Accept:
		return Route{Next: NextAccept}
	case Reject:
		return Route{Next: NextReject}
	case DeepDive:
		if c.ConsecutiveDeepDives >= c.MaxConsecutiveDeepDives {
			return Route{Next: NextReject, Override: "deep_dive_suggestion_overridden_consecutive_ceiling"}
		}
		return Route{Next: NextDeepDive}
	case Replan:
		return Route{Next: NextPlan}
	case Finish:
		return Route{Next: NextEnd}
	case nil:
		return Route{Next: NextReject, Override: "missing_or_unparseable_verdict"}
	default:
		return Route{Next: NextReject, Override: fmt.Sprintf("unrecognized_verdict_signal_%T", sig)}
	}
}

// AfterDeepDive routes out of the deep-dive state. Anything other than an
// explicit continue fails safe toward re-review, never toward an unbounded
// loop.
func AfterDeepDive(sig DiveSignal) Route {
	switch sig.(type) {
	case DiveContinue:
		return Route{Next: NextResearch}
	case DiveTerminate:
		return Route{Next: NextReviewStructured}
	case nil:
		return Route{Next: NextReviewStructured, Override: "missing_deep_dive_action"}
	default:
		return Route{Next: NextReviewStructured, Override: fmt.Sprintf("unrecognized_deep_dive_signal_%T", sig)}
	}
}
