package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/extract"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/routing"
	"github.com/verdantlabs/prospector/internal/state"
)

var reviewStructuredSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["accept", "reject", "deep_dive", "refine_plan", "end"]},
    "details": {"type": "string"}
  },
  "required": ["action"]
}`)

type verdictWire struct {
	Action  string `json:"action"`
	Details string `json:"details,omitempty"`
}

func (v verdictWire) Validate() error {
	switch v.Action {
	case routing.ActionAccept, routing.ActionReject, routing.ActionDeepDive,
		routing.ActionRefinePlan, routing.ActionEnd:
		return nil
	default:
		return fmt.Errorf("unknown verdict action %q", v.Action)
	}
}

// ReviewStructured has the reasoning model judge the structured records. In
// final-decision mode, entered after a deep-dive cycle terminates, the only
// honored verdicts are accept and reject: a deep_dive suggestion is demoted
// to reject with the demotion on record.
func (a *Activities) ReviewStructured(ctx context.Context, in ReviewStructuredInput) (ReviewStructuredResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPhase(PhaseReviewStructured, time.Since(start).Seconds()) }()

	rec := in.Record
	cfg := a.cfg.Get()
	a.publishStatus(ctx, &rec, PhaseReviewStructured)

	system := "You review structured research results and deliver a verdict: accept them as final, reject them, ask for a deep dive into specific sources, or ask for a refined search plan."
	if in.FinalDecision {
		system = "You review structured research results after a completed deep dive. Deliver a final verdict: accept them as final, or reject them. Further deep dives are not available."
	}

	req := extract.Request{
		ReasoningModel:  cfg.Models.Reasoning,
		StructuredModel: cfg.Models.Structured,
		SystemPrompt:    system,
		UserPrompt:      reviewStructuredPrompt(&rec, in.FinalDecision),
		Schema:          reviewStructuredSchema,
	}
	verdicts, _, err := extract.RunAs[verdictWire](ctx, a.pipeline, req)
	if err != nil {
		var ee *extract.ExtractionError
		if errors.As(err, &ee) {
			metrics.PhaseFailures.WithLabelValues(PhaseReviewStructured, "extraction").Inc()
			rec.LogDecision("structured_reviewer", "review_failed",
				fmt.Sprintf("review failed after %d attempt(s): %v", ee.Attempts, ee.Err), time.Now().UTC())
			return ReviewStructuredResult{Record: rec, Action: routing.ActionReject, Details: "structured_review_failed"}, nil
		}
		return ReviewStructuredResult{}, err
	}
	verdict := verdicts[0]

	if in.FinalDecision && verdict.Action == routing.ActionDeepDive {
		rec.LogDecision("structured_reviewer", "deep_dive_demoted_to_reject",
			"deep dive suggested in final-decision mode", time.Now().UTC())
		verdict = verdictWire{Action: routing.ActionReject, Details: "deep dive unavailable after a completed deep-dive cycle"}
	}

	rec.LogDecision("structured_reviewer", verdict.Action, verdict.Details, time.Now().UTC())
	a.logger.Info("Structured review completed",
		zap.String("run_id", rec.RunID),
		zap.String("action", verdict.Action),
		zap.Bool("final_decision", in.FinalDecision),
	)
	return ReviewStructuredResult{Record: rec, Action: verdict.Action, Details: verdict.Details}, nil
}

func reviewStructuredPrompt(rec *state.Record, finalDecision bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research goal: %s\nGeography: %s\nSector: %s\nIteration: %d\n\n",
		rec.Prompt, rec.Target.Label(), rec.Sector, rec.CurrentIteration)

	if rec.Mode == state.ModeFundedProjects {
		fmt.Fprintf(&b, "Candidate projects (%d):\n", len(rec.FundedProjects))
		for i, p := range rec.FundedProjects {
			payload, _ := json.Marshal(p)
			fmt.Fprintf(&b, "%d. %s\n", i+1, payload)
		}
		if len(rec.FundedFollowups) > 0 {
			fmt.Fprintf(&b, "\nUnresolved follow-up searches for missing fields: %d\n", len(rec.FundedFollowups))
		}
		if len(rec.FundingFilterLog) > 0 {
			fmt.Fprintf(&b, "Candidates filtered out of scope: %d\n", len(rec.FundingFilterLog))
		}
	} else {
		fmt.Fprintf(&b, "Extracted dataset records (%d):\n", len(rec.StructuredData))
		for i, d := range rec.StructuredData {
			payload, _ := json.Marshal(d)
			fmt.Fprintf(&b, "%d. %s\n", i+1, payload)
		}
	}

	if finalDecision {
		b.WriteString("\nA deep-dive cycle just completed. Respond with a JSON object: action (accept or reject), details.")
	} else {
		b.WriteString("\nRespond with a JSON object: action, details. For deep_dive, put the sources or questions to pursue in details.")
	}
	return b.String()
}
