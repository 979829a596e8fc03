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

var planSchema = json.RawMessage(`{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "query": {"type": "string"},
      "rationale": {"type": "string"}
    },
    "required": ["query"]
  }
}`)

type planWire struct {
	Query     string `json:"query"`
	Rationale string `json:"rationale,omitempty"`
}

func (p planWire) Validate() error {
	if strings.TrimSpace(p.Query) == "" {
		return fmt.Errorf("plan entry has empty query")
	}
	return nil
}

// Plan produces or refines the search plan. New queries are appended as
// pending tasks; queries already planned are never duplicated. A fatal
// planning failure returns an end action so the workflow can terminate the
// run with the failure on record.
func (a *Activities) Plan(ctx context.Context, in PlanInput) (PlanResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPhase(PhasePlan, time.Since(start).Seconds()) }()

	rec := in.Record
	cfg := a.cfg.Get()
	a.publishStatus(ctx, &rec, PhasePlan)

	// The first planning cycle is the earliest worker-side point of a run.
	if rec.CurrentIteration == 1 {
		metrics.RunsStarted.WithLabelValues(string(rec.Mode)).Inc()
	}

	req := extract.Request{
		ReasoningModel:  cfg.Models.Reasoning,
		StructuredModel: cfg.Models.Structured,
		SystemPrompt:    planSystemPrompt(rec.Mode),
		UserPrompt:      planUserPrompt(&rec, in.Guidance, cfg.Research.MaxQueriesPerCycle),
		Schema:          planSchema,
	}
	proposals, _, err := extract.RunAs[planWire](ctx, a.pipeline, req)
	if err != nil {
		var ee *extract.ExtractionError
		if errors.As(err, &ee) {
			metrics.PhaseFailures.WithLabelValues(PhasePlan, "extraction").Inc()
			rec.LogDecision("planner", "plan_failed",
				fmt.Sprintf("planning failed after %d attempt(s): %v", ee.Attempts, ee.Err), time.Now().UTC())
			return PlanResult{Record: rec, Action: routing.ActionEnd, Details: "planning_failed"}, nil
		}
		return PlanResult{}, err
	}

	added := 0
	rank := len(rec.SearchPlan)
	provenance := "planner"
	if in.Guidance != "" {
		provenance = "planner_refinement"
	}
	for _, p := range proposals {
		if added >= cfg.Research.MaxQueriesPerCycle {
			break
		}
		if planContains(rec.SearchPlan, p.Query) {
			continue
		}
		rank++
		rec.SearchPlan = append(rec.SearchPlan, state.SearchTask{
			Query:      p.Query,
			Rank:       rank,
			Status:     state.SearchPending,
			Provenance: provenance,
		})
		added++
	}

	rec.LogDecision("planner", "plan_updated",
		fmt.Sprintf("added %d queries (%d proposed)", added, len(proposals)), time.Now().UTC())
	a.logger.Info("Search plan updated",
		zap.String("run_id", rec.RunID),
		zap.Int("added", added),
		zap.Int("plan_size", len(rec.SearchPlan)),
	)
	return PlanResult{Record: rec}, nil
}

func planContains(plan []state.SearchTask, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for i := range plan {
		if strings.ToLower(strings.TrimSpace(plan[i].Query)) == q {
			return true
		}
	}
	return false
}

func planSystemPrompt(mode state.Mode) string {
	if mode == state.ModeFundedProjects {
		return "You plan web searches to find recently funded climate projects for a specific geography and sector: funding announcements, development bank project pages, government press releases, and project databases. Propose targeted queries a search engine can execute."
	}
	return "You plan web searches to find greenhouse gas inventory datasets and emissions data sources for a specific geography and sector: national inventory reports, statistical office portals, open data platforms, and sector studies. Propose targeted queries a search engine can execute."
}

func planUserPrompt(rec *state.Record, guidance string, maxQueries int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research goal: %s\n", rec.Prompt)
	fmt.Fprintf(&b, "Geography: %s\n", rec.Target.Label())
	if rec.Sector != "" {
		fmt.Fprintf(&b, "Sector: %s\n", rec.Sector)
	}
	if len(rec.SearchPlan) > 0 {
		b.WriteString("\nQueries already planned (do not repeat):\n")
		for _, t := range rec.SearchPlan {
			fmt.Fprintf(&b, "- %s (%s)\n", t.Query, t.Status)
		}
	}
	if guidance != "" {
		fmt.Fprintf(&b, "\nReviewer guidance for this refinement:\n%s\n", guidance)
	}
	fmt.Fprintf(&b, "\nPropose up to %d new search queries as a JSON array.", maxQueries)
	return b.String()
}
