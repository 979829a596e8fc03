// Package workflows holds the research pipeline workflow: a deterministic
// controller loop that executes phase activities, decodes their wire actions
// into routing signals, and owns every counter side effect. All intelligence
// lives in the activities; the workflow only routes.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/verdantlabs/prospector/internal/activities"
	"github.com/verdantlabs/prospector/internal/routing"
	"github.com/verdantlabs/prospector/internal/state"
)

// Activity registration names. Struct-method activities register under their
// method name.
const (
	ActivityPlan             = "Plan"
	ActivityResearch         = "Research"
	ActivityReviewRaw        = "ReviewRaw"
	ActivityExtract          = "Extract"
	ActivityReviewStructured = "ReviewStructured"
	ActivityDeepDive         = "DeepDive"
	ActivityPersist          = "Persist"
)

// PipelineInput starts one research run. Ceiling fields of zero take the
// standard defaults; the starter normally fills them from configuration.
type PipelineInput struct {
	RunID  string          `json:"run_id,omitempty"`
	Prompt string          `json:"prompt"`
	Target state.Geography `json:"target"`
	Sector string          `json:"sector,omitempty"`
	Mode   state.Mode      `json:"mode"`

	MaxIterations           int `json:"max_iterations,omitempty"`
	MaxConsecutiveDeepDives int `json:"max_consecutive_deep_dives,omitempty"`
}

// PipelineResult summarizes a finished run.
type PipelineResult struct {
	RunID        string `json:"run_id"`
	Decision     string `json:"decision"`
	Reason       string `json:"reason,omitempty"`
	Iterations   int    `json:"iterations"`
	Datasets     int    `json:"datasets"`
	Projects     int    `json:"projects"`
	ArtifactPath string `json:"artifact_path,omitempty"`
}

// ResearchPipelineWorkflow drives a run from planning to a terminal decision.
// Contradictory input fails fast before any activity is scheduled. Phase
// activities are not retried by Temporal: retry behavior for model and
// service calls lives inside the activities, and a phase-level failure is a
// workflow failure.
func ResearchPipelineWorkflow(ctx workflow.Context, input PipelineInput) (PipelineResult, error) {
	logger := workflow.GetLogger(ctx)

	runID := input.RunID
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	maxIterations := input.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}
	maxDives := input.MaxConsecutiveDeepDives
	if maxDives <= 0 {
		maxDives = 5
	}

	rec, err := state.NewRecord(runID, input.Prompt, input.Target, input.Sector, input.Mode)
	if err != nil {
		logger.Error("Rejecting run with invalid input", "error", err)
		return PipelineResult{RunID: runID, Decision: string(routing.NextEnd), Reason: err.Error()}, err
	}

	logger.Info("Starting research run",
		"run_id", runID,
		"mode", string(rec.Mode),
		"geography", rec.Target.Label(),
	)

	phaseCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	next := routing.NextPlan
	guidance := ""
	refinement := ""
	finalDecision := false
	terminalReason := ""

	for !next.Terminal() {
		switch next {
		case routing.NextPlan:
			rec.CurrentIteration++
			rec.ConsecutiveDeepDives = 0
			var res activities.PlanResult
			if err := workflow.ExecuteActivity(phaseCtx, ActivityPlan, activities.PlanInput{
				Record:   rec,
				Guidance: guidance,
			}).Get(ctx, &res); err != nil {
				return PipelineResult{RunID: runID, Decision: string(routing.NextEnd), Iterations: rec.CurrentIteration}, err
			}
			rec = res.Record
			guidance = ""
			if res.Action == routing.ActionEnd {
				terminalReason = res.Details
				next = routing.NextEnd
				continue
			}
			next = routing.NextResearch

		case routing.NextResearch:
			var res activities.ResearchResult
			if err := workflow.ExecuteActivity(phaseCtx, ActivityResearch, activities.ResearchInput{
				Record: rec,
			}).Get(ctx, &res); err != nil {
				return PipelineResult{RunID: runID, Decision: string(routing.NextEnd), Iterations: rec.CurrentIteration}, err
			}
			rec = res.Record
			next = routing.NextReviewRaw

		case routing.NextReviewRaw:
			var res activities.ReviewRawResult
			if err := workflow.ExecuteActivity(phaseCtx, ActivityReviewRaw, activities.ReviewRawInput{
				Record: rec,
			}).Get(ctx, &res); err != nil {
				return PipelineResult{RunID: runID, Decision: string(routing.NextEnd), Iterations: rec.CurrentIteration}, err
			}
			rec = res.Record
			sig := routing.DecodeReviewSignal(res.Action, res.Selected, res.Details)
			route := routing.AfterRawReview(sig)
			logOverride(&rec, ctx, route)
			if rp, ok := sig.(routing.RefinePlan); ok {
				guidance = rp.Details
			}
			if route.Next == routing.NextPlan && route.Override != "" {
				guidance = "previous review selected no documents; broaden or redirect the search plan"
			}
			if route.Next == routing.NextEnd {
				terminalReason = res.Details
			}
			next = route.Next

		case routing.NextExtract:
			var res activities.ExtractResult
			if err := workflow.ExecuteActivity(phaseCtx, ActivityExtract, activities.ExtractInput{
				Record: rec,
			}).Get(ctx, &res); err != nil {
				return PipelineResult{RunID: runID, Decision: string(routing.NextEnd), Iterations: rec.CurrentIteration}, err
			}
			rec = res.Record
			next = routing.NextReviewStructured

		case routing.NextReviewStructured:
			var res activities.ReviewStructuredResult
			if err := workflow.ExecuteActivity(phaseCtx, ActivityReviewStructured, activities.ReviewStructuredInput{
				Record:        rec,
				FinalDecision: finalDecision,
			}).Get(ctx, &res); err != nil {
				return PipelineResult{RunID: runID, Decision: string(routing.NextEnd), Iterations: rec.CurrentIteration}, err
			}
			rec = res.Record
			finalDecision = false
			sig := routing.DecodeVerdictSignal(res.Action, res.Details)
			route := routing.AfterStructuredReview(sig, routing.Ceilings{
				CurrentIteration:        rec.CurrentIteration,
				MaxIterations:           maxIterations,
				ConsecutiveDeepDives:    rec.ConsecutiveDeepDives,
				MaxConsecutiveDeepDives: maxDives,
			})
			logOverride(&rec, ctx, route)
			switch route.Next {
			case routing.NextDeepDive:
				// A fresh streak gets a fresh action budget.
				if rec.ConsecutiveDeepDives == 0 {
					rec.DeepDiveActionsThisCycle = 0
				}
				rec.ConsecutiveDeepDives++
				if dd, ok := sig.(routing.DeepDive); ok {
					refinement = dd.Refinement
				}
			case routing.NextPlan:
				rec.ConsecutiveDeepDives = 0
				if rp, ok := sig.(routing.Replan); ok {
					guidance = rp.Details
				}
			default:
				rec.ConsecutiveDeepDives = 0
				if route.Next == routing.NextEnd || route.Next == routing.NextReject {
					terminalReason = res.Details
					if route.Override != "" {
						terminalReason = route.Override
					}
				}
			}
			next = route.Next

		case routing.NextDeepDive:
			var res activities.DeepDiveResult
			if err := workflow.ExecuteActivity(phaseCtx, ActivityDeepDive, activities.DeepDiveInput{
				Record:     rec,
				Refinement: refinement,
			}).Get(ctx, &res); err != nil {
				return PipelineResult{RunID: runID, Decision: string(routing.NextEnd), Iterations: rec.CurrentIteration}, err
			}
			rec = res.Record
			refinement = ""
			sig := routing.DecodeDiveSignal(res.Action, res.Details)
			route := routing.AfterDeepDive(sig)
			logOverride(&rec, ctx, route)
			if route.Next == routing.NextReviewStructured {
				// A terminated dive cycle forces the next review to land on
				// accept or reject.
				finalDecision = true
			}
			next = route.Next

		default:
			rec.LogDecision("controller", "unknown_state", string(next), workflow.Now(ctx).UTC())
			terminalReason = "controller reached unknown state"
			next = routing.NextEnd
		}
	}

	decision := string(next)
	logger.Info("Run reached terminal decision",
		"run_id", runID,
		"decision", decision,
		"iterations", rec.CurrentIteration,
	)

	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	var persisted activities.PersistResult
	if err := workflow.ExecuteActivity(persistCtx, ActivityPersist, activities.PersistInput{
		Record:        rec,
		FinalDecision: decision,
	}).Get(ctx, &persisted); err != nil {
		// The decision stands even when the artifact could not be written.
		logger.Warn("Failed to persist run artifact", "run_id", runID, "error", err)
	}

	return PipelineResult{
		RunID:        runID,
		Decision:     decision,
		Reason:       terminalReason,
		Iterations:   rec.CurrentIteration,
		Datasets:     len(rec.StructuredData),
		Projects:     len(rec.FundedProjects),
		ArtifactPath: persisted.ArtifactPath,
	}, nil
}

// logOverride records a routing override in the decision log so no override
// is ever silent.
func logOverride(rec *state.Record, ctx workflow.Context, route routing.Route) {
	if route.Override == "" {
		return
	}
	rec.LogDecision("controller", "routing_override", route.Override, workflow.Now(ctx).UTC())
}
