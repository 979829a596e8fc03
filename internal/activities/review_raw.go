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

var reviewRawSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["proceed_to_extraction", "refine_plan", "end"]},
    "selected_urls": {"type": "array", "items": {"type": "string"}},
    "details": {"type": "string"}
  },
  "required": ["action"]
}`)

type reviewRawWire struct {
	Action       string   `json:"action"`
	SelectedURLs []string `json:"selected_urls,omitempty"`
	Details      string   `json:"details,omitempty"`
}

func (r reviewRawWire) Validate() error {
	switch r.Action {
	case routing.ActionProceed, routing.ActionRefinePlan, routing.ActionEnd:
		return nil
	default:
		return fmt.Errorf("unknown raw-review action %q", r.Action)
	}
}

// ReviewRaw has the reasoning model judge the scraped documents and suggest
// the next move. Selected URLs are filtered to documents the record actually
// holds; hallucinated URLs are dropped and the drop is logged.
func (a *Activities) ReviewRaw(ctx context.Context, in ReviewRawInput) (ReviewRawResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPhase(PhaseReviewRaw, time.Since(start).Seconds()) }()

	rec := in.Record
	cfg := a.cfg.Get()
	a.publishStatus(ctx, &rec, PhaseReviewRaw)

	req := extract.Request{
		ReasoningModel:  cfg.Models.Reasoning,
		StructuredModel: cfg.Models.Structured,
		SystemPrompt:    "You review scraped web documents for a research run. Decide whether enough promising material exists to proceed to structured extraction, whether the search plan needs refinement, or whether the run should end. Select only documents worth extracting from.",
		UserPrompt:      reviewRawPrompt(&rec, cfg.Research.MaxDocsForReview, cfg.Research.MaxReviewerSnippetLength),
		Schema:          reviewRawSchema,
	}
	verdicts, _, err := extract.RunAs[reviewRawWire](ctx, a.pipeline, req)
	if err != nil {
		var ee *extract.ExtractionError
		if errors.As(err, &ee) {
			metrics.PhaseFailures.WithLabelValues(PhaseReviewRaw, "extraction").Inc()
			rec.LogDecision("raw_reviewer", "review_failed",
				fmt.Sprintf("review failed after %d attempt(s): %v", ee.Attempts, ee.Err), time.Now().UTC())
			return ReviewRawResult{Record: rec, Action: routing.ActionEnd, Details: "raw_review_failed"}, nil
		}
		return ReviewRawResult{}, err
	}
	verdict := verdicts[0]

	var selected []string
	if verdict.Action == routing.ActionProceed {
		dropped := 0
		for _, u := range verdict.SelectedURLs {
			if rec.HasScrapedURL(u) {
				selected = append(selected, u)
			} else {
				dropped++
			}
		}
		if dropped > 0 {
			rec.LogDecision("raw_reviewer", "unknown_urls_dropped",
				fmt.Sprintf("%d selected URLs not present in scraped data", dropped), time.Now().UTC())
		}
		rec.SelectedForExtraction = selected
	}

	rec.LogDecision("raw_reviewer", verdict.Action,
		fmt.Sprintf("%d documents selected; %s", len(selected), verdict.Details), time.Now().UTC())
	a.logger.Info("Raw review completed",
		zap.String("run_id", rec.RunID),
		zap.String("action", verdict.Action),
		zap.Int("selected", len(selected)),
	)
	return ReviewRawResult{Record: rec, Action: verdict.Action, Selected: selected, Details: verdict.Details}, nil
}

func reviewRawPrompt(rec *state.Record, maxDocs, maxSnippet int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research goal: %s\nGeography: %s\nSector: %s\n", rec.Prompt, rec.Target.Label(), rec.Sector)
	fmt.Fprintf(&b, "Iteration %d. %d documents scraped so far", rec.CurrentIteration, len(rec.ScrapedData))

	docs := rec.ScrapedData
	if len(docs) > maxDocs {
		// Newest documents are the ones the current cycle produced.
		docs = docs[len(docs)-maxDocs:]
		fmt.Fprintf(&b, " (showing the %d most recent)", maxDocs)
	}
	b.WriteString(".\n\n")

	for i, d := range docs {
		content := d.Content
		if len(content) > maxSnippet {
			content = content[:maxSnippet]
		}
		fmt.Fprintf(&b, "--- Document %d ---\nURL: %s\nTitle: %s\n%s\n\n", i+1, d.URL, d.Title, content)
	}
	b.WriteString("Respond with a JSON object: action, selected_urls, details.")
	return b.String()
}
