package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/budget"
	"github.com/verdantlabs/prospector/internal/extract"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/routing"
	"github.com/verdantlabs/prospector/internal/state"
)

var diveSchema = json.RawMessage(`{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "action_type": {"type": "string", "enum": ["scrape", "crawl", "terminate_deep_dive"]},
      "target": {"type": "string"},
      "justification": {"type": "string"},
      "max_pages": {"type": "integer"},
      "exclude_patterns": {"type": "array", "items": {"type": "string"}}
    },
    "required": ["action_type", "justification"]
  }
}`)

// DeepDive asks the reasoning model for targeted scrape and crawl actions,
// normalizes them against the per-cycle budget, and executes the survivors.
// The wire action is terminate when the normalized list says the cycle is
// over, continue when new material should go back through review.
func (a *Activities) DeepDive(ctx context.Context, in DeepDiveInput) (DeepDiveResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPhase(PhaseDeepDive, time.Since(start).Seconds()) }()

	rec := in.Record
	cfg := a.cfg.Get()
	a.publishStatus(ctx, &rec, PhaseDeepDive)

	manager := budget.NewManager(budget.Options{
		CycleCeiling: cfg.Ceilings.MaxActionsPerDeepDiveCycle,
		CrawlPageCap: cfg.Ceilings.CrawlPageCap,
	}, a.logger)

	req := extract.Request{
		ReasoningModel:  cfg.Models.Reasoning,
		StructuredModel: cfg.Models.Structured,
		SystemPrompt:    "You plan targeted follow-up fetches for a research run: scrape a specific page, crawl a specific site section, or terminate the deep dive when nothing further is worth fetching. Every action needs a justification; scrape and crawl need a target URL.",
		UserPrompt:      divePrompt(&rec, in.Refinement, manager.Remaining(rec.DeepDiveActionsThisCycle)),
		Schema:          diveSchema,
	}
	proposed, _, err := extract.RunAs[budget.Action](ctx, a.pipeline, req)
	if err != nil {
		var ee *extract.ExtractionError
		if errors.As(err, &ee) {
			metrics.PhaseFailures.WithLabelValues(PhaseDeepDive, "extraction").Inc()
			rec.LogDecision("deep_diver", "proposal_failed",
				fmt.Sprintf("proposal failed after %d attempt(s): %v", ee.Attempts, ee.Err), time.Now().UTC())
			return DeepDiveResult{Record: rec, Action: routing.ActionTerminate, Details: "deep_dive_proposal_failed"}, nil
		}
		return DeepDiveResult{}, err
	}

	res := manager.Normalize(proposed, rec.DeepDiveActionsThisCycle)
	rec.DeepDiveActionsThisCycle += res.Kept
	if res.Coerced > 0 || res.Truncated > 0 || res.Forced {
		rec.LogDecision("deep_diver", "actions_normalized",
			fmt.Sprintf("kept %d, coerced %d, truncated %d, forced_terminate=%t",
				res.Kept, res.Coerced, res.Truncated, res.Forced), time.Now().UTC())
	}

	added := 0
	terminate := ""
	for _, action := range res.Actions {
		switch action.Type {
		case budget.ActionScrape:
			added += a.diveScrape(ctx, &rec, action)
		case budget.ActionCrawl:
			added += a.diveCrawl(ctx, &rec, action)
		case budget.ActionTerminate:
			terminate = action.Justification
		}
	}

	rec.LogDecision("deep_diver", "deep_dive_executed",
		fmt.Sprintf("%d actions, %d documents added, budget %d/%d",
			res.Kept, added, rec.DeepDiveActionsThisCycle, cfg.Ceilings.MaxActionsPerDeepDiveCycle),
		time.Now().UTC())
	a.logger.Info("Deep dive executed",
		zap.String("run_id", rec.RunID),
		zap.Int("actions", res.Kept),
		zap.Int("added", added),
		zap.Bool("terminated", terminate != ""),
	)

	if terminate != "" {
		return DeepDiveResult{Record: rec, Action: routing.ActionTerminate, Details: terminate}, nil
	}
	return DeepDiveResult{Record: rec, Action: routing.ActionContinue}, nil
}

func (a *Activities) diveScrape(ctx context.Context, rec *state.Record, action budget.Action) int {
	if rec.HasScrapedURL(action.Target) {
		return 0
	}
	page, err := a.scrape.Scrape(ctx, action.Target)
	if err != nil {
		metrics.PhaseFailures.WithLabelValues(PhaseDeepDive, "scrape").Inc()
		rec.LogDecision("deep_diver", "scrape_failed",
			fmt.Sprintf("url %s: %v", action.Target, err), time.Now().UTC())
		return 0
	}
	if rec.AppendScraped(state.ScrapedDoc{
		URL:       action.Target,
		Title:     page.Title,
		Content:   page.Markdown,
		ScrapedAt: time.Now().UTC(),
	}) {
		return 1
	}
	return 0
}

func (a *Activities) diveCrawl(ctx context.Context, rec *state.Record, action budget.Action) int {
	pages, err := a.scrape.Crawl(ctx, action.Target, action.MaxPages, action.ExcludePatterns)
	if err != nil {
		metrics.PhaseFailures.WithLabelValues(PhaseDeepDive, "crawl").Inc()
		rec.LogDecision("deep_diver", "crawl_failed",
			fmt.Sprintf("url %s: %v", action.Target, err), time.Now().UTC())
		return 0
	}
	added := 0
	now := time.Now().UTC()
	for _, p := range pages {
		if rec.AppendScraped(state.ScrapedDoc{
			URL:       p.URL,
			Title:     p.Title,
			Content:   p.Markdown,
			ScrapedAt: now,
		}) {
			added++
		}
	}
	return added
}

func divePrompt(rec *state.Record, refinement string, remaining int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research goal: %s\nGeography: %s\nSector: %s\n", rec.Prompt, rec.Target.Label(), rec.Sector)
	if refinement != "" {
		fmt.Fprintf(&b, "\nReviewer guidance:\n%s\n", refinement)
	}
	b.WriteString("\nDocuments already fetched (do not re-fetch):\n")
	for _, d := range rec.ScrapedData {
		fmt.Fprintf(&b, "- %s\n", d.URL)
	}
	if len(rec.FundedFollowups) > 0 {
		b.WriteString("\nMissing-field follow-ups outstanding:\n")
		for _, f := range rec.FundedFollowups {
			fmt.Fprintf(&b, "- %s: missing %s\n", f.ProjectTitle, strings.Join(f.MissingFields, ", "))
		}
	}
	fmt.Fprintf(&b, "\nPropose at most %d scrape/crawl actions as a JSON array, or a single terminate_deep_dive action.", remaining)
	return b.String()
}
