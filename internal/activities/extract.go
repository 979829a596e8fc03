package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/extract"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/staged"
	"github.com/verdantlabs/prospector/internal/state"
)

var datasetSchema = json.RawMessage(`{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "name": {"type": "string"},
      "url": {"type": "string"},
      "description": {"type": "string"},
      "sector": {"type": "string"},
      "granularity": {"type": "string"},
      "years_covered": {"type": "string"},
      "format": {"type": "string"},
      "source_organization": {"type": "string"}
    },
    "required": ["name", "url"]
  }
}`)

// Extract turns the selected documents into structured records. GHGI runs
// extract dataset references; funded-project runs go through the staged
// protocol with its scope gate. Per-document failures degrade: the document
// is skipped with the failure on record and the phase continues.
func (a *Activities) Extract(ctx context.Context, in ExtractInput) (ExtractResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPhase(PhaseExtract, time.Since(start).Seconds()) }()

	rec := in.Record
	cfg := a.cfg.Get()
	a.publishStatus(ctx, &rec, PhaseExtract)

	var docs []state.ScrapedDoc
	for _, u := range rec.SelectedForExtraction {
		if d, ok := rec.ScrapedByURL(u); ok {
			docs = append(docs, d)
		}
	}

	switch rec.Mode {
	case state.ModeFundedProjects:
		a.extractProjects(ctx, cfg.Models.Reasoning, cfg.Models.Structured, cfg.Scope.LookbackYears, cfg.Scope.AcceptedStatuses, &rec, docs)
	default:
		a.extractDatasets(ctx, cfg.Models.Reasoning, cfg.Models.Structured, &rec, docs)
	}

	// The selection is consumed by this phase; a later proceed decision must
	// make a fresh one.
	rec.SelectedForExtraction = nil

	a.logger.Info("Extraction completed",
		zap.String("run_id", rec.RunID),
		zap.String("mode", string(rec.Mode)),
		zap.Int("documents", len(docs)),
		zap.Int("datasets", len(rec.StructuredData)),
		zap.Int("projects", len(rec.FundedProjects)),
	)
	return ExtractResult{Record: rec}, nil
}

func (a *Activities) extractDatasets(ctx context.Context, reasoningModel, structuredModel string, rec *state.Record, docs []state.ScrapedDoc) {
	added := 0
	for _, doc := range docs {
		req := extract.Request{
			ReasoningModel:  reasoningModel,
			StructuredModel: structuredModel,
			SystemPrompt:    "You extract references to greenhouse gas inventory datasets and emissions data sources from a web page: name, URL, description, sector, granularity, years covered, file format, and publishing organization. Report only datasets the page actually describes.",
			UserPrompt:      fmt.Sprintf("URL: %s\nTitle: %s\n\n%s", doc.URL, doc.Title, doc.Content),
			Schema:          datasetSchema,
		}
		items, _, err := extract.RunAs[state.DatasetRecord](ctx, a.pipeline, req)
		if err != nil {
			metrics.PhaseFailures.WithLabelValues(PhaseExtract, "extraction").Inc()
			rec.LogDecision("extractor", "document_extraction_failed",
				fmt.Sprintf("url %s: %v", doc.URL, err), time.Now().UTC())
			continue
		}
		for _, item := range items {
			if item.Name == "" && item.URL == "" {
				continue
			}
			if item.URL == "" {
				item.URL = doc.URL
			}
			if rec.AppendDataset(item) {
				added++
			}
		}
	}
	rec.LogDecision("extractor", "datasets_extracted",
		fmt.Sprintf("%d records from %d documents", added, len(docs)), time.Now().UTC())
}

func (a *Activities) extractProjects(ctx context.Context, reasoningModel, structuredModel string, lookbackYears int, acceptedStatuses []string, rec *state.Record, docs []state.ScrapedDoc) {
	extractor := staged.NewExtractor(a.pipeline, staged.Options{
		ReasoningModel:   reasoningModel,
		StructuredModel:  structuredModel,
		LookbackYears:    lookbackYears,
		AcceptedStatuses: acceptedStatuses,
	}, a.logger)

	kept, filtered := 0, 0
	for _, doc := range docs {
		out, err := extractor.Process(ctx, doc, rec.Target.Label(), rec.Sector)
		if err != nil {
			metrics.PhaseFailures.WithLabelValues(PhaseExtract, "staged").Inc()
			rec.LogDecision("extractor", "document_extraction_failed",
				fmt.Sprintf("url %s: %v", doc.URL, err), time.Now().UTC())
			continue
		}
		if out.Discarded {
			filtered++
			rec.FundingFilterLog = append(rec.FundingFilterLog, state.FilterEntry{
				URL:       doc.URL,
				Reason:    out.DiscardReason,
				Timestamp: time.Now().UTC(),
			})
			continue
		}
		kept++
		rec.FundedProjects = append(rec.FundedProjects, *out.Project)
		if out.Followup != nil {
			rec.FundedFollowups = append(rec.FundedFollowups, *out.Followup)
			if !planContains(rec.SearchPlan, out.Followup.Query) {
				rec.SearchPlan = append(rec.SearchPlan, state.SearchTask{
					Query:      out.Followup.Query,
					Rank:       len(rec.SearchPlan) + 1,
					Status:     state.SearchPending,
					Provenance: "followup",
				})
			}
		}
	}
	rec.LogDecision("extractor", "projects_extracted",
		fmt.Sprintf("%d kept, %d filtered, from %d documents", kept, filtered, len(docs)), time.Now().UTC())
}
