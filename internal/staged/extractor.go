// Package staged progressively enriches candidate funded-project records
// across extraction stages. Stage 1 extracts only what the scope gate needs
// and gates immediately; later stages add financing and technical fields,
// merging without ever regressing a known value; the final stage synthesizes
// follow-up searches for missing critical fields instead of fabricating them.
package staged

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/extract"
	"github.com/verdantlabs/prospector/internal/gate"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/state"
)

// maxDocBytes bounds how much page content each stage prompt carries.
const maxDocBytes = 12000

var stage1Schema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": ["string", "null"]},
    "status": {"type": ["string", "null"]},
    "start_date": {"type": ["string", "null"], "description": "YYYY-MM-DD"},
    "end_date": {"type": ["string", "null"], "description": "YYYY-MM-DD"},
    "location": {"type": ["string", "null"]},
    "source_url": {"type": ["string", "null"]}
  },
  "required": ["title", "status"]
}`)

var stage2Schema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "amount": {"type": ["string", "null"]},
    "currency": {"type": ["string", "null"]},
    "funding_source": {"type": ["string", "null"]},
    "instrument": {"type": ["string", "null"]},
    "recipient": {"type": ["string", "null"]}
  }
}`)

var stage3Schema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "sector": {"type": ["string", "null"]},
    "technology": {"type": ["string", "null"]},
    "capacity_mw": {"type": ["string", "null"]},
    "emissions_impact": {"type": ["string", "null"]},
    "beneficiaries": {"type": ["string", "null"]}
  }
}`)

type stage1Wire struct {
	Title     *string `json:"title"`
	Status    *string `json:"status"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	Location  *string `json:"location"`
	SourceURL *string `json:"source_url"`
}

type stage2Wire struct {
	Amount        *string `json:"amount"`
	Currency      *string `json:"currency"`
	FundingSource *string `json:"funding_source"`
	Instrument    *string `json:"instrument"`
	Recipient     *string `json:"recipient"`
}

type stage3Wire struct {
	Sector          *string `json:"sector"`
	Technology      *string `json:"technology"`
	CapacityMW      *string `json:"capacity_mw"`
	EmissionsImpact *string `json:"emissions_impact"`
	Beneficiaries   *string `json:"beneficiaries"`
}

// Options configures an Extractor.
type Options struct {
	ReasoningModel   string
	StructuredModel  string
	LookbackYears    int
	AcceptedStatuses []string
}

// Extractor runs the staged protocol for one candidate at a time.
type Extractor struct {
	pipeline *extract.Pipeline
	opts     Options
	logger   *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewExtractor creates a staged extractor.
func NewExtractor(pipeline *extract.Pipeline, opts Options, logger *zap.Logger) *Extractor {
	if opts.LookbackYears <= 0 {
		opts.LookbackYears = 5
	}
	if len(opts.AcceptedStatuses) == 0 {
		opts.AcceptedStatuses = []string{"funded", "approved", "under implementation"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{pipeline: pipeline, opts: opts, logger: logger, now: time.Now}
}

// Outcome is the result of processing one candidate document.
type Outcome struct {
	// Project is the accumulated record; nil when the candidate was
	// discarded before stage 1 produced anything.
	Project *state.ProjectRecord
	// Gate is stage 1's gate decision.
	Gate gate.Result
	// Followup is a synthesized search request for missing critical
	// fields, when any.
	Followup *state.FollowupRequest
	// Evidence is the append-only per-stage extraction log.
	Evidence []state.StageEvidence
	// Discarded is true when the candidate was gated out or stage 1 failed;
	// DiscardReason retains why.
	Discarded     bool
	DiscardReason string
}

// criticalFields is the required set checked in stage 4. It is distinct from
// the stage-1 gating set: the gate cares about status and dates, the pipeline
// cannot publish a project without these.
var criticalFields = []string{"title", "source_url", "start_date", "funding_amount", "funding_source"}

// Process runs all stages for one scraped document.
func (e *Extractor) Process(ctx context.Context, doc state.ScrapedDoc, geography, sector string) (Outcome, error) {
	var out Outcome

	// Stage 1: gate fields only, then gate. A rejection stops all further
	// stages so no downstream model calls are wasted on out-of-scope
	// candidates.
	s1, err := e.runStage1(ctx, doc, geography, sector)
	if err != nil {
		var ee *extract.ExtractionError
		if errors.As(err, &ee) {
			out.Discarded = true
			out.DiscardReason = fmt.Sprintf("stage1_extraction_failed: %v", ee.Err)
			return out, nil
		}
		return out, err
	}

	project := state.ProjectRecord{
		Title:     s1.Title,
		Status:    s1.Status,
		StartDate: s1.StartDate,
		EndDate:   s1.EndDate,
		Location:  s1.Location,
		SourceURL: s1.SourceURL,
	}
	if project.SourceURL == nil {
		project.SourceURL = state.Str(doc.URL)
	}
	out.Evidence = append(out.Evidence, state.StageEvidence{Stage: 1, Fields: project, At: e.now()})

	out.Gate = gate.Evaluate(
		state.Deref(project.Status),
		state.Deref(project.StartDate),
		state.Deref(project.EndDate),
		e.opts.LookbackYears,
		e.opts.AcceptedStatuses,
		e.now(),
	)
	metrics.GateOutcomes.WithLabelValues(string(out.Gate.Reason)).Inc()
	project.GateReason = string(out.Gate.Reason)

	if !out.Gate.InScope {
		out.Discarded = true
		out.DiscardReason = string(out.Gate.Reason)
		out.Project = &project
		e.logger.Info("Candidate gated out",
			zap.String("url", doc.URL),
			zap.String("reason", string(out.Gate.Reason)),
		)
		return out, nil
	}

	// Stage 2: financing. A stage failure past the gate degrades to the
	// fields accumulated so far rather than discarding the candidate.
	if s2, err := e.runStage2(ctx, doc); err == nil {
		upd := state.ProjectRecord{Financing: &state.Financing{
			Amount:        s2.Amount,
			Currency:      s2.Currency,
			FundingSource: s2.FundingSource,
			Instrument:    s2.Instrument,
			Recipient:     s2.Recipient,
		}}
		project = state.MergeProject(project, upd)
		out.Evidence = append(out.Evidence, state.StageEvidence{Stage: 2, Fields: upd, At: e.now()})
	} else {
		e.logger.Warn("Financing stage failed, keeping accumulated fields", zap.String("url", doc.URL), zap.Error(err))
	}

	// Stage 3: technical/impact descriptors.
	if s3, err := e.runStage3(ctx, doc); err == nil {
		upd := state.ProjectRecord{Technical: &state.Technical{
			Sector:          s3.Sector,
			Technology:      s3.Technology,
			CapacityMW:      s3.CapacityMW,
			EmissionsImpact: s3.EmissionsImpact,
			Beneficiaries:   s3.Beneficiaries,
		}}
		project = state.MergeProject(project, upd)
		out.Evidence = append(out.Evidence, state.StageEvidence{Stage: 3, Fields: upd, At: e.now()})
	} else {
		e.logger.Warn("Technical stage failed, keeping accumulated fields", zap.String("url", doc.URL), zap.Error(err))
	}

	// Stage 4: check critical fields and synthesize a follow-up search for
	// whatever is missing. Values are never invented here.
	if missing := missingCriticalFields(project); len(missing) > 0 {
		out.Followup = &state.FollowupRequest{
			ProjectTitle:  state.Deref(project.Title),
			MissingFields: missing,
			Query:         followupQuery(project, geography, missing),
		}
	}

	out.Project = &project
	return out, nil
}

func missingCriticalFields(p state.ProjectRecord) []string {
	var missing []string
	for _, f := range criticalFields {
		switch f {
		case "title":
			if state.Deref(p.Title) == "" {
				missing = append(missing, f)
			}
		case "source_url":
			if state.Deref(p.SourceURL) == "" {
				missing = append(missing, f)
			}
		case "start_date":
			if state.Deref(p.StartDate) == "" {
				missing = append(missing, f)
			}
		case "funding_amount":
			if p.Financing == nil || state.Deref(p.Financing.Amount) == "" {
				missing = append(missing, f)
			}
		case "funding_source":
			if p.Financing == nil || state.Deref(p.Financing.FundingSource) == "" {
				missing = append(missing, f)
			}
		}
	}
	return missing
}

func followupQuery(p state.ProjectRecord, geography string, missing []string) string {
	title := state.Deref(p.Title)
	if title == "" {
		title = "climate project"
	}
	return fmt.Sprintf("%q %s %s", title, geography, strings.Join(missing, " "))
}

func (e *Extractor) runStage1(ctx context.Context, doc state.ScrapedDoc, geography, sector string) (stage1Wire, error) {
	req := extract.Request{
		ReasoningModel:  e.opts.ReasoningModel,
		StructuredModel: e.opts.StructuredModel,
		SystemPrompt: fmt.Sprintf(
			"You identify funded climate projects in %s (%s sector). From the page below, describe the single most prominent project: its exact title, funding status, start and end dates, and location. If a detail is not stated, say so.",
			geography, sector),
		UserPrompt: docPrompt(doc),
		Schema:     stage1Schema,
	}
	items, _, err := extract.RunAs[stage1Wire](ctx, e.pipeline, req)
	if err != nil {
		return stage1Wire{}, err
	}
	return items[0], nil
}

func (e *Extractor) runStage2(ctx context.Context, doc state.ScrapedDoc) (stage2Wire, error) {
	req := extract.Request{
		ReasoningModel:  e.opts.ReasoningModel,
		StructuredModel: e.opts.StructuredModel,
		SystemPrompt:    "You extract project financing details: amount, currency, funding source, financial instrument, and recipient. Only report values stated in the page.",
		UserPrompt:      docPrompt(doc),
		Schema:          stage2Schema,
	}
	items, _, err := extract.RunAs[stage2Wire](ctx, e.pipeline, req)
	if err != nil {
		return stage2Wire{}, err
	}
	return items[0], nil
}

func (e *Extractor) runStage3(ctx context.Context, doc state.ScrapedDoc) (stage3Wire, error) {
	req := extract.Request{
		ReasoningModel:  e.opts.ReasoningModel,
		StructuredModel: e.opts.StructuredModel,
		SystemPrompt:    "You extract technical and impact descriptors of a climate project: sector, technology, capacity in MW, expected emissions impact, and beneficiaries. Only report values stated in the page.",
		UserPrompt:      docPrompt(doc),
		Schema:          stage3Schema,
	}
	items, _, err := extract.RunAs[stage3Wire](ctx, e.pipeline, req)
	if err != nil {
		return stage3Wire{}, err
	}
	return items[0], nil
}

func docPrompt(doc state.ScrapedDoc) string {
	content := doc.Content
	if len(content) > maxDocBytes {
		content = content[:maxDocBytes]
	}
	return fmt.Sprintf("URL: %s\nTitle: %s\n\n%s", doc.URL, doc.Title, content)
}
