// Package activities implements the pipeline phases as Temporal activities.
// Each phase takes the run record, does its work through the shared service
// clients, and returns the updated record plus a wire action the workflow
// decodes for routing. Activities never route; routing is the workflow's job.
package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/config"
	"github.com/verdantlabs/prospector/internal/db"
	"github.com/verdantlabs/prospector/internal/extract"
	"github.com/verdantlabs/prospector/internal/runstatus"
	"github.com/verdantlabs/prospector/internal/state"
	"github.com/verdantlabs/prospector/internal/webclient"
)

// Activities holds the dependencies shared by all phase activities.
type Activities struct {
	cfg      *config.Manager
	models   extract.ModelClient
	pipeline *extract.Pipeline
	search   *webclient.SearchClient
	scrape   *webclient.ScrapeClient
	store    *db.Store        // optional
	status   *runstatus.Store // optional
	logger   *zap.Logger
}

// NewActivities creates an activities instance. store and status are optional
// collaborators; a nil value disables that concern.
func NewActivities(
	cfg *config.Manager,
	models extract.ModelClient,
	pipeline *extract.Pipeline,
	search *webclient.SearchClient,
	scrape *webclient.ScrapeClient,
	store *db.Store,
	status *runstatus.Store,
	logger *zap.Logger,
) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		cfg:      cfg,
		models:   models,
		pipeline: pipeline,
		search:   search,
		scrape:   scrape,
		store:    store,
		status:   status,
		logger:   logger,
	}
}

func (a *Activities) publishStatus(ctx context.Context, rec *state.Record, phase string) {
	if a.status == nil {
		return
	}
	a.status.Publish(ctx, runstatus.Status{
		RunID:       rec.RunID,
		Mode:        string(rec.Mode),
		Geography:   rec.Target.Label(),
		Sector:      rec.Sector,
		Phase:       phase,
		Iteration:   rec.CurrentIteration,
		DocsScraped: len(rec.ScrapedData),
	})
}
