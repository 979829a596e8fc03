package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/db"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/runstatus"
)

// Persist writes the finished run's artifact to disk and, when a database is
// configured, inserts the run row. The artifact is the full record so a run
// is auditable from its decision log alone.
func (a *Activities) Persist(ctx context.Context, in PersistInput) (PersistResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPhase(PhasePersist, time.Since(start).Seconds()) }()

	rec := in.Record
	cfg := a.cfg.Get()

	artifact, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return PersistResult{}, fmt.Errorf("marshaling run artifact: %w", err)
	}

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = "runs"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return PersistResult{}, fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(outDir, fmt.Sprintf("%s_%s.json", time.Now().UTC().Format("20060102T150405"), rec.RunID))
	if err := os.WriteFile(path, artifact, 0o644); err != nil {
		return PersistResult{}, fmt.Errorf("writing run artifact: %w", err)
	}

	if a.store != nil {
		row := db.RunRow{
			RunID:         rec.RunID,
			Mode:          string(rec.Mode),
			Geography:     rec.Target.Label(),
			Sector:        rec.Sector,
			Iterations:    rec.CurrentIteration,
			FinalDecision: in.FinalDecision,
			Artifact:      artifact,
		}
		if err := a.store.SaveRun(ctx, row); err != nil {
			return PersistResult{}, fmt.Errorf("persisting run row: %w", err)
		}
	}

	if a.status != nil {
		a.status.Publish(ctx, runstatus.Status{
			RunID:         rec.RunID,
			Mode:          string(rec.Mode),
			Geography:     rec.Target.Label(),
			Sector:        rec.Sector,
			Phase:         PhasePersist,
			Iteration:     rec.CurrentIteration,
			DocsScraped:   len(rec.ScrapedData),
			FinalDecision: in.FinalDecision,
		})
	}

	metrics.RecordRunCompleted(string(rec.Mode), in.FinalDecision, rec.CurrentIteration)
	a.logger.Info("Run persisted",
		zap.String("run_id", rec.RunID),
		zap.String("decision", in.FinalDecision),
		zap.String("artifact", path),
	)
	return PersistResult{ArtifactPath: path}, nil
}
