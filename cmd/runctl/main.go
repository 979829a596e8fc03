// runctl submits a research run to the pipeline and optionally waits for the
// terminal decision.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/config"
	"github.com/verdantlabs/prospector/internal/state"
	"github.com/verdantlabs/prospector/internal/workflows"
)

func main() {
	var (
		prompt  = flag.String("prompt", "", "research goal (required)")
		country = flag.String("country", "", "target country")
		city    = flag.String("city", "", "target city")
		region  = flag.String("region", "", "target region")
		sector  = flag.String("sector", "", "sector focus")
		mode    = flag.String("mode", string(state.ModeGHGIData), "search mode: ghgi_data or funded_projects")
		wait    = flag.Bool("wait", true, "wait for the run to finish and print the result")
	)
	flag.Parse()

	if *prompt == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("PROSPECTOR_CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	input := workflows.PipelineInput{
		RunID:  uuid.New().String(),
		Prompt: *prompt,
		Target: state.Geography{Country: *country, City: *city, Region: *region},
		Sector: *sector,
		Mode:   state.Mode(*mode),

		MaxIterations:           cfg.Ceilings.MaxIterations,
		MaxConsecutiveDeepDives: cfg.Ceilings.MaxConsecutiveDeepDives,
	}
	if err := input.Target.Validate(); err != nil {
		logger.Fatal("Invalid geography", zap.Error(err))
	}
	if !input.Mode.Valid() {
		logger.Fatal("Invalid mode", zap.String("mode", *mode))
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer c.Close()

	ctx := context.Background()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "research-" + input.RunID,
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.ResearchPipelineWorkflow, input)
	if err != nil {
		logger.Fatal("Failed to start run", zap.Error(err))
	}
	logger.Info("Run started",
		zap.String("run_id", input.RunID),
		zap.String("workflow_id", run.GetID()),
	)

	if !*wait {
		return
	}

	var result workflows.PipelineResult
	if err := run.Get(ctx, &result); err != nil {
		logger.Fatal("Run failed", zap.Error(err))
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
