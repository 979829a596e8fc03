package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/activities"
	"github.com/verdantlabs/prospector/internal/backoff"
	"github.com/verdantlabs/prospector/internal/config"
	"github.com/verdantlabs/prospector/internal/db"
	"github.com/verdantlabs/prospector/internal/extract"
	"github.com/verdantlabs/prospector/internal/health"
	"github.com/verdantlabs/prospector/internal/llm"
	"github.com/verdantlabs/prospector/internal/runstatus"
	"github.com/verdantlabs/prospector/internal/webclient"
	"github.com/verdantlabs/prospector/internal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfgMgr, err := config.NewManager(os.Getenv("PROSPECTOR_CONFIG_PATH"), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	defer cfgMgr.Close()
	cfg := cfgMgr.Get()

	policy := backoff.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BaseDelay:    cfg.Retry.BaseDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		JitterFactor: cfg.Retry.JitterFactor,
	}
	models := llm.NewClient(cfg.Services.LLMBaseURL, policy, logger)
	pipeline := extract.NewPipeline(models, extract.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		RetryDelay:  cfg.Retry.BaseDelay,
	}, logger)
	search := webclient.NewSearchClient(cfg.Services.SearchBaseURL, policy, logger)
	scrape := webclient.NewScrapeClient(cfg.Services.ScrapeBaseURL, policy, logger)

	hm := health.NewManager(logger)

	var store *db.Store
	if cfg.Services.PostgresDSN != "" {
		store, err = db.NewStore(cfg.Services.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer store.Close()
		hm.Register(health.CheckerFunc{ComponentName: "postgres", IsCritical: false, Fn: store.Ping})
	}

	var status *runstatus.Store
	if cfg.Services.RedisURL != "" {
		status = runstatus.New(cfg.Services.RedisURL, logger)
		defer status.Close()
		hm.Register(health.CheckerFunc{ComponentName: "redis", IsCritical: false, Fn: status.Ping})
	}

	// Admin endpoints: Prometheus metrics plus liveness and readiness probes.
	adminPort := 8081
	if p := os.Getenv("ADMIN_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			adminPort = n
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hm.RegisterRoutes(mux)
	adminSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(adminPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", adminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()
	hm.Register(health.CheckerFunc{ComponentName: "temporal", IsCritical: true, Fn: func(ctx context.Context) error {
		_, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}})

	acts := activities.NewActivities(cfgMgr, models, pipeline, search, scrape, store, status, logger)

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchPipelineWorkflow)
	w.RegisterActivity(acts)

	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start worker", zap.Error(err))
	}
	logger.Info("Worker started",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("temporal", cfg.Temporal.HostPort),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down")
	w.Stop()
}
