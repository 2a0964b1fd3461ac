package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshguard/fraudhub/internal/advisory"
	"github.com/meshguard/fraudhub/internal/api"
	"github.com/meshguard/fraudhub/internal/config"
	"github.com/meshguard/fraudhub/internal/correlation"
	"github.com/meshguard/fraudhub/internal/db"
	"github.com/meshguard/fraudhub/internal/escalation"
	"github.com/meshguard/fraudhub/internal/graph"
	"github.com/meshguard/fraudhub/internal/pipeline"
	"github.com/meshguard/fraudhub/internal/pruner"
	"github.com/meshguard/fraudhub/internal/telemetry"
)

func main() {
	log.Println("Starting MeshGuard Collective Fraud Intelligence Hub...")

	// Local development reads configuration from a .env file:
	// cp .env.example .env && edit. Production injects real env vars.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	tracker := telemetry.NewTracker()
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	g := graph.New()
	store := advisory.NewStore(cfg.MaxAdvisories)
	pipe := pipeline.New(g,
		correlation.New(cfg.EntityThreshold, cfg.TimeWindow),
		escalation.New(cfg.CriticalThreshold, cfg.HighThreshold, cfg.MediumThreshold),
		store)

	// Optional advisory archive. The hub is fully functional without
	// it; a failed connection only costs the audit trail.
	var archive *db.ArchiveStore
	if cfg.DatabaseURL != "" {
		archive, err = db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without archiving advisories. Error: %v", err)
		} else {
			defer archive.Close()
			if err := archive.InitSchema(); err != nil {
				log.Printf("Warning: archive schema init failed: %v", err)
			}
		}
	}

	hub := api.NewHub(metrics)
	go hub.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go pruner.New(pipe, cfg.PruneInterval, cfg.MaxGraphAge, tracker, metrics).Run(ctx)

	r := api.SetupRouter(api.Deps{
		Config:     cfg,
		Pipeline:   pipe,
		Graph:      g,
		Advisories: store,
		Hub:        hub,
		Tracker:    tracker,
		Metrics:    metrics,
		Archive:    archive,
	})

	log.Printf("Hub listening on %s (threshold=%d, window=%s)", cfg.Addr(), cfg.EntityThreshold, cfg.TimeWindow)
	if err := r.Run(cfg.Addr()); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
