// Package main is the entry point for the compliance oracle service. The
// service watches regulator publications, turns them into reviewable ruleset
// patches, simulates their impact on the investor base, and serves the
// compliance API used by the rest of the platform.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rwa-platform/compliance-oracle/internal/compliance"
	"github.com/rwa-platform/compliance-oracle/internal/config"
	"github.com/rwa-platform/compliance-oracle/internal/database"
	"github.com/rwa-platform/compliance-oracle/internal/events"
	"github.com/rwa-platform/compliance-oracle/internal/oracle"
	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
	"github.com/rwa-platform/compliance-oracle/internal/reliability"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
	"github.com/rwa-platform/compliance-oracle/internal/scheduler"
	"github.com/rwa-platform/compliance-oracle/internal/scrapers"
	"github.com/rwa-platform/compliance-oracle/internal/server"
	"github.com/rwa-platform/compliance-oracle/internal/simulator"
	"github.com/rwa-platform/compliance-oracle/pkg/logger"
)

func main() {
	// Load configuration first to get log level.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting compliance oracle")

	// The sqlite ledger backs scraper dedup and run history. One database is
	// enough; rulesets and pending changes live as JSON documents on disk so
	// they stay diffable and auditable.
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "compliance.db"),
		Profile: database.ProfileStandard,
		Name:    "compliance",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	eventManager := events.NewManager(log)

	rulesStore, err := rules.NewStore(cfg.JurisdictionsDir(), eventManager, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ruleset store")
	}

	// The reasoner client is only constructed when the oracle loop is on;
	// Validate() has already required the API key in that case.
	var reasonerClient *reasoner.Client
	if cfg.OracleEnabled {
		reasonerClient, err = reasoner.NewClient(reasoner.Config{
			APIKey:  cfg.ReasonerAPIKey,
			Model:   cfg.ReasonerModel,
			BaseURL: cfg.ReasonerBaseURL,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize reasoner client")
		}
		defer reasonerClient.Close()
	}

	investorClient := simulator.NewInvestorClient(cfg.InvestorAPIURL, log)
	impactSimulator := simulator.New(investorClient, log)

	var complianceService *compliance.Service
	if reasonerClient != nil {
		complianceService = compliance.New(reasonerClient, rulesStore, cfg.ConfidenceThreshold, log)
	} else {
		// Nil reasoner: every compliance operation uses its deterministic
		// fallback path.
		complianceService = compliance.New(nil, rulesStore, cfg.ConfidenceThreshold, log)
	}

	var oracleService *oracle.Service
	if reasonerClient != nil {
		changeStore, err := oracle.NewChangeStore(cfg.PendingChangesDir(), log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize change store")
		}
		oracleService = oracle.New(oracle.Config{
			Analyzer:      reasonerClient,
			Rules:         rulesStore,
			Simulator:     impactSimulator,
			Changes:       changeStore,
			Events:        eventManager,
			MinConfidence: cfg.OracleMinConfidence,
		}, log)
	} else {
		log.Warn().Msg("Oracle loop disabled, running ingestion and rules API only")
	}

	// Regulator scrapers share a seen-set and write per-source audit files.
	seenRepo := scrapers.NewSeenRepository(db)
	auditTrail := scrapers.NewAuditTrail(cfg.UpdatesDir(), log)

	var runners []*scrapers.Runner
	if cfg.SECScraperEnabled {
		runners = append(runners, scrapers.NewRunner(scrapers.NewSECScraper(log), seenRepo, auditTrail, log))
	}
	if cfg.MASScraperEnabled {
		runners = append(runners, scrapers.NewRunner(scrapers.NewMASScraper(log), seenRepo, auditTrail, log))
	}

	runsRepo := scheduler.NewRunsRepository(db, log)
	reportDir := filepath.Join(cfg.UpdatesDir(), "daily_runs")

	var dailyJob *scheduler.DailyUpdateJob
	if oracleService != nil {
		dailyJob = scheduler.NewDailyUpdateJob(runners, oracleService, rulesStore, eventManager, runsRepo, reportDir, log)
	} else {
		dailyJob = scheduler.NewDailyUpdateJob(runners, nil, rulesStore, eventManager, runsRepo, reportDir, log)
	}

	sched := scheduler.New(log)
	if len(runners) > 0 {
		if err := sched.AddJob(cfg.DailyCron, dailyJob); err != nil {
			log.Fatal().Err(err).Str("cron", cfg.DailyCron).Msg("Failed to register daily update job")
		}
	}

	// Cloud backup of the data directory is optional.
	if cfg.Backup != nil && cfg.Backup.Enabled && cfg.Backup.Bucket != "" {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Options{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("Backup disabled, could not initialize storage client")
		} else {
			backupService := reliability.NewBackupService(s3Client, cfg.DataDir, log)
			backupJob := reliability.NewBackupJob(backupService, cfg.Backup.KeepCount)
			if err := sched.AddJob(cfg.Backup.Cron, backupJob); err != nil {
				log.Error().Err(err).Str("cron", cfg.Backup.Cron).Msg("Failed to register backup job")
			}
		}
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:        log,
		Config:     cfg,
		Compliance: complianceService,
		Oracle:     oracleService,
		Rules:      rulesStore,
		Runs:       runsRepo,
		Scheduler:  sched,
		DailyJob:   dailyJob,
		DB:         db,
		Model:      cfg.ReasonerModel,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
