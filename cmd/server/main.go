package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/circlehub/newsletter/internal/auth"
	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/database"
	"github.com/circlehub/newsletter/internal/email"
	"github.com/circlehub/newsletter/internal/handler"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/middleware"
	"github.com/circlehub/newsletter/internal/repository"
	"github.com/circlehub/newsletter/internal/router"
	"github.com/circlehub/newsletter/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting newsletter server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		version, err := db.MigrateUp(context.Background(), cfg.Database.Migrations)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Uint("version", version).Msg("database schema is current")
	}

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	subscriberRepo := repository.NewSubscriberRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Operator tokens guard the admin API
	tokenSvc, err := auth.NewTokenService(cfg.Security.Operator)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize operator token service")
	}

	// Delivery gateway
	sender, err := email.NewSender(context.Background(), cfg.Email, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email provider")
	}
	gateway := email.NewGateway(sender, cfg.Email.AppName, log).WithSendTimeout(cfg.Dispatch.SendTimeout)
	log.Info().Str("provider", cfg.Email.Provider).Msg("delivery gateway initialized")

	// Initialize services
	journal := service.NewRedisOutcomeJournal(rdb)
	subscriberSvc := service.NewSubscriberService(subscriberRepo, auditRepo, gateway, service.NewRedisCooldown(rdb), cfg, log)
	campaignSvc := service.NewCampaignService(campaignRepo, auditRepo, log)
	dispatchSvc := service.NewDispatchService(campaignRepo, subscriberRepo, gateway, journal, auditRepo, cfg, log)
	linkSigner, err := auth.NewLinkSigner(cfg.ClickLinkSecret())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize click link signer")
	}
	dispatchSvc.WithLinkSigner(linkSigner)
	reconciler := service.NewReconciler(campaignRepo, journal, auditRepo, cfg.Scheduler.StaleAfter, log)
	scheduler := service.NewScheduler(campaignRepo, dispatchSvc, reconciler, cfg.Scheduler, log)

	// Start the scheduler loop
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Scheduler.Enabled {
		scheduler.Start(ctx)
	} else {
		log.Warn().Msg("scheduler disabled; scheduled campaigns only fire on a forced check")
	}

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, subscriberSvc, campaignSvc, dispatchSvc, scheduler, gateway).
		WithLinkVerifier(linkSigner)

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw, tokenSvc, cfg)

	// Create HTTP server. Synchronous sends can outlast a short write timeout.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop scanning first; an in-flight dispatch runs to completion
	scheduler.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
