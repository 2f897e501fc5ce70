package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/circlehub/newsletter/internal/auth"
	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/database"
	"github.com/circlehub/newsletter/internal/email"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/repository"
	"github.com/circlehub/newsletter/internal/service"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Dispatch due scheduled campaigns now",
	Long: `Dispatch due scheduled campaigns now.

By default the running server performs the scan. With --local the scan runs
in this process against the configured database, which suits a cron job when
the server's scheduler is disabled. --repair only runs the repair sweep that
settles campaigns stuck in "sending"; it never sends email.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("local", false, "scan in this process instead of asking the server")
	scanCmd.Flags().Bool("repair", false, "only settle stale sending campaigns (implies --local)")
}

func runScan(cmd *cobra.Command, args []string) error {
	local, _ := cmd.Flags().GetBool("local")
	repair, _ := cmd.Flags().GetBool("repair")

	if !local && !repair {
		result, err := apiClient().ForceSchedulerCheck(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	env, err := openLocal(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer env.close()

	if repair {
		repaired, err := env.reconciler.Repair(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"repaired": repaired})
	}

	result, err := env.scheduler.Scan(cmd.Context(), service.TriggerManual)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

// localEnv holds the services needed to scan without the server
type localEnv struct {
	db         *database.Postgres
	rdb        *database.Redis
	reconciler *service.Reconciler
	scheduler  *service.Scheduler
}

func openLocal(ctx context.Context, cfg *config.Config, log *logger.Logger) (*localEnv, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sender, err := email.NewSender(ctx, cfg.Email, log)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	gateway := email.NewGateway(sender, cfg.Email.AppName, log).WithSendTimeout(cfg.Dispatch.SendTimeout)

	subscriberRepo := repository.NewSubscriberRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	journal := service.NewRedisOutcomeJournal(rdb)

	dispatchSvc := service.NewDispatchService(campaignRepo, subscriberRepo, gateway, journal, auditRepo, cfg, log)
	if signer, err := auth.NewLinkSigner(cfg.ClickLinkSecret()); err == nil {
		dispatchSvc.WithLinkSigner(signer)
	} else {
		log.Warn().Err(err).Msg("click tracking disabled for local scan")
	}
	reconciler := service.NewReconciler(campaignRepo, journal, auditRepo, cfg.Scheduler.StaleAfter, log)

	return &localEnv{
		db:         db,
		rdb:        rdb,
		reconciler: reconciler,
		scheduler:  service.NewScheduler(campaignRepo, dispatchSvc, reconciler, cfg.Scheduler, log),
	}, nil
}

func (e *localEnv) close() {
	e.rdb.Close()
	e.db.Close()
}
