package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/metrics"
	"github.com/circlehub/newsletter/internal/model"
	"github.com/circlehub/newsletter/internal/repository"
)

// InterruptedReason is recorded on campaigns whose dispatch vanished without an outcome
const InterruptedReason = "interrupted: delivery outcome unknown"

// Reconciler settles campaigns stuck in "sending", either because the
// terminal write failed or because the process died mid-dispatch. It never
// sends anything.
type Reconciler struct {
	campaigns  CampaignStore
	journal    OutcomeJournal
	audit      auditor
	staleAfter time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// NewReconciler creates a new Reconciler
func NewReconciler(campaigns CampaignStore, journal OutcomeJournal, auditRepo AuditWriter, staleAfter time.Duration, log *logger.Logger) *Reconciler {
	log = log.WithComponent("reconciler")
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Reconciler{
		campaigns:  campaigns,
		journal:    journal,
		audit:      auditor{repo: auditRepo, log: log},
		staleAfter: staleAfter,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Repair applies the journaled outcome of every stale sending campaign, or
// marks it failed when none was journaled. Returns the number repaired.
func (r *Reconciler) Repair(ctx context.Context) (int, error) {
	stale, err := r.campaigns.FindStale(ctx, r.now().Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to find stale campaigns: %w", err)
	}

	repaired := 0
	for _, c := range stale {
		ok, err := r.repairOne(ctx, c)
		if err != nil {
			r.log.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to repair campaign")
			continue
		}
		if ok {
			repaired++
		}
	}
	return repaired, nil
}

func (r *Reconciler) repairOne(ctx context.Context, c *model.Campaign) (bool, error) {
	outcome := model.DispatchOutcome{
		CampaignID: c.ID,
		Status:     model.CampaignStatusFailed,
		Reason:     InterruptedReason,
		DecidedAt:  r.now(),
	}
	journaled := false

	if r.journal != nil {
		recorded, err := r.journal.Lookup(ctx, c.ID)
		if err != nil {
			return false, fmt.Errorf("failed to read outcome journal: %w", err)
		}
		if recorded != nil {
			outcome = *recorded
			journaled = true
		}
	}

	if err := applyOutcome(ctx, r.campaigns, outcome); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Settled by its own dispatch in the meantime
			return false, nil
		}
		return false, err
	}

	if journaled {
		if err := r.journal.Clear(ctx, c.ID); err != nil {
			r.log.Warn().Err(err).Str("campaign_id", c.ID).Msg("failed to clear journaled outcome")
		}
	}

	metrics.CampaignsRepaired.Inc()
	metrics.CampaignsFinished.WithLabelValues(string(outcome.Status)).Inc()
	r.audit.record(ctx, model.AuditActionCampaignRepaired, model.AuditResourceCampaign, c.ID, map[string]interface{}{
		"status":    string(outcome.Status),
		"journaled": journaled,
	})
	r.log.Warn().
		Str("campaign_id", c.ID).
		Str("status", string(outcome.Status)).
		Bool("journaled", journaled).
		Msg("stale campaign reconciled")
	return true, nil
}
