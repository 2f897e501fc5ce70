package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/metrics"
	"github.com/circlehub/newsletter/internal/model"
)

// Scan triggers
const (
	TriggerInterval = "interval"
	TriggerManual   = "manual"
)

// ScheduledDispatcher sends one due campaign. Implemented by DispatchService.
type ScheduledDispatcher interface {
	DispatchScheduled(ctx context.Context, c *model.Campaign) (*model.DispatchSummary, error)
}

// Scheduler periodically fires due campaigns. It holds no lock of its own:
// the store's compare-and-set claim is the only guard, so any number of
// schedulers may run side by side.
type Scheduler struct {
	campaigns  CampaignStore
	dispatcher ScheduledDispatcher
	reconciler *Reconciler
	cfg        config.SchedulerConfig
	log        *logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new Scheduler. reconciler may be nil.
func NewScheduler(campaigns CampaignStore, dispatcher ScheduledDispatcher, reconciler *Reconciler, cfg config.SchedulerConfig, log *logger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log.WithComponent("scheduler"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the scan loop in the background until Stop is called or ctx ends
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.log.Info().Dur("interval", s.cfg.Interval).Msg("scheduler started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("scheduler stopped")
				return
			case <-ticker.C:
				if _, err := s.Scan(ctx, TriggerInterval); err != nil {
					s.log.Error().Err(err).Msg("scheduled scan failed")
				}
			}
		}
	}()
}

// Stop ends the scan loop and waits for an in-flight scan to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ForceCheck runs an immediate scan outside the normal interval
func (s *Scheduler) ForceCheck(ctx context.Context) (*model.ScanResult, error) {
	return s.Scan(ctx, TriggerManual)
}

// Scan dispatches every due campaign with bounded concurrency, then runs the
// repair sweep. When nothing is due and nothing is stale it writes nothing.
func (s *Scheduler) Scan(ctx context.Context, trigger string) (*model.ScanResult, error) {
	metrics.SchedulerScans.WithLabelValues(trigger).Inc()

	due, err := s.campaigns.FindDue(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to find due campaigns: %w", err)
	}
	metrics.SchedulerDue.Set(float64(len(due)))

	result := &model.ScanResult{Due: len(due)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range due {
		g.Go(func() error {
			summary, err := s.dispatcher.DispatchScheduled(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors++
				s.log.Error().Err(err).Str("campaign_id", c.ID).Msg("scheduled dispatch failed")
			case !summary.Claimed:
				result.Skipped++
			default:
				result.Dispatched++
				result.Summaries = append(result.Summaries, *summary)
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.reconciler != nil {
		repaired, err := s.reconciler.Repair(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("repair sweep failed")
		}
		result.Repaired = repaired
	}

	if result.Due > 0 || result.Repaired > 0 {
		s.log.Info().
			Str("trigger", trigger).
			Int("due", result.Due).
			Int("dispatched", result.Dispatched).
			Int("skipped", result.Skipped).
			Int("errors", result.Errors).
			Int("repaired", result.Repaired).
			Msg("scan complete")
	}
	return result, nil
}
