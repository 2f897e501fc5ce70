package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/email"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/metrics"
	"github.com/circlehub/newsletter/internal/model"
	"github.com/circlehub/newsletter/internal/repository"
)

// maxSummaryErrors caps the distinct failure reasons kept in a summary
const maxSummaryErrors = 10

// errOutcomeSuperseded means the campaign reached a terminal state the
// dispatch must not overwrite
var errOutcomeSuperseded = errors.New("dispatch outcome superseded")

// DispatchService sends one campaign to the deliverable audience, exactly
// once per successful claim
type DispatchService struct {
	campaigns CampaignStore
	audience  AudienceSource
	gateway   DeliveryGateway
	journal   OutcomeJournal
	audit     auditor
	cfg       config.DispatchConfig
	baseURL   string
	links     LinkSigner
	// heartbeat is a third of the reconciler's stale window
	heartbeat time.Duration
	log       *logger.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatchService creates a new DispatchService
func NewDispatchService(
	campaigns CampaignStore,
	audience AudienceSource,
	gateway DeliveryGateway,
	journal OutcomeJournal,
	auditRepo AuditWriter,
	cfg *config.Config,
	log *logger.Logger,
) *DispatchService {
	log = log.WithComponent("dispatch")
	return &DispatchService{
		campaigns: campaigns,
		audience:  audience,
		gateway:   gateway,
		journal:   journal,
		audit:     auditor{repo: auditRepo, log: log},
		cfg:       withDispatchDefaults(cfg.Dispatch),
		baseURL:   strings.TrimRight(cfg.Email.PublicBaseURL, "/"),
		heartbeat: heartbeatInterval(cfg.Scheduler.StaleAfter),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

// WithLinkSigner enables click tracking: every absolute link in an HTML body
// is routed through the signed /t/c redirect
func (s *DispatchService) WithLinkSigner(links LinkSigner) *DispatchService {
	s.links = links
	return s
}

// SendCampaign sends a draft or scheduled campaign now. A campaign in any
// other status, or one another worker claimed first, yields a summary with
// Claimed false and no error.
func (s *DispatchService) SendCampaign(ctx context.Context, id string) (*model.DispatchSummary, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	if c.Status != model.CampaignStatusDraft && c.Status != model.CampaignStatusScheduled {
		return &model.DispatchSummary{CampaignID: id, Status: c.Status}, nil
	}

	claimed, err := s.campaigns.Transition(ctx, id, c.Status, model.CampaignStatusSending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign: %w", err)
	}
	return s.dispatch(ctx, id, c.Status, claimed)
}

// DispatchScheduled sends a campaign found by the scheduler. The claim only
// succeeds while the campaign is still scheduled and still due, so an edit
// or reschedule after the scan wins over the scan's copy.
func (s *DispatchService) DispatchScheduled(ctx context.Context, c *model.Campaign) (*model.DispatchSummary, error) {
	claimed, err := s.campaigns.ClaimDue(ctx, c.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign: %w", err)
	}
	return s.dispatch(ctx, c.ID, model.CampaignStatusScheduled, claimed)
}

func (s *DispatchService) dispatch(ctx context.Context, id string, from model.CampaignStatus, claimed bool) (*model.DispatchSummary, error) {
	log := s.log.WithCampaignID(id)
	if !claimed {
		log.Debug().Str("from", string(from)).Msg("campaign not claimable, skipped")
		return &model.DispatchSummary{CampaignID: id}, nil
	}

	// Once claimed the dispatch runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	timer := metrics.StartDispatchTimer()
	defer timer.ObserveDuration()

	summary := &model.DispatchSummary{
		CampaignID: id,
		Claimed:    true,
		StartedAt:  s.now(),
	}
	s.audit.record(ctx, model.AuditActionCampaignClaimed, model.AuditResourceCampaign, id, map[string]interface{}{
		"from": string(from),
	})

	// Content is read after the claim; edits are refused from here on
	var outcome model.DispatchOutcome
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("failed to reload claimed campaign")
		summary.Errors = []string{"campaign could not be reloaded"}
		outcome = model.DispatchOutcome{
			CampaignID: id,
			Status:     model.CampaignStatusFailed,
			Reason:     "could not reload the campaign: " + err.Error(),
			DecidedAt:  s.now(),
		}
	} else {
		log.Info().Msg("dispatch started")
		stop := s.keepAlive(ctx, id)
		listErr := s.deliver(ctx, c, summary)
		stop()
		outcome = s.decide(id, summary, listErr)
	}

	summary.Status = outcome.Status
	summary.FinishedAt = s.now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)

	restored, err := s.finish(ctx, outcome)
	if errors.Is(err, errOutcomeSuperseded) {
		if cur, gerr := s.campaigns.GetByID(ctx, id); gerr == nil {
			summary.Status = cur.Status
		}
		log.Error().
			Str("outcome", string(outcome.Status)).
			Str("status", string(summary.Status)).
			Int("success", summary.SuccessCount).
			Int("failure", summary.FailureCount).
			Msg("campaign settled elsewhere during dispatch, outcome discarded")
		return summary, nil
	}
	if err != nil {
		log.Error().Err(err).
			Str("status", string(outcome.Status)).
			Int("success", summary.SuccessCount).
			Int("failure", summary.FailureCount).
			Msg("campaign left in sending, outcome journaled for repair")
		return summary, err
	}

	metrics.CampaignsFinished.WithLabelValues(string(outcome.Status)).Inc()
	action := model.AuditActionCampaignSent
	if outcome.Status == model.CampaignStatusFailed {
		action = model.AuditActionCampaignFailed
	}
	metadata := map[string]interface{}{
		"audience": summary.Audience,
		"success":  summary.SuccessCount,
		"failure":  summary.FailureCount,
	}
	if restored {
		metadata["restored"] = true
	}
	s.audit.record(ctx, action, model.AuditResourceCampaign, id, metadata)

	log.Info().
		Str("status", string(outcome.Status)).
		Int("audience", summary.Audience).
		Int("success", summary.SuccessCount).
		Int("failure", summary.FailureCount).
		Dur("duration", summary.Duration).
		Msg("dispatch finished")
	return summary, nil
}

// keepAlive keeps updated_at fresh while the campaign is sending so the
// reconciler never takes a live dispatch for a dead one. The returned func
// stops it and waits for the goroutine to exit.
func (s *DispatchService) keepAlive(ctx context.Context, id string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				alive, err := s.campaigns.Touch(ctx, id)
				if err != nil {
					s.log.Warn().Err(err).Str("campaign_id", id).Msg("dispatch heartbeat failed")
					continue
				}
				if !alive {
					s.log.Error().Str("campaign_id", id).Msg("campaign left sending during dispatch")
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// deliver sends c to every deliverable subscriber with bounded concurrency.
// Individual failures never stop the run. The returned error is non-nil only
// when the audience could not be read to the end.
func (s *DispatchService) deliver(ctx context.Context, c *model.Campaign, summary *model.DispatchSummary) error {
	var (
		mu      sync.Mutex
		reasons = map[string]struct{}{}
	)

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	base := s.buildMessage(c)

	var listErr error
	for sub, err := range s.audience.ListDeliverable(ctx) {
		if err != nil {
			listErr = err
			break
		}

		summary.Audience++
		msg := base
		msg.To = sub.Email
		g.Go(func() error {
			reason := s.sendWithRetry(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			if reason == "" {
				summary.SuccessCount++
				metrics.Deliveries.WithLabelValues(metrics.ResultDelivered).Inc()
				return nil
			}
			summary.FailureCount++
			metrics.Deliveries.WithLabelValues(metrics.ResultFailed).Inc()
			if len(reasons) < maxSummaryErrors {
				reasons[reason] = struct{}{}
			}
			return nil
		})
	}
	_ = g.Wait()

	if listErr != nil {
		reasons["audience listing interrupted"] = struct{}{}
	}
	for reason := range reasons {
		summary.Errors = append(summary.Errors, reason)
	}
	sort.Strings(summary.Errors)

	if listErr != nil {
		return fmt.Errorf("failed to list deliverable subscribers: %w", listErr)
	}
	return nil
}

// sendWithRetry makes up to MaxAttempts provider calls for one recipient. It
// returns "" on success or the failure reason.
func (s *DispatchService) sendWithRetry(ctx context.Context, msg email.Message) string {
	for attempt := 1; ; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		_, err := s.gateway.SendOne(sendCtx, msg)
		cancel()
		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomeSent).Inc()
			return ""
		}

		de := email.AsDeliveryError(err)
		if de.Kind == email.Permanent {
			metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomePermanent).Inc()
			return de.Reason
		}

		metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomeTransient).Inc()
		if attempt >= s.cfg.MaxAttempts {
			return fmt.Sprintf("%s (gave up after %d attempts)", de.Reason, attempt)
		}
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			return de.Reason
		}
	}
}

// backoff doubles BaseBackoff per attempt, capped at MaxBackoff
func (s *DispatchService) backoff(attempt int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return min(d, s.cfg.MaxBackoff)
}

// decide picks the terminal status: anyone reached, or nobody to reach, is
// sent; a non-empty audience that received nothing is failed
func (s *DispatchService) decide(id string, summary *model.DispatchSummary, listErr error) model.DispatchOutcome {
	outcome := model.DispatchOutcome{CampaignID: id, DecidedAt: s.now()}

	switch {
	case summary.SuccessCount > 0:
		outcome.Status = model.CampaignStatusSent
		outcome.RecipientCount = summary.SuccessCount
	case listErr != nil:
		outcome.Status = model.CampaignStatusFailed
		outcome.Reason = "could not load the audience: " + listErr.Error()
	case summary.Audience == 0:
		outcome.Status = model.CampaignStatusSent
	default:
		outcome.Status = model.CampaignStatusFailed
		outcome.Reason = fmt.Sprintf("all %d deliveries failed", summary.FailureCount)
		if len(summary.Errors) > 0 {
			outcome.Reason += ": " + summary.Errors[0]
		}
	}
	return outcome
}

// finish writes the terminal status, retrying transient store failures. When
// every attempt fails the outcome goes to the journal for the reconciler.
// restored is true when the write replaced an interrupted mark left by the
// reconciler.
func (s *DispatchService) finish(ctx context.Context, outcome model.DispatchOutcome) (restored bool, err error) {
	for attempt := 1; attempt <= s.cfg.TerminalWriteAttempts; attempt++ {
		err = applyOutcome(ctx, s.campaigns, outcome)
		if err == nil {
			return false, nil
		}
		if errors.Is(err, repository.ErrConflict) {
			return s.replaceInterrupted(ctx, outcome)
		}
		if attempt < s.cfg.TerminalWriteAttempts {
			_ = s.sleep(ctx, s.backoff(attempt))
		}
	}

	if s.journal != nil {
		if jerr := s.journal.Record(ctx, outcome); jerr != nil {
			s.log.Error().Err(jerr).Str("campaign_id", outcome.CampaignID).Msg("failed to journal dispatch outcome")
		}
	}
	return false, fmt.Errorf("%w: %v", ErrTerminalWrite, err)
}

// replaceInterrupted handles a campaign that left "sending" before its
// dispatch finished. Only an interrupted mark is overwritten.
func (s *DispatchService) replaceInterrupted(ctx context.Context, outcome model.DispatchOutcome) (bool, error) {
	err := s.campaigns.ReplaceInterrupted(ctx, outcome, InterruptedReason)
	switch {
	case err == nil:
		s.log.Error().
			Str("campaign_id", outcome.CampaignID).
			Str("status", string(outcome.Status)).
			Msg("campaign was marked interrupted while sending, real outcome restored")
		return true, nil
	case errors.Is(err, repository.ErrConflict):
		return false, errOutcomeSuperseded
	default:
		return false, fmt.Errorf("%w: %v", ErrTerminalWrite, err)
	}
}

// buildMessage renders the campaign once; deliver fills in each recipient
func (s *DispatchService) buildMessage(c *model.Campaign) email.Message {
	msg := email.Message{
		Subject:  c.Subject,
		TextBody: c.Content,
	}
	if c.HTMLContent != nil {
		msg.HTMLBody = *c.HTMLContent
		if s.baseURL != "" {
			if s.links != nil {
				msg.HTMLBody = email.RewriteLinks(msg.HTMLBody, func(target string) string {
					return s.clickURL(c.ID, target)
				})
			}
			msg.HTMLBody = email.WithOpenPixel(msg.HTMLBody, s.baseURL+"/t/o/"+c.ID)
		}
	}
	return msg
}

func (s *DispatchService) clickURL(campaignID, target string) string {
	q := url.Values{}
	q.Set("u", target)
	q.Set("s", s.links.Sign(campaignID, target))
	return s.baseURL + "/t/c/" + url.PathEscape(campaignID) + "?" + q.Encode()
}

// applyOutcome writes a terminal status to the store
func applyOutcome(ctx context.Context, store CampaignStore, outcome model.DispatchOutcome) error {
	if outcome.Status == model.CampaignStatusSent {
		return store.MarkSent(ctx, outcome.CampaignID, outcome.RecipientCount, outcome.DecidedAt)
	}
	return store.MarkFailed(ctx, outcome.CampaignID, outcome.Reason, outcome.DecidedAt)
}

func withDispatchDefaults(cfg config.DispatchConfig) config.DispatchConfig {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.TerminalWriteAttempts <= 0 {
		cfg.TerminalWriteAttempts = 3
	}
	return cfg
}

func heartbeatInterval(staleAfter time.Duration) time.Duration {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return max(staleAfter/3, time.Millisecond)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
