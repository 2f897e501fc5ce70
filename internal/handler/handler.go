package handler

import (
	"context"
	"io"
	"time"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/model"
)

// Subscribers is the part of the subscriber registry exposed over HTTP
type Subscribers interface {
	Subscribe(ctx context.Context, email string, name *string) (*model.Subscriber, error)
	Confirm(ctx context.Context, token string) (bool, error)
	ResendConfirmation(ctx context.Context, email string) error
	Unsubscribe(ctx context.Context, email string) (bool, error)
	Stats(ctx context.Context) (*model.SubscriberStats, error)
	Export(ctx context.Context, w io.Writer) (int, error)
}

// Campaigns is the part of the campaign store exposed over HTTP
type Campaigns interface {
	Create(ctx context.Context, fields model.CampaignFields, status model.CampaignStatus, scheduledAt *time.Time) (*model.Campaign, error)
	Get(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, filter model.CampaignFilter) ([]*model.Campaign, int, error)
	Update(ctx context.Context, id string, upd model.CampaignUpdate) (*model.Campaign, error)
	Delete(ctx context.Context, id string) (bool, error)
	History(ctx context.Context, id string, limit int) ([]*model.AuditLog, error)
	RecordOpen(ctx context.Context, id string) (bool, error)
	RecordClick(ctx context.Context, id string) (bool, error)
}

// Dispatcher sends a campaign immediately
type Dispatcher interface {
	SendCampaign(ctx context.Context, id string) (*model.DispatchSummary, error)
}

// SchedulerTrigger runs an out-of-band scheduler scan
type SchedulerTrigger interface {
	ForceCheck(ctx context.Context) (*model.ScanResult, error)
}

// TestMailer sends a diagnostic email
type TestMailer interface {
	SendTest(ctx context.Context, to string) error
}

// LinkVerifier checks the signature of a click-tracking link
type LinkVerifier interface {
	Verify(campaignID, target, sig string) bool
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	db          HealthChecker
	rdb         HealthChecker
	log         *logger.Logger
	cfg         *config.Config
	subscribers Subscribers
	campaigns   Campaigns
	dispatcher  Dispatcher
	scheduler   SchedulerTrigger
	mailer      TestMailer
	links       LinkVerifier
}

// New creates a new Handler instance
func New(db, rdb HealthChecker, log *logger.Logger, cfg *config.Config, subscribers Subscribers, campaigns Campaigns, dispatcher Dispatcher, scheduler SchedulerTrigger, mailer TestMailer) *Handler {
	return &Handler{
		db:          db,
		rdb:         rdb,
		log:         log.WithComponent("http"),
		cfg:         cfg,
		subscribers: subscribers,
		campaigns:   campaigns,
		dispatcher:  dispatcher,
		scheduler:   scheduler,
		mailer:      mailer,
	}
}

// WithLinkVerifier enables the click-tracking redirect. Without a verifier
// every click link is refused.
func (h *Handler) WithLinkVerifier(links LinkVerifier) *Handler {
	h.links = links
	return h
}
