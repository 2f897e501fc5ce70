package newsletter

import "time"

// Subscriber represents a newsletter subscriber returned by the API.
type Subscriber struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           *string    `json:"name,omitempty"`
	SubscribedAt   time.Time  `json:"subscribedAt"`
	IsActive       bool       `json:"isActive"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty"`
}

// SubscribeRequest starts a subscription.
type SubscribeRequest struct {
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
}

// SubscriberStats summarizes the subscriber base.
type SubscriberStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Pending int `json:"pending"`
	Recent  int `json:"recent"`
}

// Campaign status values.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
)

// Campaign represents a newsletter campaign.
type Campaign struct {
	ID             string     `json:"id"`
	Subject        string     `json:"subject"`
	Content        string     `json:"content"`
	HTMLContent    *string    `json:"htmlContent,omitempty"`
	Status         string     `json:"status"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	RecipientCount int        `json:"recipientCount"`
	OpenCount      int        `json:"openCount"`
	ClickCount     int        `json:"clickCount"`
	FailureReason  *string    `json:"failureReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// CreateCampaignRequest contains the fields of a new campaign.
type CreateCampaignRequest struct {
	Subject     string     `json:"subject"`
	Content     string     `json:"content"`
	HTMLContent *string    `json:"htmlContent,omitempty"`
	Status      string     `json:"status,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	SendNow     bool       `json:"sendNow,omitempty"`
}

// CreateCampaignResponse carries the new campaign and, for SendNow, the
// dispatch summary.
type CreateCampaignResponse struct {
	Campaign *Campaign        `json:"campaign"`
	Dispatch *DispatchSummary `json:"dispatch,omitempty"`
}

// UpdateCampaignRequest is a partial update; nil fields are left unchanged.
type UpdateCampaignRequest struct {
	Subject     *string    `json:"subject,omitempty"`
	Content     *string    `json:"content,omitempty"`
	HTMLContent *string    `json:"htmlContent,omitempty"`
	Status      *string    `json:"status,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// ListCampaignsOptions filters and pages a campaign listing.
type ListCampaignsOptions struct {
	Status string
	Limit  int
	Offset int
}

// CampaignList is one page of campaigns.
type CampaignList struct {
	Campaigns []*Campaign `json:"campaigns"`
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}

// AuditEntry is one event in a campaign's history.
type AuditEntry struct {
	ID        string                 `json:"id"`
	Actor     string                 `json:"actor,omitempty"`
	Action    string                 `json:"action"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// DispatchSummary is the aggregate outcome of sending one campaign.
type DispatchSummary struct {
	CampaignID   string        `json:"campaignId"`
	Claimed      bool          `json:"claimed"`
	Status       string        `json:"status,omitempty"`
	Audience     int           `json:"audience"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	Errors       []string      `json:"errors,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	Duration     time.Duration `json:"duration"`
}

// ScanResult summarizes one scheduler pass.
type ScanResult struct {
	Due        int               `json:"due"`
	Dispatched int               `json:"dispatched"`
	Skipped    int               `json:"skipped"`
	Errors     int               `json:"errors"`
	Repaired   int               `json:"repaired"`
	Summaries  []DispatchSummary `json:"summaries,omitempty"`
}
