package model

import "time"

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Valid reports whether s is a known status
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending,
		CampaignStatusSent, CampaignStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusSent || s == CampaignStatusFailed
}

// Campaign is one newsletter send unit
type Campaign struct {
	ID             string         `json:"id"`
	Subject        string         `json:"subject"`
	Content        string         `json:"content"`
	HTMLContent    *string        `json:"htmlContent,omitempty"`
	Status         CampaignStatus `json:"status"`
	ScheduledAt    *time.Time     `json:"scheduledAt,omitempty"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	RecipientCount int            `json:"recipientCount"`
	OpenCount      int            `json:"openCount"`
	ClickCount     int            `json:"clickCount"`
	FailureReason  *string        `json:"failureReason,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// IsLocked reports whether the campaign can no longer be edited or deleted
func (c *Campaign) IsLocked() bool {
	return c.Status == CampaignStatusSent
}

// IsDue reports whether a scheduled campaign should fire at now
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
}

// CampaignFields holds the editable content of a campaign
type CampaignFields struct {
	Subject     string  `json:"subject"`
	Content     string  `json:"content"`
	HTMLContent *string `json:"htmlContent,omitempty"`
}

// CampaignUpdate is a partial update; nil fields are left untouched
type CampaignUpdate struct {
	Subject     *string         `json:"subject,omitempty"`
	Content     *string         `json:"content,omitempty"`
	HTMLContent *string         `json:"htmlContent,omitempty"`
	Status      *CampaignStatus `json:"status,omitempty"`
	ScheduledAt *time.Time      `json:"scheduledAt,omitempty"`
}

// CampaignFilter narrows a campaign listing
type CampaignFilter struct {
	Status CampaignStatus
	Limit  int
	Offset int
}
