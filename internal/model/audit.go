package model

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           string                 `json:"id"`
	Actor        *string                `json:"actor,omitempty"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resourceType,omitempty"`
	ResourceID   *string                `json:"resourceId,omitempty"`
	IPAddress    *string                `json:"ipAddress,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Audit resource types
const (
	AuditResourceSubscriber = "subscriber"
	AuditResourceCampaign   = "campaign"
)

// Audit action constants
const (
	AuditActionSubscribed       = "subscriber.subscribed"
	AuditActionResubscribed     = "subscriber.resubscribed"
	AuditActionConfirmed        = "subscriber.confirmed"
	AuditActionUnsubscribed     = "subscriber.unsubscribed"
	AuditActionCampaignCreated  = "campaign.created"
	AuditActionCampaignUpdated  = "campaign.updated"
	AuditActionCampaignDeleted  = "campaign.deleted"
	AuditActionCampaignClaimed  = "campaign.claimed"
	AuditActionCampaignSent     = "campaign.sent"
	AuditActionCampaignFailed   = "campaign.failed"
	AuditActionCampaignRepaired = "campaign.repaired"
)
