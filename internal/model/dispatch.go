package model

import "time"

// DispatchSummary is the aggregate outcome of sending one campaign
type DispatchSummary struct {
	CampaignID string `json:"campaignId"`
	// Claimed is false when another worker already owned the campaign; nothing was sent
	Claimed      bool           `json:"claimed"`
	Status       CampaignStatus `json:"status,omitempty"`
	Audience     int            `json:"audience"`
	SuccessCount int            `json:"successCount"`
	FailureCount int            `json:"failureCount"`
	// Errors holds distinct failure reasons; recipient addresses are never included
	Errors     []string      `json:"errors,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Duration   time.Duration `json:"duration"`
}

// DispatchOutcome is the terminal decision of a dispatch, journaled when the
// campaign store cannot record it
type DispatchOutcome struct {
	CampaignID     string         `json:"campaignId"`
	Status         CampaignStatus `json:"status"`
	RecipientCount int            `json:"recipientCount"`
	Reason         string         `json:"reason,omitempty"`
	DecidedAt      time.Time      `json:"decidedAt"`
}

// ScanResult summarizes one scheduler pass
type ScanResult struct {
	Due        int               `json:"due"`
	Dispatched int               `json:"dispatched"`
	Skipped    int               `json:"skipped"`
	Errors     int               `json:"errors"`
	Repaired   int               `json:"repaired"`
	Summaries  []DispatchSummary `json:"summaries,omitempty"`
}
