package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/circlehub/newsletter/internal/model"
	"github.com/circlehub/newsletter/internal/service"
)

type createCampaignRequest struct {
	Subject     string               `json:"subject"`
	Content     string               `json:"content"`
	HTMLContent *string              `json:"htmlContent,omitempty"`
	Status      model.CampaignStatus `json:"status,omitempty"`
	ScheduledAt *time.Time           `json:"scheduledAt,omitempty"`
	// SendNow dispatches the campaign right after creating it as a draft
	SendNow bool `json:"sendNow,omitempty"`
}

type createCampaignResponse struct {
	Campaign *model.Campaign        `json:"campaign"`
	Dispatch *model.DispatchSummary `json:"dispatch,omitempty"`
}

type campaignListResponse struct {
	Campaigns []*model.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

type testEmailRequest struct {
	To string `json:"to"`
}

// CreateCampaign handles POST /api/v1/admin/campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	if req.SendNow && req.Status != "" && req.Status != model.CampaignStatusDraft {
		writeError(w, http.StatusBadRequest, "validation_error", "sendNow cannot be combined with a schedule")
		return
	}

	fields := model.CampaignFields{
		Subject:     req.Subject,
		Content:     req.Content,
		HTMLContent: req.HTMLContent,
	}
	c, err := h.campaigns.Create(r.Context(), fields, req.Status, req.ScheduledAt)
	if err != nil {
		h.writeServiceError(w, r, err, "create campaign")
		return
	}

	if !req.SendNow {
		writeJSON(w, http.StatusCreated, createCampaignResponse{Campaign: c})
		return
	}

	summary, err := h.dispatcher.SendCampaign(r.Context(), c.ID)
	if err != nil && summary == nil {
		h.writeServiceError(w, r, err, "send campaign")
		return
	}
	if err != nil {
		h.writeDispatchFailure(w, summary, err)
		return
	}

	if updated, getErr := h.campaigns.Get(r.Context(), c.ID); getErr == nil {
		c = updated
	}
	writeJSON(w, http.StatusCreated, createCampaignResponse{Campaign: c, Dispatch: summary})
}

// ListCampaigns handles GET /api/v1/admin/campaigns?status=&limit=&offset=
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.CampaignFilter{Status: model.CampaignStatus(q.Get("status"))}

	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a number")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "offset must be a number")
			return
		}
	}

	campaigns, total, err := h.campaigns.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err, "list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []*model.Campaign{}
	}

	writeJSON(w, http.StatusOK, campaignListResponse{
		Campaigns: campaigns,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// GetCampaign handles GET /api/v1/admin/campaigns/{id}
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "get campaign")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// CampaignHistory handles GET /api/v1/admin/campaigns/{id}/history?limit=
func (h *Handler) CampaignHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a number")
			return
		}
	}

	entries, err := h.campaigns.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.writeServiceError(w, r, err, "campaign history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// UpdateCampaign handles PATCH /api/v1/admin/campaigns/{id}
func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var upd model.CampaignUpdate
	if err := readJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	c, err := h.campaigns.Update(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		h.writeServiceError(w, r, err, "update campaign")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// DeleteCampaign handles DELETE /api/v1/admin/campaigns/{id}
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.campaigns.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "delete campaign")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "campaign_not_found", "Campaign not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SendCampaign handles POST /api/v1/admin/campaigns/{id}/send. The dispatch
// runs synchronously and the response carries its summary.
func (h *Handler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dispatcher.SendCampaign(r.Context(), r.PathValue("id"))
	if err != nil && summary == nil {
		h.writeServiceError(w, r, err, "send campaign")
		return
	}
	if err != nil {
		h.writeDispatchFailure(w, summary, err)
		return
	}

	if !summary.Claimed {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "campaign_not_sendable",
				"message": "The campaign is not a draft or scheduled campaign, or is already being sent",
			},
			"dispatch": summary,
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// writeDispatchFailure reports a dispatch whose deliveries ran but whose
// outcome could not be stored
func (h *Handler) writeDispatchFailure(w http.ResponseWriter, summary *model.DispatchSummary, err error) {
	code := "internal_error"
	if errors.Is(err, service.ErrTerminalWrite) {
		code = "outcome_not_recorded"
	}
	h.log.Error().Err(err).Str("campaign_id", summary.CampaignID).Msg("campaign dispatch did not complete cleanly")
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": "Deliveries ran but the campaign outcome could not be recorded; the repair sweep will settle it",
		},
		"dispatch": summary,
	})
}

// ForceSchedulerCheck handles POST /api/v1/admin/scheduler/check
func (h *Handler) ForceSchedulerCheck(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.ForceCheck(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "run scheduler check")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SendTestEmail handles POST /api/v1/admin/email/test
func (h *Handler) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := readJSON(w, r, &req); err != nil || req.To == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "A recipient address is required")
		return
	}

	if err := h.mailer.SendTest(r.Context(), req.To); err != nil {
		h.writeServiceError(w, r, err, "send test email")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sent": true})
}
