package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/circlehub/newsletter/internal/email"
	"github.com/circlehub/newsletter/internal/service"
)

const maxBodyBytes = 1 << 20

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// writeServiceError maps service and delivery errors onto the HTTP error envelope.
// Anything unrecognised is logged and reported as an internal error.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_email", "A valid email address is required")
	case errors.Is(err, service.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
	case errors.Is(err, service.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid_token", "The confirmation link is invalid or has already been used")
	case errors.Is(err, service.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "invalid_schedule", "A scheduled campaign needs a scheduled time in the future")
	case errors.Is(err, service.ErrInvalidCampaign):
		writeError(w, http.StatusBadRequest, "invalid_campaign", err.Error())
	case errors.Is(err, service.ErrInvalidStatusChange):
		writeError(w, http.StatusBadRequest, "invalid_status_change", err.Error())
	case errors.Is(err, service.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "campaign_not_found", "Campaign not found")
	case errors.Is(err, service.ErrDuplicateSubscriber):
		writeError(w, http.StatusConflict, "duplicate_subscriber", "This address is already subscribed")
	case errors.Is(err, service.ErrCampaignLocked):
		writeError(w, http.StatusConflict, "campaign_locked", "The campaign has been sent or is being sent and can no longer change")
	case errors.Is(err, service.ErrCampaignConflict):
		writeError(w, http.StatusConflict, "campaign_conflict", "The campaign changed concurrently, reload and try again")
	case errors.Is(err, service.ErrConfirmationCooldown):
		writeError(w, http.StatusTooManyRequests, "confirmation_cooldown", "A confirmation email was sent recently, please wait before requesting another")
	case email.IsPermanent(err):
		writeError(w, http.StatusBadGateway, "delivery_rejected", err.Error())
	case email.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "delivery_unavailable", err.Error())
	default:
		h.log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("client_ip", getClientIP(r)).
			Msgf("failed to %s", action)
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
