package handler

import (
	"fmt"
	"net/http"
	"time"
)

type subscribeRequest struct {
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// Subscribe handles POST /api/v1/subscribers
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	sub, err := h.subscribers.Subscribe(r.Context(), req.Email, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err, "subscribe")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// ConfirmSubscription handles GET /api/v1/subscribers/confirm?token=
func (h *Handler) ConfirmSubscription(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_token", "A confirmation token is required")
		return
	}

	if _, err := h.subscribers.Confirm(r.Context(), token); err != nil {
		h.writeServiceError(w, r, err, "confirm subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"confirmed": true,
		"message":   "Your subscription is confirmed",
	})
}

// ResendConfirmation handles POST /api/v1/subscribers/confirm/resend.
// The response is the same whether or not the address is pending.
func (h *Handler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	if err := h.subscribers.ResendConfirmation(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, r, err, "resend confirmation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "If the address is awaiting confirmation, a new email has been sent",
	})
}

// Unsubscribe handles POST /api/v1/subscribers/unsubscribe
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	ok, err := h.subscribers.Unsubscribe(r.Context(), req.Email)
	if err != nil {
		h.writeServiceError(w, r, err, "unsubscribe")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"unsubscribed": ok})
}

// SubscriberStats handles GET /api/v1/admin/subscribers/stats
func (h *Handler) SubscriberStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.subscribers.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "load subscriber stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ExportSubscribers handles GET /api/v1/admin/subscribers/export.
// The CSV is streamed, so a failure after the first row can only be logged.
func (h *Handler) ExportSubscribers(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("subscribers-%s.csv", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	rows, err := h.subscribers.Export(r.Context(), w)
	if err != nil {
		h.log.Error().Err(err).Int("rows", rows).Msg("subscriber export interrupted")
		return
	}

	h.log.Info().Int("rows", rows).Msg("subscribers exported")
}
