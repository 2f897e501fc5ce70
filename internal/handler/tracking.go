package handler

import (
	"net/http"
	"net/url"
)

// transparentGIF is a 1x1 transparent GIF
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen handles GET /t/o/{id}. The pixel is served even when the open
// cannot be counted.
func (h *Handler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.campaigns.RecordOpen(r.Context(), id); err != nil {
		h.log.Warn().Err(err).Str("campaign_id", id).Msg("failed to record open")
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.WriteHeader(http.StatusOK)
	w.Write(transparentGIF)
}

// TrackClick handles GET /t/c/{id}?u=&s=. Only targets signed for this
// campaign during dispatch are followed.
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	query := r.URL.Query()
	raw := query.Get("u")

	if h.links == nil || !h.links.Verify(id, raw, query.Get("s")) {
		h.log.Warn().Str("campaign_id", id).Msg("refused unsigned click link")
		writeError(w, http.StatusBadRequest, "invalid_redirect", "The link is not valid")
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_redirect", "The link target is not a valid web address")
		return
	}

	if _, err := h.campaigns.RecordClick(r.Context(), id); err != nil {
		h.log.Warn().Err(err).Str("campaign_id", id).Msg("failed to record click")
	}

	http.Redirect(w, r, target.String(), http.StatusFound)
}
