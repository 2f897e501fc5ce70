package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/handler"
	"github.com/circlehub/newsletter/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, tokens middleware.TokenValidator, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Newsletter API v1","version":"` + handler.Version + `"}`))
	})

	// Public subscriber routes (rate limited per client IP)
	limits := cfg.Security.RateLimiting
	publicLimit := func(name string) func(http.Handler) http.Handler {
		return mw.RateLimit(middleware.RateLimitConfig{
			Name:   name,
			Limit:  limits.SubscribeLimit,
			Window: limits.SubscribeWindow,
			KeyFn:  middleware.IPKey,
		})
	}

	mux.Handle("POST /api/v1/subscribers", publicLimit("subscribe")(http.HandlerFunc(h.Subscribe)))
	mux.Handle("GET /api/v1/subscribers/confirm", publicLimit("confirm")(http.HandlerFunc(h.ConfirmSubscription)))
	mux.Handle("POST /api/v1/subscribers/confirm/resend", publicLimit("resend")(http.HandlerFunc(h.ResendConfirmation)))
	mux.Handle("POST /api/v1/subscribers/unsubscribe", publicLimit("unsubscribe")(http.HandlerFunc(h.Unsubscribe)))

	// Tracking links embedded in campaign emails
	mux.HandleFunc("GET /t/o/{id}", h.TrackOpen)
	mux.HandleFunc("GET /t/c/{id}", h.TrackClick)

	// Operator routes (require an operator bearer token)
	operator := mw.Operator(tokens)

	mux.Handle("GET /api/v1/admin/subscribers/stats", operator(http.HandlerFunc(h.SubscriberStats)))
	mux.Handle("GET /api/v1/admin/subscribers/export", operator(http.HandlerFunc(h.ExportSubscribers)))

	mux.Handle("POST /api/v1/admin/campaigns", operator(http.HandlerFunc(h.CreateCampaign)))
	mux.Handle("GET /api/v1/admin/campaigns", operator(http.HandlerFunc(h.ListCampaigns)))
	mux.Handle("GET /api/v1/admin/campaigns/{id}", operator(http.HandlerFunc(h.GetCampaign)))
	mux.Handle("PATCH /api/v1/admin/campaigns/{id}", operator(http.HandlerFunc(h.UpdateCampaign)))
	mux.Handle("DELETE /api/v1/admin/campaigns/{id}", operator(http.HandlerFunc(h.DeleteCampaign)))
	mux.Handle("GET /api/v1/admin/campaigns/{id}/history", operator(http.HandlerFunc(h.CampaignHistory)))
	mux.Handle("POST /api/v1/admin/campaigns/{id}/send", operator(http.HandlerFunc(h.SendCampaign)))

	mux.Handle("POST /api/v1/admin/scheduler/check", operator(http.HandlerFunc(h.ForceSchedulerCheck)))
	mux.Handle("POST /api/v1/admin/email/test", operator(http.HandlerFunc(h.SendTestEmail)))

	// Apply middleware stack
	var handler http.Handler = mux

	handler = mw.CORS(cfg.Server.AllowedOrigins)(handler)
	handler = mw.SecurityHeaders(handler)
	handler = mw.Logger(handler)
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
