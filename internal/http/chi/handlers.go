package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/partner"
)

// Handlers sets up the distribution API routes
func Handlers(ctx context.Context, deliveryService delivery.UseCase, partners *partner.Registry, reconciler *delivery.Reconciler, metricsHandler http.Handler) *chi.Mux {
	logger := httplog.NewLogger("distributor-api", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Partner catalog
		r.Get("/partners", getPartners(partners).ServeHTTP)

		// Pool worker liveness
		r.Get("/workers", getWorkers(deliveryService).ServeHTTP)

		// Distribution lifecycle
		r.Post("/releases/{release_id}/distributions", postDistribution(deliveryService, partners).ServeHTTP)
		r.Get("/releases/{release_id}/distributions", getDistributionStatus(deliveryService).ServeHTTP)
		r.Get("/releases/{release_id}/distributions/{partner_id}", getDistributionDetail(deliveryService).ServeHTTP)
		r.Post("/releases/{release_id}/distributions/retries", postRetries(deliveryService).ServeHTTP)
		r.Post("/releases/{release_id}/distributions/takedowns", postTakedowns(deliveryService).ServeHTTP)

		// Partner callbacks
		r.Post("/webhooks/{partner_id}", postWebhook(reconciler).ServeHTTP)
	})

	return r
}
