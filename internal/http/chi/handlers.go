package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-dispatch/delivery"
	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/subscription"
)

// Handlers sets up the webhook dispatch API routes
func Handlers(ctx context.Context, subService subscription.UseCase, dispatcher delivery.UseCase, stats *delivery.Aggregator, exporter *metrics.OTelExporter, statsWindow time.Duration) *chi.Mux {
	logger := httplog.NewLogger("webhook-dispatch", httplog.Options{
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

	// Prometheus-formatted metrics
	r.Method(http.MethodGet, "/metrics", exporter.ServeHTTP())

	// Registry and delivery API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks", postSubscription(subService).ServeHTTP)
		r.Get("/webhooks", getSubscriptions(subService).ServeHTTP)
		r.Get("/webhooks/{id}", getSubscription(subService).ServeHTTP)
		r.Patch("/webhooks/{id}", patchSubscription(subService).ServeHTTP)
		r.Delete("/webhooks/{id}", deleteSubscription(subService).ServeHTTP)

		r.Post("/webhooks/{id}/test", postTest(dispatcher).ServeHTTP)
		r.Get("/webhooks/{id}/deliveries", getDeliveries(subService, stats).ServeHTTP)
		r.Get("/webhooks/{id}/stats", getStats(subService, stats, statsWindow).ServeHTTP)
	})

	// Producer-facing event ingestion, not exposed to subscribers
	r.Post("/internal/events", postEvent(dispatcher).ServeHTTP)

	return r
}
