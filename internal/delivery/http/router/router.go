package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/delivery/http/handler"
	"github.com/user/listing-monitor/internal/delivery/http/middleware"
)

func New(h *handler.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger.Named("access")))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealthCheck)
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", h.HandleStartScan)
			r.Get("/", h.HandleListScans)
			r.Get("/{id}", h.HandleGetScan)
			r.Post("/{id}/cancel", h.HandleCancelScan)
		})
		r.Get("/changes", h.HandleGetChanges)
		r.Get("/entities/{id}", h.HandleGetEntity)
		r.Get("/stats", h.HandleGetStats)
	})

	return r
}
