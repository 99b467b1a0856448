package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/faceinbox/internal/web/handlers"
	"github.com/kozaktomas/faceinbox/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	d := s.deps
	personsHandler := handlers.NewPersonsHandler(d.Gallery, d.Engine, s.logger)
	eventsHandler := handlers.NewEventsHandler(d.History, d.Engine, d.Settings, s.logger)
	recognizeHandler := handlers.NewRecognizeHandler(d.Engine)
	settingsHandler := handlers.NewSettingsHandler(d.Settings, d.Tiers)
	retrainHandler := handlers.NewRetrainHandler(d.Retrain, d.Settings)
	mqttHandler := handlers.NewMQTTHandler(d.MQTT, d.Settings, s.logger)
	statsHandler := handlers.NewStatsHandler(d.Gallery, d.History, d.Settings)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(s.apiToken))

			// Streams outlive the request timeout.
			r.Get("/retrain/events", retrainHandler.Events)

			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(2 * time.Minute))

				r.Get("/stats", statsHandler.Get)
				r.Get("/tiers", settingsHandler.Tiers)
				r.Get("/settings", settingsHandler.Get)
				r.Put("/settings", settingsHandler.Update)

				// Persons
				r.Get("/persons", personsHandler.List)
				r.Post("/persons", personsHandler.Create)
				r.Put("/persons/{id}", personsHandler.Update)
				r.Delete("/persons/{id}", personsHandler.Delete)
				r.Get("/persons/{id}/images", personsHandler.ListImages)
				r.Post("/persons/{id}/images", personsHandler.AddImage)
				r.Delete("/persons/{id}/images/{imageId}", personsHandler.DeleteImage)
				r.Get("/persons/{id}/images/{imageId}/face", personsHandler.FaceFile)
				r.Get("/persons/{id}/images/{imageId}/original", personsHandler.OriginalFile)

				r.Post("/recognize", recognizeHandler.Recognize)

				// History
				r.Get("/events", eventsHandler.List)
				r.Delete("/events", eventsHandler.Clear)
				r.Post("/events/{id}/undo", eventsHandler.Undo)
				r.Post("/events/{id}/assign", eventsHandler.Assign)
				r.Get("/events/{id}/image", eventsHandler.Image)
				r.Get("/events/{id}/thumb", eventsHandler.Thumb)

				// Retrain
				r.Post("/retrain", retrainHandler.Start)
				r.Get("/retrain/progress", retrainHandler.Progress)
				r.Delete("/retrain", retrainHandler.Cancel)

				r.Post("/mqtt/test", mqttHandler.Test)
			})
		})
	})
}
