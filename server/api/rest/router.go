package rest

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/server/api/websocket"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/orchestrator"
)

// newRouter assembles the full chi router: process-wide middleware, an optional loopback gate,
// the job submission/query surface, the /api/v1/jobs administrative surface, and the log
// firehose WebSocket endpoint.
func newRouter(config Config, orch *orchestrator.Orchestrator, bus *event.EventBus, wsHub *websocket.Hub, logFactory logger.LogFactory) chi.Router {
	base := &apiBase{Log: logFactory("REST")}
	jobAPI := NewJobAPI(orch, bus, logFactory)
	adminAPI := NewAdminAPI(orch, logFactory)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(60 * time.Second))

	if !config.AllowRemote {
		r.Use(requireLoopback(base))
	}
	if len(config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Post("/run", jobAPI.Run)
	r.Post("/stop", jobAPI.Stop)
	r.Route("/jobs/{id}", func(r chi.Router) {
		r.Get("/", jobAPI.Get)
		r.Get("/events", jobAPI.Events)
	})

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Get("/", adminAPI.List)
		r.Get("/status", adminAPI.Status)
		r.Post("/submit", adminAPI.Submit)
		r.Post("/unqueue", adminAPI.Unqueue)
		r.Post("/priority", adminAPI.Priority)
		r.Post("/run", adminAPI.Run)
		r.Delete("/", adminAPI.Delete)
		r.Get("/{id}", adminAPI.Detail)
	})

	r.Get("/ws/logs", wsHub.ServeHTTP)

	return r
}
