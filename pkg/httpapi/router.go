// Package httpapi is the thin HTTP adapter over pkg/queue described in
// spec §4.11/§6.1: a go-chi/chi/v5 router, JSON request/response bodies,
// and no business logic of its own beyond translating requests into
// queue package calls.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/nomoos/prismq/pkg/health"
	"github.com/nomoos/prismq/pkg/log"
	"github.com/nomoos/prismq/pkg/metrics"
	"github.com/nomoos/prismq/pkg/queue"
)

// Server bundles the dependencies every handler needs.
type Server struct {
	enqueue     *queue.EnqueueAPI
	maintenance *queue.Maintenance
	broker      *queue.LogBroker
	resources   *health.ResourceChecker
	validate    *validator.Validate
	logger      zerolog.Logger
}

// NewServer builds a Server. broker may be nil, disabling the
// log-stream endpoint (it responds 500).
func NewServer(enqueueAPI *queue.EnqueueAPI, maintenance *queue.Maintenance, broker *queue.LogBroker, resources *health.ResourceChecker) *Server {
	return &Server{
		enqueue:     enqueueAPI,
		maintenance: maintenance,
		broker:      broker,
		resources:   resources,
		validate:    validator.New(),
		logger:      log.WithComponent("httpapi"),
	}
}

// Router builds the chi.Router implementing spec §6.1's endpoint table.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/queue", func(r chi.Router) {
		r.Post("/enqueue", s.handleEnqueue)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)
		r.Get("/tasks/{id}/logs/stream", s.handleStreamLogs)
		r.Get("/stats", s.handleStats)
	})

	r.Route("/system/maintenance", func(r chi.Router) {
		r.Post("/cleanup-runs", s.handleCleanupRuns)
		r.Post("/health-check", s.handleHealthCheck)
		r.Post("/cleanup-temp-files", s.handleCleanupTempFiles)
		r.Post("/log-statistics", s.handleLogStatistics)
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}

func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
