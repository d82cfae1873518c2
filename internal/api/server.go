package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/config"
	"github.com/xblabs/WhisperDog-sub003/internal/events"
	"github.com/xblabs/WhisperDog-sub003/internal/history"
	"github.com/xblabs/WhisperDog-sub003/internal/metrics"
	"github.com/xblabs/WhisperDog-sub003/internal/session"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, manager *session.Manager, store *history.Store, bus *events.Bus, version string, startTime time.Time, log zerolog.Logger) *Server {
	h := NewHandlers(manager, store, bus, version, startTime)

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated surface
	r.Get("/api/v1/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Get("/api/v1/status", h.Status)
		r.Post("/api/v1/recording/start", h.StartRecording)
		r.Post("/api/v1/recording/stop", h.StopRecording)
		r.Post("/api/v1/transcription/cancel", h.Cancel)
		r.Post("/api/v1/transcription/resume", h.Resume)
		r.Get("/api/v1/sessions", h.ListSessions)
		r.Get("/api/v1/sessions/{id}", h.GetSession)
		r.Get("/api/v1/events", h.Events)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
