package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"liguns/internal/config"
	"liguns/internal/domain"
	"liguns/internal/metrics"
	"liguns/internal/models"
	"liguns/internal/service"
	"liguns/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// PublishRunner runs the publish job.
type PublishRunner interface {
	Run(ctx context.Context) (*models.JobSummary, error)
	PublishNow(ctx context.Context, id string) (*worker.EntryResult, error)
}

// Scheduling creates and manages schedule entries.
type Scheduling interface {
	Schedule(ctx context.Context, req service.ScheduleRequest) (*service.ScheduleResult, error)
	Get(ctx context.Context, userID, id string) (*models.ScheduleEntry, error)
	Cancel(ctx context.Context, userID, id string) error
	List(ctx context.Context, filter models.ScheduleFilter) ([]*models.ScheduleEntry, error)
	CreateWebsite(ctx context.Context, w *models.Website) error
	CreateAccount(ctx context.Context, a *models.Account) error
	CreatePost(ctx context.Context, p *models.Post) error
}

// Captions previews and drafts captions.
type Captions interface {
	Preview(template string, n int) (*service.Preview, error)
	Draft(ctx context.Context, req service.DraftRequest) (string, error)
}

// Deps are the collaborators behind the HTTP routes. Nil optional fields
// disable their routes.
type Deps struct {
	Job         PublishRunner
	Scheduling  Scheduling
	Captions    Captions
	DeadLetters domain.DeadLetterSink
	Media       http.Handler
	MediaPrefix string
	Ready       func(ctx context.Context) error
	Location    *time.Location
}

// HTTPServer exposes the cron trigger, the management API and media files.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	auth   *HTTPAuth
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.MediaPrefix == "" {
		deps.MediaPrefix = "/media/"
	}

	s := &HTTPServer{cfg: cfg, deps: deps, auth: NewHTTPAuth(cfg), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	cron := cronAuth(cfg.CronSecret, http.HandlerFunc(s.handleCron))
	mux.Handle("GET /api/cron/publish", cron)
	mux.Handle("POST /api/cron/publish", cron)

	s.v1(mux, "POST /api/v1/schedules/{id}/publish", permPublish, s.handlePublishNow)
	s.v1(mux, "POST /api/v1/schedules/{id}/cancel", permSchedulesWrite, s.handleCancel)
	s.v1(mux, "POST /api/v1/schedules", permSchedulesWrite, s.handleSchedule)
	s.v1(mux, "GET /api/v1/schedules", permSchedulesRead, s.handleListSchedules)
	s.v1(mux, "GET /api/v1/schedules/export", permExport, s.handleExport)
	s.v1(mux, "POST /api/v1/websites", permCatalogWrite, s.handleCreateWebsite)
	s.v1(mux, "POST /api/v1/accounts", permCatalogWrite, s.handleCreateAccount)
	s.v1(mux, "POST /api/v1/posts", permCatalogWrite, s.handleCreatePost)
	s.v1(mux, "POST /api/v1/captions/preview", permCaptions, s.handlePreview)
	s.v1(mux, "POST /api/v1/captions/generate", permCaptions, s.handleGenerate)
	s.v1(mux, "GET /api/v1/dead-letters", permDeadLetters, s.handleDeadLetters)

	if deps.Media != nil {
		mux.Handle("GET "+deps.MediaPrefix, deps.Media)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		// Publish runs hold the cron request open for the whole batch.
		WriteTimeout: 10 * time.Minute,
	}
	return s
}

func (s *HTTPServer) v1(mux *http.ServeMux, pattern, permission string, h http.HandlerFunc) {
	mux.Handle(pattern, s.auth.Wrap(permission, h))
}

// Handler returns the root handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// middleware tags every request with an id, recovers panics, counts the
// matched route and logs one line per request.
func (s *HTTPServer) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := s.logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				logger.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("handler panic")
				writeError(recorder, http.StatusInternalServerError, "internal error")
			}

			endpoint := r.Pattern
			if endpoint == "" {
				endpoint = "unmatched"
			}
			metrics.IncHTTP(endpoint)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(recorder, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.written {
		return
	}
	r.written = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}
