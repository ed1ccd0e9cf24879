package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/config"
	"github.com/fabio-bix/json-transcribe/internal/output"
	"github.com/fabio-bix/json-transcribe/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	maxUploadBytes = 32 << 20
	streamInterval = time.Second
	apiName        = "json-transcribe"
	apiVersion     = "1.0.0"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	svc      *service.Service
	files    *output.Store
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	now      func() time.Time

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithFileStore(files *output.Store) Option {
	return func(s *Server) {
		s.files = files
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func withNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		now:    time.Now,
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleIndex)
		r.Post("/upload", s.handleUpload)

		r.Route("/translate", func(r chi.Router) {
			r.Post("/estimate", s.handleEstimate)
			r.Post("/start", s.handleStart)
			r.Get("/{id}/status", s.handleStatus)
			r.Get("/{id}/result", s.handleResult)
			r.Post("/{id}/save", s.handleSave)
			r.Delete("/{id}", s.handleDeleteJob)
		})

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/stream", s.handleJobStream)
		r.Get("/models", s.handleModels)
		r.Get("/languages", s.handleLanguages)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Get("/files", s.handleListFiles)
		r.Get("/files/{name}", s.handleReadFile)
		r.Get("/files/{name}/download", s.handleDownloadFile)
		r.Delete("/files/{name}", s.handleDeleteFile)
	})
}
