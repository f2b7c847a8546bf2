package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"autocall/internal/auth"
	"autocall/internal/core"
	"autocall/internal/media"
	"autocall/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// VideoGenerator produces a clip from a still image.
type VideoGenerator interface {
	ImageToVideo(ctx context.Context, req media.ImageToVideoRequest) (*media.Video, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP API is wired with. Limiter, Media and
// Health may be nil.
type Deps struct {
	Service *core.Service
	Auth    *auth.Authenticator
	Limiter func(http.Handler) http.Handler
	Media   VideoGenerator
	Health  Pinger
	Logger  *slog.Logger
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	service    *core.Service
	auth       *auth.Authenticator
	limiter    func(http.Handler) http.Handler
	media      VideoGenerator
	health     Pinger
	logger     *slog.Logger
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(deps.Logger))
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		service: deps.Service,
		auth:    deps.Auth,
		limiter: deps.Limiter,
		media:   deps.Media,
		health:  deps.Health,
		logger:  deps.Logger,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter)
		}
		r.Use(AuthMiddleware(s.auth))

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleListSettings)
			r.Post("/", s.handleCreateSettings)
			r.Post("/preview", s.handlePreview)

			r.Route("/{settingsID}", func(r chi.Router) {
				r.Get("/", s.handleGetSettings)
				r.Put("/", s.handleUpdateSettings)
				r.Delete("/", s.handleDeleteSettings)
				r.Get("/runs", s.handleListRuns)
				r.Post("/run-now", s.handleRunNow)
			})
		})

		r.Post("/run-scheduler", s.handleRunScheduler)

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.handleListLeads)
			r.Post("/", s.handleCreateLead)
		})

		r.With(RequireAdmin).Post("/media/image-to-video", s.handleImageToVideo)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.log(r).Warn("health check", "err", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
