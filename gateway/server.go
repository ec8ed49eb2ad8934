package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arcadepool/gateway/middleware"
	"arcadepool/leaderboard"
	"arcadepool/replay"
	"arcadepool/session"
	"arcadepool/settlement"
	"arcadepool/storage"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Sessions       *session.Manager
	Verifier       *replay.Verifier
	Store          *storage.Store
	Board          *leaderboard.Index
	Engine         *settlement.Engine
	PeriodDuration time.Duration
	MaxBoardLimit  int
	Logger         *slog.Logger
	Auth           middleware.AuthConfig
	RateLimit      middleware.RateLimit
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	sessions       *session.Manager
	verifier       *replay.Verifier
	store          *storage.Store
	board          *leaderboard.Index
	engine         *settlement.Engine
	periodDuration time.Duration
	maxBoardLimit  int
	logger         *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router with authentication, rate limiting,
// and operational endpoints.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLimit := cfg.MaxBoardLimit
	if maxLimit <= 0 {
		maxLimit = 100
	}
	srv := &Server{
		sessions:       cfg.Sessions,
		verifier:       cfg.Verifier,
		store:          cfg.Store,
		board:          cfg.Board,
		engine:         cfg.Engine,
		periodDuration: cfg.PeriodDuration,
		maxBoardLimit:  maxLimit,
		logger:         logger,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	auth := middleware.NewAuthenticator(cfg.Auth, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(limited chi.Router) {
			limited.Use(limiter.Middleware())
			limited.Post("/session", s.StartSession)
			limited.Post("/replay", s.SubmitReplay)
			limited.Post("/profile", s.UpdateProfile)
		})
		api.Get("/leaderboard", s.Leaderboard)
		api.Get("/profile/{address}", s.Profile)
		api.Get("/period", s.CurrentPeriod)
		api.Get("/period/{index}", s.PeriodByIndex)

		api.Group(func(admin chi.Router) {
			admin.Use(auth.Middleware("admin"))
			admin.Post("/score", s.DirectScore)
			admin.Post("/admin/settle", s.ForceSettle)
			admin.Post("/admin/pause", s.PauseSettlement)
			admin.Post("/admin/resume", s.ResumeSettlement)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": message})
}
