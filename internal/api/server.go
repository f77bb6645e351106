package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/challenge-board/internal/config"
	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/progress"
	"github.com/terra-clan/challenge-board/internal/storage"
	"github.com/terra-clan/challenge-board/internal/view"
)

// Server represents the HTTP API server
type Server struct {
	config      config.ServerConfig
	router      *chi.Mux
	repo        storage.Repository
	mutator     *progress.Mutator
	leaderboard *view.Leaderboard
	aggregator  *view.Aggregator
	catalog     *models.Catalog
	hub         *live.Hub
	adminToken  string
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	repo storage.Repository,
	mutator *progress.Mutator,
	leaderboard *view.Leaderboard,
	aggregator *view.Aggregator,
	cat *models.Catalog,
	hub *live.Hub,
	adminToken string,
) *Server {
	s := &Server{
		config:      cfg,
		repo:        repo,
		mutator:     mutator,
		leaderboard: leaderboard,
		aggregator:  aggregator,
		catalog:     cat,
		hub:         hub,
		adminToken:  adminToken,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/catalog", s.handleGetCatalog)

		r.Route("/participants", func(r chi.Router) {
			r.Post("/", s.handleJoin)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetParticipant)
				r.Post("/items/{itemID}/toggle", s.handleToggleItem)
				r.Post("/items/{itemID}/photo", s.handleAttachPhoto)
			})
		})

		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/completions", s.handleCompletions)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/stats", s.handleStats)
		})
	})

	// Live feeds (websocket; no chi timeout, these are long-lived)
	r.Route("/ws", func(r chi.Router) {
		r.Get("/participants/{id}", s.handleParticipantWS)
		r.Get("/leaderboard", s.handleLeaderboardWS)
		r.Get("/stats", s.handleStatsWS)
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
