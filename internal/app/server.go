package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/docintel/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/docintel/internal/api/middlewares"
	"github.com/markdave123-py/docintel/internal/config"
	"github.com/markdave123-py/docintel/internal/core/agents"
	"github.com/markdave123-py/docintel/internal/services"
)

const tokenTTL = 24 * time.Hour

// Services are the dependencies the HTTP layer talks to.
type Services struct {
	Users      *services.UserService
	Documents  *services.DocumentService
	Search     *services.SearchService
	Dispatcher *agents.Dispatcher
	Redis      redis.Cmdable
	MaxBytes   int64
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, svc Services, logger *slog.Logger) *Server {
	secret := []byte(cfg.JWTSecret)
	authHandler := handlers.NewAuthHandler(svc.Users, secret, tokenTTL, logger)
	docHandler := handlers.NewDocumentHandler(svc.Documents, svc.MaxBytes, logger)
	chatHandler := handlers.NewChatHandler(svc.Search, logger)
	agentHandler := handlers.NewAgentHandler(svc.Dispatcher, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Group(func(public chi.Router) {
			public.Use(middleware.Timeout(30 * time.Second))
			public.Post("/signup", authHandler.Signup)
			public.Post("/login", authHandler.Login)
		})

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWT(secret))
			protected.Use(appMiddleware.RateLimit(appMiddleware.RateLimiterConfig{
				Counter:   appMiddleware.NewRedisCounter(svc.Redis),
				Limit:     cfg.APIRateLimit,
				Window:    time.Minute,
				KeyPrefix: "rl:api:",
				Logger:    logger,
			}))
			protected.Use(middleware.Timeout(5 * time.Minute))

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{id}", docHandler.GetDocument)
			protected.Post("/documents/{id}/process", docHandler.ProcessDocument)
			protected.Get("/documents/{id}/status", docHandler.GetStatus)
			protected.Get("/documents/{id}/chunks", docHandler.GetChunks)
			protected.Delete("/documents/{id}", docHandler.DeleteDocument)
			protected.Get("/documents/{id}/export", docHandler.ExportDocument)

			protected.Post("/search", chatHandler.Search)
			protected.Post("/chat/query", chatHandler.QueryDocument)

			protected.Get("/agents/status", agentHandler.Status)
			protected.Post("/agents/{name}", agentHandler.Dispatch)
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
