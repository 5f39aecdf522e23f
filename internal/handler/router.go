package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/legalforum/chatsync/internal/middleware"
	"github.com/legalforum/chatsync/internal/service"
	"github.com/legalforum/chatsync/pkg/logger"
)

// RouterConfig holds everything the relay router serves.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string

	Users         *service.UserDirectory
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Presence      *service.PresenceService
	NATS          Connectivity
	Streams       StreamChecker

	Logger *logger.Logger
}

// NewRouter builds the relay HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.NATS, cfg.Streams)
	conversationHandler := NewConversationHandler(cfg.Conversations, cfg.Logger)
	messageHandler := NewMessageHandler(cfg.Messages, cfg.Logger)
	presenceHandler := NewPresenceHandler(cfg.Presence)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, cfg.Users.Register))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/read", conversationHandler.MarkRead)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
			})
		})

		r.Route("/presence", func(r chi.Router) {
			r.Get("/online", presenceHandler.Online)
			r.Post("/heartbeat", presenceHandler.Heartbeat)
		})
	})

	return r
}
