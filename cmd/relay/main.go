// Package main is the entry point for the chat relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/legalforum/chatsync/internal/config"
	"github.com/legalforum/chatsync/internal/handler"
	natsclient "github.com/legalforum/chatsync/internal/nats"
	"github.com/legalforum/chatsync/internal/service"
	"github.com/legalforum/chatsync/internal/transport"
	"github.com/legalforum/chatsync/pkg/logger"
	"github.com/legalforum/chatsync/pkg/metrics"
	"github.com/legalforum/chatsync/pkg/tracing"
)

const statsInterval = 15 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatsync-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     "chatsync-relay",
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient, natsclient.StreamOptions{
		MaxAge: cfg.StreamMaxAge,
		Memory: cfg.StreamMemory,
	})
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Fatal("failed to ensure stream", zap.Error(err))
	}

	// Initialize services
	users := service.NewUserDirectory()
	presenceSvc := service.NewPresenceService(users, cfg.PresenceTTL, log)
	conversationSvc := service.NewConversationService(users, presenceSvc, log)
	messageSvc := service.NewMessageService(streamManager, natsClient, conversationSvc, users, log)

	// Client-originated traffic on the transport
	if _, err := natsClient.Subscribe(transport.DestinationPrivateChat, messageSvc.HandleFanoutHint); err != nil {
		log.Fatal("failed to subscribe to fan-out hints", zap.Error(err))
	}
	if _, err := natsClient.Subscribe(transport.DestinationPresenceHeartbeat, presenceSvc.HandleHeartbeat); err != nil {
		log.Fatal("failed to subscribe to heartbeats", zap.Error(err))
	}

	go runMaintenance(ctx, streamManager, presenceSvc, log)

	// Create HTTP server
	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: handler.NewRouter(handler.RouterConfig{
			JWTSecret:         cfg.JWTSecret,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
			CORSOrigins:       cfg.CORSOrigins,
			Users:             users,
			Conversations:     conversationSvc,
			Messages:          messageSvc,
			Presence:          presenceSvc,
			NATS:              natsClient,
			Streams:           streamManager,
			Logger:            log,
		}),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// runMaintenance exports stream gauges and prunes stale heartbeats until ctx is done.
func runMaintenance(ctx context.Context, streams *natsclient.StreamManager, presence *service.PresenceService, log *logger.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := streams.Stats(ctx)
			if err != nil {
				log.Warn("failed to read stream stats", zap.Error(err))
			} else {
				metrics.RecordStream(natsclient.StreamName, stats.Messages, stats.Bytes)
			}
			if n := presence.Prune(); n > 0 {
				log.Debug("pruned stale heartbeats", zap.Int("count", n))
			}
		}
	}
}
