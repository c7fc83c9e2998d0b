package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/client"
	"github.com/pesio-ai/be-ap-threeway/internal/config"
	"github.com/pesio-ai/be-ap-threeway/internal/handler"
	"github.com/pesio-ai/be-ap-threeway/internal/logger"
	"github.com/pesio-ai/be-ap-threeway/internal/middleware"
	"github.com/pesio-ai/be-ap-threeway/internal/repository"
	"github.com/pesio-ai/be-ap-threeway/internal/rpc"
	"github.com/pesio-ai/be-ap-threeway/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Three-Way Matching Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize claim store
	store, closeStore, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open claim store")
	}
	defer closeStore()

	if err := store.EnsureInitialized(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize claim store")
	}
	log.Info().
		Str("backend", cfg.Store.Backend).
		Str("discipline", string(store.Discipline())).
		Msg("Claim store ready")

	if cfg.Auth.VerifierSecret == "" {
		log.Warn().Msg("AUTH_VERIFIER_SECRET is empty, every caller is read-only")
	}
	authenticator := auth.NewStaticSecret(cfg.Auth.VerifierSecret)

	// Initialize event publisher
	publisher := client.NewNotificationPublisher(nil, log.Logger)
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Error().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, claim events disabled")
		} else {
			defer nc.Drain()
			publisher = client.NewNotificationPublisher(nc, log.Logger)
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize services
	claimService := service.NewClaimService(store, publisher, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(claimService, log)
	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)

	// Apply middleware
	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logger(&log.Logger),
		middleware.Recovery(&log.Logger),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Session(authenticator),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.SessionInterceptor(authenticator)))
	handler.RegisterClaimsServer(grpcServer, handler.NewGRPCHandler(claimService, log.Logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
