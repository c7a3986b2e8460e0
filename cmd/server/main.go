package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-procurement-letters/internal/client"
	"github.com/pesio-ai/be-procurement-letters/internal/config"
	"github.com/pesio-ai/be-procurement-letters/internal/handler"
	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/pkg/auth"
	"github.com/pesio-ai/be-procurement-letters/pkg/database"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
	"github.com/pesio-ai/be-procurement-letters/pkg/middleware"
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
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Procurement Letters Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database.Pool())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	ruleRepo := repository.NewRuleRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	letterRepo := repository.NewLetterRepository(db, repository.NewLetterLogRepository(db))

	centralRoles, err := directoryRepo.RoleIDsByCode(ctx, cfg.Routing.CentralRoleCodes)
	if err != nil {
		log.Fatal().Err(err).Strs("codes", cfg.Routing.CentralRoleCodes).Msg("Failed to resolve central roles")
	}
	resolverCfg := service.ResolverConfig{
		CentralUnitCode: cfg.Routing.CentralUnitCode,
		CentralRoles:    make(map[repository.RoleID]struct{}, len(centralRoles)),
	}
	for _, id := range centralRoles {
		resolverCfg.CentralRoles[id] = struct{}{}
	}

	// Notifications are optional
	var notifier *client.NotificationPublisher
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		conn, js, err := client.ConnectJetStream(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
		} else {
			nc = conn
			notifier = client.NewNotificationPublisher(js, log.Named("notifications").Logger)
			log.Info().Str("stream", cfg.NATS.Stream).Msg("NATS JetStream connected")
		}
	}

	// Initialize services
	resolver := service.NewApproverResolver(directoryRepo, resolverCfg, log.Named("resolver"))
	letterService := service.NewLetterService(ruleRepo, letterRepo, resolver, notifier, log.Named("letters"))
	ruleService := service.NewRuleService(ruleRepo, log.Named("rules"))

	if report, err := ruleService.CheckCoverage(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to check rule coverage")
	} else if !report.OK() {
		log.Warn().
			Int("gaps", len(report.Gaps)).
			Int("overlaps", len(report.Overlaps)).
			Msg("Procurement rules do not cover every amount exactly once")
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	// Setup HTTP server
	httpHandler := handler.NewHTTPHandler(letterService, ruleService, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Routes(verifier.Middleware, cfg.Server.RequestTimeout),
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
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.UnaryTimeout(cfg.Server.RequestTimeout),
			verifier.UnaryServerInterceptor(healthpb.Health_Check_FullMethodName),
		),
	)
	handler.RegisterLetterWorkflowServer(grpcServer, handler.NewGRPCHandler(letterService, log.Logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.LetterWorkflowServiceName, healthpb.HealthCheckResponse_SERVING)
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

	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("NATS drain failed")
		}
	}

	log.Info().Msg("Server stopped")
}
