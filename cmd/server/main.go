package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-ap-budgets/internal/client"
	"github.com/pesio-ai/be-ap-budgets/internal/handler"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/config"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/middleware"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

const healthProbeInterval = 15 * time.Second

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
		Msg("Starting Budgets Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		URL:         cfg.Database.URL,
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
		TxTimeout:   cfg.Database.TxTimeout,
		LockTimeout: cfg.Database.LockTimeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	store := repository.NewPostgresStore(db)

	// Notifications are best-effort; without a broker they are only logged.
	var notifier service.Notifier = client.NewLogNotifier(log.Logger)
	if cfg.NATS.URL != "" {
		conn, err := client.Connect(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, notifications will be logged only (non-fatal)")
		} else {
			defer conn.Drain()
			notifier = client.NewNotificationPublisher(conn, cfg.NATS.SubjectPrefix, log.Logger)
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification publisher initialized")
		}
	}

	// Initialize services
	budgetService := service.NewBudgetService(store, notifier, log)
	orderService := service.NewPurchaseOrderService(store, notifier, log)
	contractService := service.NewContractService(store, notifier, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(budgetService, orderService, contractService, log)
	api := http.NewServeMux()
	httpHandler.Register(api)

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty; every API request will be rejected")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/api/", middleware.Auth([]byte(cfg.Auth.JWTSecret))(api))

	// Apply middleware
	h := middleware.Chain(mux, &log.Logger, cfg.Server.AllowedOrigins, cfg.Server.RequestTimeout)

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

	// Start gRPC server (health + reflection)
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
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

	go probeDatabase(ctx, db, healthServer, cfg.Service.Name)
	go sweepExpiredContracts(ctx, contractService, cfg.Contracts.ExpirySweepInterval, log)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// probeDatabase mirrors database reachability into the gRPC health status.
func probeDatabase(ctx context.Context, db *database.DB, hs *health.Server, name string) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, healthProbeInterval/2)
		if err := db.Ping(pingCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
		hs.SetServingStatus("", status)
		hs.SetServingStatus(name, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweepExpiredContracts expires due contracts on every tick.
func sweepExpiredContracts(ctx context.Context, contracts *service.ContractService, every time.Duration, log *logger.Logger) {
	if every <= 0 {
		log.Info().Msg("Contract expiry sweep disabled")
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := contracts.ExpireDue(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Contract expiry sweep failed")
				continue
			}
			if len(expired) > 0 {
				log.Info().Int("count", len(expired)).Msg("Contracts expired")
			}
		}
	}
}
