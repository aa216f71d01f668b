package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/config"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/handlers"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure/observability"
	grpcserver "github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/presentation/grpc"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/provider"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := newLogger(cfg)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	hostname, _ := os.Hostname()
	labels := ports.MetricsLabels{
		Service:  cfg.ServiceName,
		Instance: hostname,
		Version:  cfg.ServiceVersion,
	}
	metricsPort := observability.NewPrometheusMetricsAdapter(labels.ConstantLabels())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := connectBus(ctx, cfg, logger)
	requestReply := infrastructure.NewRequestReply(bus, logger)

	var broadcaster *provider.Broadcaster
	var registryProvider *provider.RegistryProvider
	if cfg.ProviderEnabled {
		registryProvider = provider.NewRegistryProvider(
			metricsPort.Registry(),
			requestReply,
			cfg.MetricsAddress,
			[]string{"service", "instance", "version"},
			logger,
		)
		if err := registryProvider.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start metrics provider")
		}

		broadcaster = provider.NewBroadcaster(registryProvider, bus, cfg.BroadcastBaseAddress, cfg.BroadcastInterval, logger)
		broadcaster.Start(ctx)
	}

	queryClient := services.NewMetricsQueryClient(requestReply, cfg.MetricsAddress, cfg.RequestTimeout, metricsPort, logger)
	metricsService := services.NewMetricsService(queryClient, logger)
	streams := handlers.NewStreamHandler(bus, cfg.BroadcastBaseAddress, cfg.StreamWriteTimeout, metricsPort, logger)

	router := &handlers.Router{
		Health:      handlers.NewHealthHandler(cfg.ServiceName, cfg.ServiceVersion, bus, logger),
		Metrics:     handlers.NewMetricsHandler(metricsService, metricsPort, logger),
		Streams:     streams,
		Static:      handlers.NewStaticHandler(os.DirFS(cfg.WebRoot), logger),
		MetricsPort: metricsPort,
		Logger:      logger,
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddress(),
		Handler: router.Engine(),
	}

	grpcServer := grpcserver.NewGatewayGRPCServer(cfg, bus, metricsPort, logger)
	if err := grpcServer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start gRPC server")
	}

	go func() {
		logger.WithField("address", httpServer.Addr).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}
	streams.Close()

	if err := grpcServer.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("gRPC server forced to shutdown")
	}

	if broadcaster != nil {
		broadcaster.Stop()
	}
	if registryProvider != nil {
		if err := registryProvider.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop metrics provider")
		}
	}

	cancel()
	if err := bus.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close message bus")
	}

	logger.Info("Servers shutdown complete")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// connectBus returns the configured bus. An unreachable Redis degrades to the
// in-memory bus, which only serves this instance.
func connectBus(ctx context.Context, cfg *config.Config, logger *logrus.Logger) ports.PubSub {
	if cfg.BusBackend == config.BusBackendMemory {
		logger.Info("Using in-memory message bus")
		return infrastructure.NewMemoryBus(logger)
	}

	redisBus, err := infrastructure.NewRedisBus(cfg.RedisURL, logger)
	if err != nil {
		logger.WithError(err).Warn("Invalid Redis URL, falling back to in-memory message bus")
		return infrastructure.NewMemoryBus(logger)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisBus.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("Redis unreachable, falling back to in-memory message bus")
		_ = redisBus.Close()
		return infrastructure.NewMemoryBus(logger)
	}

	logger.Info("Connected to Redis message bus")
	return redisBus
}
