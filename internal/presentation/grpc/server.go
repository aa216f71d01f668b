package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/config"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// BusPinger is the dependency the health status follows.
type BusPinger interface {
	Ping(ctx context.Context) error
}

// GatewayGRPCServer exposes the standard gRPC health service. The overall and
// per-service status track whether the message bus answers, checked every
// HealthCheckInterval.
type GatewayGRPCServer struct {
	config  *config.Config
	bus     BusPinger
	metrics ports.MetricsPort
	logger  *logrus.Logger

	// Server management
	grpcServer   *grpc.Server
	healthServer *health.Server
	listener     net.Listener

	// Health and lifecycle state
	busHealthy  bool
	metricsLock sync.RWMutex

	// Lifecycle management
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewGatewayGRPCServer(cfg *config.Config, bus BusPinger, metrics ports.MetricsPort, logger *logrus.Logger) *GatewayGRPCServer {
	return &GatewayGRPCServer{
		config:   cfg,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (s *GatewayGRPCServer) Start(ctx context.Context) error {
	address := fmt.Sprintf(":%d", s.config.GRPCPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = listener

	s.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(s.unaryInterceptor),
	)

	s.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)

	// First check runs before serving so the initial status is real
	s.checkBus(ctx)

	s.metricsLock.Lock()
	s.isRunning = true
	s.metricsLock.Unlock()

	s.logger.WithFields(logrus.Fields{
		"service": s.config.ServiceName,
		"version": s.config.ServiceVersion,
		"port":    s.config.GRPCPort,
	}).Info("Gateway gRPC server initialized")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.logger.WithField("address", listener.Addr().String()).Info("Starting gateway gRPC server")

		if err := s.grpcServer.Serve(listener); err != nil {
			s.logger.WithError(err).Error("gRPC server error")
		}
	}()
	go s.healthLoop()

	return nil
}

func (s *GatewayGRPCServer) Stop(ctx context.Context) error {
	s.metricsLock.Lock()
	if !s.isRunning {
		s.metricsLock.Unlock()
		return nil
	}
	s.isRunning = false
	s.metricsLock.Unlock()

	s.logger.Info("Gracefully stopping gateway gRPC server")

	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}

	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Gateway gRPC server stopped")
	case <-ctx.Done():
		s.logger.Warn("Force stopping gateway gRPC server due to timeout")
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
	}

	s.wg.Wait()
	return nil
}

func (s *GatewayGRPCServer) healthLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkBus(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

func (s *GatewayGRPCServer) checkBus(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := s.bus.Ping(ctx)
	healthy := err == nil

	s.metricsLock.Lock()
	changed := s.busHealthy != healthy
	s.busHealthy = healthy
	s.metricsLock.Unlock()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	ready := 1.0
	if !healthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		ready = 0
	}
	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(s.config.ServiceName, status)
	s.metrics.SetGauge(ports.MetricBusReady, ready, map[string]string{"dependency": "bus"})

	if changed {
		entry := s.logger.WithField("status", status.String())
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("Message bus health changed")
	}
}

func (s *GatewayGRPCServer) GetHealthStatus() grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s.healthServer == nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}

	s.metricsLock.RLock()
	defer s.metricsLock.RUnlock()
	if s.isRunning && s.busHealthy {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

// Unary interceptor for metrics and logging. Requests are counted through the
// MetricsPort, so they show up on /metrics next to the HTTP RED metrics.
func (s *GatewayGRPCServer) unaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	duration := time.Since(start)
	labels := map[string]string{
		"method": info.FullMethod,
		"code":   status.Code(err).String(),
	}
	s.metrics.IncCounter(ports.MetricGRPCRequests, labels)
	s.metrics.ObserveHistogram(ports.MetricGRPCRequestDuration, duration.Seconds(), labels)

	logFields := logrus.Fields{
		"method":   info.FullMethod,
		"duration": duration,
		"success":  err == nil,
	}
	if err != nil {
		logFields["error"] = err.Error()
		s.logger.WithFields(logFields).Warn("gRPC request failed")
	} else {
		s.logger.WithFields(logFields).Debug("gRPC request completed")
	}

	return resp, err
}

func (s *GatewayGRPCServer) IsRunning() bool {
	s.metricsLock.RLock()
	defer s.metricsLock.RUnlock()
	return s.isRunning
}

// GetAddress returns the server address
func (s *GatewayGRPCServer) GetAddress() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf(":%d", s.config.GRPCPort)
}
