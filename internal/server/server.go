package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/audit"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/captcha"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/config"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/delivery"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/monitoring"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/notify"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/redis"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/security"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/source"
	grpctransport "github.com/FlooooowY/SteelMount-Script-Shield/internal/transport/grpc"
	httptransport "github.com/FlooooowY/SteelMount-Script-Shield/internal/transport/http"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/usecase"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// maxIdleStream is how long an admin event stream may stay silent
const maxIdleStream = 10 * time.Minute

// Server wires the shield components and runs the listeners
type Server struct {
	config *config.Config
	logger *logrus.Logger

	// Storage
	store       repository.Store
	memStore    *repository.InMemoryStore
	redisClient *redis.Client

	// Components
	registry   *registry.Registry
	recorder   *audit.Recorder
	limiter    *security.RateLimiter
	hub        *websocket.Hub
	dispatcher *notify.Dispatcher
	handler    *httptransport.Handler

	// Monitoring
	registryProm     *prometheus.Registry
	metrics          *monitoring.Metrics
	prometheusServer *monitoring.PrometheusServer

	// Listeners
	httpServer *http.Server
	grpcServer *grpc.Server

	instanceID string

	// Graceful shutdown
	shutdownWG sync.WaitGroup
	shutdownCh chan struct{}
	stopOnce   sync.Once
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	log := logger.GetLogger()

	srv := &Server{
		config:     cfg,
		logger:     log,
		instanceID: generateInstanceID(),
		shutdownCh: make(chan struct{}),
	}

	srv.initStore()

	// Monitoring uses its own registry so several servers can coexist in one process
	srv.registryProm = prometheus.NewRegistry()
	srv.registryProm.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv.metrics = monitoring.NewMetricsWithRegistry(srv.registryProm)
	srv.prometheusServer = monitoring.NewPrometheusServer(
		cfg.Monitoring.PrometheusPort,
		cfg.Monitoring.MetricsPath,
		cfg.Monitoring.HealthCheckPath,
		srv.registryProm,
		srv.metrics,
	)

	srv.registry = registry.New(srv.store, registry.Config{
		StaticWhitelist: domain.Whitelist{
			DeviceIDs:        cfg.Access.WhitelistDeviceIDs,
			IdentityIDs:      cfg.Access.WhitelistIdentityIDs,
			NetworkAddresses: cfg.Access.WhitelistAddresses,
		},
		AbuseBanEnabled:   cfg.Security.AbuseBan.Enabled,
		MaxFailedAttempts: cfg.Security.AbuseBan.MaxFailedAttempts,
		FailureWindow:     cfg.Security.AbuseBan.Window,
	})
	srv.recorder = audit.NewRecorder(srv.store, srv.registry, cfg.Monitoring.AccessLogSize)
	srv.limiter = security.NewRateLimiter(srv.store, cfg.Security.RateLimit.RequestsPerMinute, time.Minute, cfg.Security.RateLimit.BurstSize)

	// Events
	srv.hub = websocket.NewHub()
	srv.dispatcher = notify.NewDispatcher(cfg.Notify.Timeout)
	srv.dispatcher.AddChannel(notify.NewLogChannel())
	srv.dispatcher.AddChannel(notify.NewWebsocketChannel(srv.hub))
	if cfg.Notify.DiscordWebhook != "" {
		srv.dispatcher.AddChannel(notify.NewDiscordChannel(cfg.Notify.DiscordWebhook, &http.Client{Timeout: cfg.Notify.Timeout}))
	}

	packager := delivery.NewPackager(delivery.Config{
		SecretKey:            cfg.Security.SecretKey,
		LoaderKey:            cfg.Security.LoaderKey,
		ChunkCount:           cfg.Delivery.ChunkCount,
		EncryptedBlockSize:   cfg.Delivery.EncryptedBlockSize,
		OwnerIdentityIDs:     cfg.Access.OwnerIdentityIDs,
		WhitelistIdentityIDs: cfg.Access.WhitelistIdentityIDs,
		AntiInspection:       cfg.Shim.AntiInspection,
		AutoBan:              cfg.Shim.AutoBan,
		HeartbeatInterval:    cfg.Shim.HeartbeatInterval,
	})
	scripts := source.NewScriptSource(srv.store, source.Config{
		URL:          cfg.Delivery.ScriptSourceURL,
		File:         cfg.Delivery.ScriptSourceFile,
		CacheTTL:     cfg.Delivery.CacheTTL,
		FetchTimeout: cfg.Delivery.FetchTimeout,
	})

	// Usecases
	auth := usecase.NewAuthUsecase(srv.store, srv.registry, captcha.NewEngine(), srv.dispatcher, srv.metrics, usecase.AuthConfig{
		ChallengeTTL:    cfg.Challenge.TTL,
		RequireDeviceID: cfg.Security.RequireDeviceID,
		AllowedPlaceIDs: cfg.Access.AllowedPlaceIDs,
	})
	sessions := usecase.NewSessionUsecase(srv.store, srv.registry, srv.metrics, nil)
	deliveries := usecase.NewDeliveryUsecase(auth, sessions, scripts, packager, srv.registry, srv.dispatcher, srv.metrics, usecase.DeliveryConfig{
		ChunkDelivery:     cfg.Delivery.ChunkDelivery,
		AlreadyObfuscated: cfg.Delivery.AlreadyObfuscated,
		EncodeLoader:      cfg.Delivery.EncodeLoader,
	})
	access := usecase.NewAccessUsecase(srv.registry, sessions, srv.dispatcher, srv.metrics, cfg.Shim.AutoBan)

	deps := httptransport.Dependencies{
		Auth:       auth,
		Delivery:   deliveries,
		Sessions:   sessions,
		Access:     access,
		Registry:   srv.registry,
		Recorder:   srv.recorder,
		Cache:      scripts,
		Classifier: security.NewClassifier(cfg.Security.MonitoringAgents),
		Decoys:     security.NewDecoyGenerator(),
		Limiter:    srv.limiter,
		Hub:        srv.hub,
		Metrics:    srv.metrics,
	}
	if srv.redisClient != nil {
		deps.Redis = srv.redisClient
	}
	srv.handler = httptransport.NewHandler(deps, httptransport.Config{
		PublicURL:        cfg.Server.PublicURL,
		AdminKey:         cfg.Security.AdminKey,
		OwnerIdentityIDs: cfg.Access.OwnerIdentityIDs,
	})

	securityMW := grpctransport.NewSecurityMiddleware(cfg.Security.AdminKey)
	metricsMW := monitoring.NewMetricsMiddleware(srv.metrics)
	srv.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			securityMW.UnaryInterceptor(),
			metricsMW.GRPCMetricsInterceptor(),
		),
		grpc.MaxRecvMsgSize(4*1024*1024), // 4MB
		grpc.MaxSendMsgSize(4*1024*1024), // 4MB
	)
	grpctransport.RegisterAdminServer(srv.grpcServer, grpctransport.NewAdminService(access, sessions, srv.registry, srv.recorder))

	log.Infof("Server created with instance ID: %s, HTTP port: %d, gRPC port: %d, metrics port: %d",
		srv.instanceID, cfg.Server.Port, cfg.Server.GRPCPort, cfg.Monitoring.PrometheusPort)

	return srv, nil
}

// initStore picks Redis when configured and reachable, the in-process store otherwise
func (s *Server) initStore() {
	cfg := s.config
	if cfg.Redis.URL != "" {
		timeout := cfg.Server.StartupTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		client, err := redis.NewClient(ctx, &cfg.Redis)
		if err == nil {
			s.redisClient = client
			s.store = client.Store()
			s.logger.Info("Using Redis store")
			return
		}
		s.logger.Warnf("Failed to create Redis client: %v, using local-only mode", err)
	}

	s.memStore = repository.NewInMemoryStore()
	s.store = s.memStore
}

// Handler returns the HTTP API
func (s *Server) Handler() http.Handler {
	return s.handler.Routes()
}

// Start runs every listener and background routine until ctx is done
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting server...")

	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", err)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.GRPCPort))
	if err != nil {
		httpListener.Close()
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.config.Server.WriteTimeout,
	}

	s.shutdownWG.Add(1)
	go func() {
		defer s.shutdownWG.Done()

		s.logger.Infof("Starting HTTP server on port %d", s.config.Server.Port)
		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("HTTP server error: %v", err)
		}
	}()

	s.shutdownWG.Add(1)
	go func() {
		defer s.shutdownWG.Done()

		s.logger.Infof("Starting gRPC server on port %d", s.config.Server.GRPCPort)
		if err := s.grpcServer.Serve(grpcListener); err != nil {
			s.logger.Errorf("gRPC server error: %v", err)
		}
	}()

	if s.config.Monitoring.PrometheusPort > 0 {
		if err := s.prometheusServer.Start(ctx); err != nil {
			s.logger.Errorf("Prometheus server error: %v", err)
		}
	}

	s.shutdownWG.Add(1)
	go func() {
		defer s.shutdownWG.Done()
		s.startCleanup(ctx)
	}()

	s.shutdownWG.Add(1)
	go func() {
		defer s.shutdownWG.Done()
		s.hub.StartCleanupRoutine(ctx, s.cleanupInterval(), maxIdleStream)
	}()

	s.dispatcher.Emit(domain.Event{Type: domain.EventServerStart, Reason: "instance " + s.instanceID})

	<-ctx.Done()
	return nil
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping server...")

	s.stopOnce.Do(func() { close(s.shutdownCh) })

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("Error stopping HTTP server: %v", err)
		}
	}

	grpcDone := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(grpcDone)
	}()

	select {
	case <-grpcDone:
		s.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("Graceful stop timeout, forcing gRPC stop")
		s.grpcServer.Stop()
	}

	if err := s.prometheusServer.Stop(ctx); err != nil {
		s.logger.Errorf("Error stopping Prometheus server: %v", err)
	}

	if err := s.dispatcher.Wait(ctx); err != nil {
		s.logger.Warnf("Pending notifications dropped: %v", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Errorf("Error closing Redis client: %v", err)
		}
	}

	waitDone := make(chan struct{})
	go func() {
		s.shutdownWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		s.logger.Info("All goroutines stopped")
	case <-ctx.Done():
		s.logger.Warn("Shutdown timeout, some goroutines may still be running")
	}

	return nil
}

// GetInstanceID returns the server instance ID
func (s *Server) GetInstanceID() string {
	return s.instanceID
}

// GetMetrics returns the metrics instance
func (s *Server) GetMetrics() *monitoring.Metrics {
	return s.metrics
}

// Gatherer exposes the server's metric registry
func (s *Server) Gatherer() prometheus.Gatherer {
	return s.registryProm
}

// GetStats returns runtime statistics for diagnostics
func (s *Server) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"instance_id":   s.instanceID,
		"rate_limiter":  s.limiter.GetStats(),
		"notifications": s.dispatcher.GetStats(),
		"event_streams": s.hub.GetConnectionStats(),
	}
	if s.redisClient != nil {
		stats["redis"] = s.redisClient.PoolStats()
	}
	if s.memStore != nil {
		stats["store_keys"] = s.memStore.Len()
	}
	return stats
}

// startCleanup expires in-process records and stale limiter state
func (s *Server) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Cleanup routine stopped")
			return
		case <-s.shutdownCh:
			s.logger.Info("Cleanup routine stopped due to shutdown")
			return
		case <-ticker.C:
			expired := 0
			if s.memStore != nil {
				expired = s.memStore.CleanupExpired(ctx)
			}
			limits := s.limiter.CleanupExpiredLimits()
			if expired > 0 || limits > 0 {
				s.logger.WithFields(logrus.Fields{
					"expired_keys":   expired,
					"expired_limits": limits,
				}).Debug("Cleanup completed")
			}
		}
	}
}

func (s *Server) cleanupInterval() time.Duration {
	if s.config.Server.CleanupInterval > 0 {
		return s.config.Server.CleanupInterval
	}
	return time.Minute
}

// generateInstanceID generates a unique instance ID
func generateInstanceID() string {
	return "shield-" + strings.ToUpper(uuid.New().String()[:8])
}
