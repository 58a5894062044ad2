package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/core/services"
	httphandlers "callmesh/internal/handlers/http"
	wshandlers "callmesh/internal/handlers/ws"
	"callmesh/internal/infrastructure/auth"
	"callmesh/internal/infrastructure/devices"
	"callmesh/internal/infrastructure/directory"
	"callmesh/internal/infrastructure/middleware"
	"callmesh/internal/infrastructure/monitoring"
	"callmesh/internal/infrastructure/reliability"
	signalinfra "callmesh/internal/infrastructure/signal"
	webrtcinfra "callmesh/internal/infrastructure/webrtc"
	"callmesh/pkg/circuitbreaker"
	"callmesh/pkg/config"
	"callmesh/pkg/logger"
	"callmesh/pkg/retry"
	"callmesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const tokenTTL = time.Hour

func main() {
	cfg := loadConfig()

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "callmesh",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	participant := localParticipant()
	authService := auth.NewService(cfg.Auth.JWTSecret, tokenTTL)
	identity := auth.NewProvider(authService, participant)

	healthChecker := monitoring.NewHealthChecker()

	adapter, memberDir, closeSignaling, err := buildSignaling(cfg, identity, healthChecker, log)
	if err != nil {
		log.Fatalw("failed to set up signaling", "mode", cfg.Signaling.Mode, "error", err)
	}
	defer closeSignaling()

	var wrapper *reliability.SignalingWrapper
	if cfg.Signaling.Breaker.Enabled {
		wrapper = reliability.NewSignalingWrapper(adapter, retry.DefaultConfig(), circuitbreaker.Config{
			FailureThreshold:    cfg.Signaling.Breaker.FailureThreshold,
			SuccessThreshold:    cfg.Signaling.Breaker.SuccessThreshold,
			Timeout:             cfg.Signaling.Breaker.OpenTimeout,
			MaxRequestsHalfOpen: 3,
		}, log)
		adapter = wrapper
	}

	transportCfg := webrtcinfra.Config{
		ICEServers:      iceServers(cfg),
		QualityInterval: cfg.Call.QualityInterval,
	}
	transportCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	transport := webrtcinfra.NewTransport(transportCfg, log)

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	sessionCfg := services.SessionConfig{
		NegotiationTimeout: cfg.Call.NegotiationTimeout,
		EndGrace:           cfg.Call.EndGrace,
		PublishTimeout:     cfg.Call.PublishTimeout,
		ICERestart: retry.Config{
			Enabled:      true,
			MaxAttempts:  cfg.Call.ICERestart.MaxAttempts,
			InitialDelay: cfg.Call.ICERestart.InitialDelay,
			MaxDelay:     cfg.Call.ICERestart.MaxDelay,
			Multiplier:   cfg.Call.ICERestart.Multiplier,
			Jitter:       true,
		},
	}

	var metrics ports.Metrics
	if collector != nil {
		metrics = collector
	}
	manager := services.NewCallManager(adapter, memberDir, identity, transport, metrics, sessionCfg, log)

	deviceRegistry := devices.NewRegistry(log)
	deviceService := services.NewDeviceService(deviceRegistry, manager, log)

	eventGateway := wshandlers.NewEventGateway(manager.Events(), log)
	callHandler := httphandlers.NewCallHandler(manager, deviceService, deviceRegistry)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	authed := router.Group("/")
	authed.Use(middleware.AuthMiddleware(authService))
	callHandler.SetupRoutes(authed)
	authed.GET("/ws/events", eventGateway.Handle)

	if wrapper != nil {
		healthChecker.AddCheck("signaling_breaker", func(ctx context.Context) error {
			if state := wrapper.Stats().State; state != circuitbreaker.StateClosed {
				return fmt.Errorf("signaling breaker %s", state)
			}
			return nil
		}, time.Second)
	}
	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting callmesh daemon", "address", cfg.Server.Address, "signaling", cfg.Signaling.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// End the active call before closing the listener so the remote sides
	// receive Bye instead of a dead transport.
	manager.End(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown failed", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("tracer shutdown failed", "error", err)
	}
	log.Info("callmesh daemon stopped")
}

func loadConfig() *config.Config {
	paths := []string{
		os.Getenv("CALLMESH_CONFIG"),
		"configs/config.yaml",
		"./config.yaml",
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	cfg := config.DefaultConfig()
	return cfg
}

func localParticipant() domain.ParticipantID {
	if id := os.Getenv("CALLMESH_PARTICIPANT_ID"); id != "" {
		return domain.ParticipantID(id)
	}
	host, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return domain.ParticipantID(host)
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	if len(cfg.WebRTC.ICEServers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// buildSignaling wires the adapter and membership directory for the
// configured mode and returns a cleanup func.
func buildSignaling(
	cfg *config.Config,
	identity *auth.Provider,
	health *monitoring.HealthChecker,
	log *zap.SugaredLogger,
) (adapter ports.SignalingAdapter, dir ports.MembershipDirectory, cleanup func(), err error) {
	switch cfg.Signaling.Mode {
	case "memory":
		fabric := signalinfra.NewMemoryFabric()
		a := fabric.Adapter()
		return a, directory.NewMemoryDirectory(), func() { a.Close() }, nil

	case "redis":
		client, err := signalinfra.NewRedisClient(
			cfg.Signaling.Redis.Address,
			cfg.Signaling.Redis.Password,
			cfg.Signaling.Redis.DB,
			cfg.Signaling.Redis.PoolSize,
			log,
		)
		if err != nil {
			return nil, nil, nil, err
		}
		health.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, 2*time.Second)
		return signalinfra.NewRedisAdapter(client, log),
			directory.NewRedisDirectory(client),
			func() { _ = client.Close() },
			nil

	case "gateway":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ident, err := identity.Identity(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		gw, err := signalinfra.DialGateway(ctx, signalinfra.GatewayConfig{
			URL:          cfg.Signaling.Gateway.URL,
			PingInterval: cfg.Signaling.Gateway.PingInterval,
			WriteTimeout: cfg.Signaling.Gateway.WriteTimeout,
		}, ident.Token, log)
		if err != nil {
			return nil, nil, nil, err
		}
		// Membership arrives through join signals; the gateway carries no
		// roster query.
		return gw, directory.NewMemoryDirectory(), func() { _ = gw.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown signaling mode %q", cfg.Signaling.Mode)
	}
}
