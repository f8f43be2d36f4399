// Package server assembles the sandbox daemon: logging, metrics, session
// management, and the HTTP/WebSocket surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/luminadocs/lumina/internal/api/http"
	"github.com/luminadocs/lumina/internal/api/middleware"
	"github.com/luminadocs/lumina/internal/bridge"
	"github.com/luminadocs/lumina/internal/infrastructure/config"
	"github.com/luminadocs/lumina/internal/infrastructure/monitoring"
	"github.com/luminadocs/lumina/internal/logging"
	"github.com/luminadocs/lumina/internal/netguard"
	"github.com/luminadocs/lumina/internal/security"
	"github.com/luminadocs/lumina/internal/session"
)

// Server owns the HTTP listener and the session manager behind it.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// New assembles a server from configuration and the base security policy
// applied to every new session.
func New(cfg *config.Config, policy security.Policy) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level, OutputPaths: []string{"stdout"}})
		if err != nil {
			return nil, err
		}
		logger = l
	}

	logger.Info("initializing sandbox daemon",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.Int("max_sessions", cfg.Server.MaxSessions),
	)

	metrics := monitoring.NewMetrics()

	bridgeCfg := bridge.DefaultConfig()
	bridgeCfg.RequestTimeout = cfg.Bridge.RequestTimeout
	bridgeCfg.HeartbeatInterval = cfg.Bridge.HeartbeatInterval
	bridgeCfg.ReconnectAttempts = cfg.Bridge.ReconnectAttempts
	bridgeCfg.ReconnectDelay = cfg.Bridge.ReconnectDelay
	bridgeCfg.MaxMessageSize = cfg.Bridge.MaxMessageSize
	bridgeCfg.EnableCompression = cfg.Bridge.EnableCompression
	bridgeCfg.CompressionThreshold = cfg.Bridge.CompressionThreshold

	sessions := session.NewManager(bridgeCfg, cfg.Server.MaxSessions, logger, metrics)
	guard := netguard.NewGuard(policy, logger)
	handlers := apihttp.NewHandlers(sessions, policy, guard, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", monitoring.Handler(metrics.Registry()))

	router.GET("/connect", handlers.Connect)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id/stats", handlers.GetSessionStats)
	router.GET("/sessions/:id/modules", handlers.ListModules)
	router.POST("/sessions/:id/modules", handlers.LoadModule)
	router.POST("/sessions/:id/execute", handlers.ExecuteFunction)
	router.POST("/sessions/:id/events", handlers.SendEvent)
	router.DELETE("/sessions/:id", handlers.DestroySession)

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP listener and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close drains the listener and destroys every live session.
func (s *Server) Close() error {
	s.logger.Info("shutting down")

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn("listener shutdown failed", zap.Error(err))
		}
	}

	s.sessions.Shutdown()
	_ = s.logger.Sync()
	return nil
}
