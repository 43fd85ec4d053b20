package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"otc-signal-bot/internal/logging"
	"otc-signal-bot/internal/session"
	"otc-signal-bot/internal/tracker"
	"otc-signal-bot/internal/volatility"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
}

// UserStore is the slice of the persistence layer the status API reads.
// A nil store reports zero users.
type UserStore interface {
	CountUsers(ctx context.Context) (int, error)
	CountAcceptedTerms(ctx context.Context) (int, error)
}

// Server exposes the bot's read-only status surface over HTTP.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	sessions *session.Manager
	vol      *volatility.Service
	tracker  *tracker.Tracker
	users    UserStore

	startedAt time.Time
	logger    *logging.Logger
}

// NewServer creates the API server. The tracker and user store may be
// nil; their fields then read as zero values.
func NewServer(config ServerConfig, sessions *session.Manager, vol *volatility.Service, tr *tracker.Tracker, users UserStore, logger *logging.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = logging.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		config:    config,
		sessions:  sessions,
		vol:       vol,
		tracker:   tr,
		users:     users,
		startedAt: time.Now(),
		logger:    logger.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/bot/status", s.handleBotStatus)
		api.GET("/volatility", s.handleVolatility)
		api.GET("/volatility/:symbol", s.handleVolatilitySymbol)
		api.GET("/sessions", s.handleSessions)
		api.GET("/sessions/:id", s.handleSession)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("HTTP server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
