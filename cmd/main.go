package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
	"github.com/duynhne/session-service/config"
	database "github.com/duynhne/session-service/internal/core"
	"github.com/duynhne/session-service/internal/core/domain"
	"github.com/duynhne/session-service/internal/core/password"
	"github.com/duynhne/session-service/internal/core/repository"
	"github.com/duynhne/session-service/internal/core/token"
	logicv1 "github.com/duynhne/session-service/internal/logic/v1"
	webv1 "github.com/duynhne/session-service/internal/web/v1"
	"github.com/duynhne/session-service/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	pkgzerolog.Setup(cfg.Logging.Level)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Str("port", cfg.Service.Port).
		Str("session_store", cfg.Auth.SessionStore).
		Msg("Service starting")

	// Initialize OpenTelemetry tracing
	var shutdownTracing func(context.Context) error
	if cfg.Tracing.Enabled {
		tp, err := middleware.InitTracing(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			shutdownTracing = tp.Shutdown
			log.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sample_rate", cfg.Tracing.SampleRate).
				Msg("Tracing initialized")
		}
	} else {
		log.Info().Msg("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize profiling")
		} else {
			log.Info().Str("endpoint", cfg.Profiling.Endpoint).Msg("Profiling initialized")
			defer middleware.StopProfiling()
		}
	} else {
		log.Info().Msg("Profiling disabled (PROFILING_ENABLED=false)")
	}

	stores, err := openStores(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer stores.close()

	auth, err := buildAuthService(cfg, stores)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build auth service")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	var isShuttingDown atomic.Bool

	r.Use(middleware.TracingMiddleware(cfg.Service.Name))
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.PrometheusMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webv1.NewHandler(auth, cfg.Auth.SessionTTL, cfg.IsProduction()).RegisterRoutes(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Service.Port).Msg("Starting session service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	// Fail readiness first and wait for propagation.
	isShuttingDown.Store(true)
	if drainDelay := cfg.GetReadinessDrainDelayDuration(); drainDelay > 0 {
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay started")
		time.Sleep(drainDelay)
	}

	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server...")

	// 1. Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		log.Info().Msg("HTTP server shutdown complete")
	}

	// 2. Close store connections
	stores.close()
	log.Info().Msg("Stores closed")

	// 3. Shutdown tracer
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown error")
		} else {
			log.Info().Msg("Tracer shutdown complete")
		}
	}

	log.Info().Msg("Graceful shutdown complete")
}

// storeSet holds the repositories for the configured backend and the
// functions that release their connections.
type storeSet struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	closers  []func()
	closed   atomic.Bool
}

func (s *storeSet) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the backends selected by AUTH_SESSION_STORE. Users
// live in Postgres unless the memory backend is selected.
func openStores(ctx context.Context, cfg *config.Config) (*storeSet, error) {
	set := &storeSet{}

	if cfg.Auth.SessionStore == config.StoreMemory {
		log.Warn().Msg("Using in-memory stores; all data is lost on restart")
		set.users = repository.NewMemoryUserRepository()
		set.sessions = repository.NewMemorySessionRepository()
		return set, nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	set.closers = append(set.closers, pool.Close)
	log.Info().Msg("Database connection pool established")

	if err := database.Migrate(ctx, pool); err != nil {
		set.close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	set.users = repository.NewUserRepository(pool)

	switch cfg.Auth.SessionStore {
	case config.StoreRedis:
		client, err := database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			set.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		set.closers = append(set.closers, func() { _ = client.Close() })
		set.sessions = repository.NewRedisSessionRepository(client, cfg.Service.Name)
		log.Info().Msg("Redis session store connected")
	default:
		set.sessions = repository.NewSessionRepository(pool)
	}

	return set, nil
}

// buildAuthService wires the engine with the process-wide signing key.
func buildAuthService(cfg *config.Config, stores *storeSet) (*logicv1.AuthService, error) {
	key := []byte(cfg.Auth.SigningKey)
	if len(key) == 0 {
		// Generated once per process; tokens do not survive a restart.
		key = make([]byte, config.MinSigningKeyLength)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		log.Warn().Msg("AUTH_SIGNING_KEY not set; using an ephemeral process key")
	}

	codec, err := token.NewJWTCodec(key, token.WithIssuer(cfg.Service.Name))
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}

	return logicv1.NewAuthService(
		stores.users, stores.sessions, hasher, codec,
		logicv1.WithSessionTTL(cfg.Auth.SessionTTL),
		logicv1.WithTokenTTL(cfg.Auth.TokenTTL),
		logicv1.WithMaxSessions(cfg.Auth.MaxSessions),
		logicv1.WithDefaultRoles(cfg.Auth.DefaultRoles...),
	), nil
}
