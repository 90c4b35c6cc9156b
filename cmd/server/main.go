package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openskirmish/skirmish-server-go/internal/auth"
	"github.com/openskirmish/skirmish-server-go/internal/config"
	"github.com/openskirmish/skirmish-server-go/internal/content"
	"github.com/openskirmish/skirmish-server-go/internal/game"
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
	"github.com/openskirmish/skirmish-server-go/internal/repository"
	"github.com/openskirmish/skirmish-server-go/internal/server"
	"github.com/openskirmish/skirmish-server-go/internal/session"
)

var (
	configPath = flag.String("config", "", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting skirmish server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if cfg.Auth.AdminPassword == "" {
		logger.Warn("admin password not configured; admin endpoints disabled")
	}

	// Create context that listens for termination signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Load the card catalog
	catalog := content.Default()
	if cfg.Game.CardsPath != "" {
		catalog, err = content.LoadFile(cfg.Game.CardsPath)
		if err != nil {
			logger.Fatal("failed to load card catalog", zap.Error(err))
		}
	}
	logger.Info("card catalog loaded", zap.Int("cards", catalog.Len()))

	// Initialize database. Persistence is optional; without a database URL
	// the server keeps resolution history in memory only.
	var history *repository.HistoryRepository
	if cfg.Database.URL != "" {
		db, dbErr := repository.NewDB(ctx, cfg.Database, logger)
		if dbErr != nil {
			logger.Fatal("failed to connect to database", zap.Error(dbErr))
		}
		defer db.Close()

		if schemaErr := db.EnsureSchema(ctx); schemaErr != nil {
			logger.Fatal("failed to ensure schema", zap.Error(schemaErr))
		}

		// Log database stats
		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)

		history = repository.NewHistoryRepository(db)

		// Keep the stored card definitions in step with the catalog
		cardRepo := repository.NewCardRepository(db)
		if n, upErr := cardRepo.UpsertCards(ctx, catalog.Cards()); upErr != nil {
			logger.Warn("card sync failed", zap.Error(upErr))
		} else {
			logger.Info("card definitions synced", zap.Int("cards", n))
		}
	}

	// Initialize session manager
	sessionMgr := session.NewManager(cfg.Server.LeasePeriod, cfg.Server.MaxSessions, logger)
	logger.Info("session manager initialized",
		zap.Duration("lease_period", cfg.Server.LeasePeriod),
		zap.Int("max_sessions", cfg.Server.MaxSessions),
	)

	// Start session cleanup goroutine
	go sessionMgr.CleanupExpiredSessions(ctx)

	// Initialize join token store
	tokenStore := auth.NewTokenStore(cfg.Auth.JoinTokenTTL)
	logger.Info("join token store initialized",
		zap.Duration("token_ttl", cfg.Auth.JoinTokenTTL),
	)
	go tokenStore.SweepLoop(ctx)

	// Initialize match engine
	engineOpts := game.Options{
		Timing: resolve.Timing{
			MinDwell:            cfg.Game.Resolver.MinDwell,
			MaxWait:             cfg.Game.Resolver.MaxWait,
			InterActionDelay:    cfg.Game.Resolver.InterActionDelay,
			StartDelayBase:      cfg.Game.Resolver.StartDelayBase,
			StartDelayPerAction: cfg.Game.Resolver.StartDelayPerAction,
		},
		WindowDuration:   cfg.Game.WindowDuration,
		EnergyCapacity:   cfg.Game.EnergyCapacity,
		EnergyRegen:      cfg.Game.EnergyRegen,
		DefaultMaxHealth: cfg.Game.DefaultMaxHealth,
		JournalDir:       cfg.Game.JournalDir,
	}
	if history != nil {
		engineOpts.OnRunComplete = func(matchID string, report resolve.RunReport) {
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer saveCancel()
			if saveErr := history.SaveRun(saveCtx, matchID, report); saveErr != nil {
				logger.Warn("saving run history failed",
					zap.String("match_id", matchID),
					zap.String("run_id", report.RunID),
					zap.Error(saveErr),
				)
			}
		}
	}
	engine := game.NewEngine(catalog, engineOpts, logger)
	logger.Info("match engine initialized")

	// Initialize rate limiter
	limiter := server.NewRateLimiter(cfg.Server.RateLimit)
	defer limiter.Stop()

	// Initialize WebSocket gateway
	gateway := server.NewGateway(server.GatewayConfig{
		Engine:         engine,
		Sessions:       sessionMgr,
		Tokens:         tokenStore,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxClients:     cfg.Server.MaxSessions,
		Logger:         logger,
	})

	router := server.NewRouter(server.RouterConfig{
		Logger:         logger,
		Engine:         engine,
		Gateway:        gateway,
		Catalog:        catalog,
		Tokens:         tokenStore,
		History:        history,
		Limiter:        limiter,
		Metrics:        server.NewMetricsObserver(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AdminPassword:  cfg.Auth.AdminPassword,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP server
	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.HTTPAddress))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(serveErr))
		}
	}()

	logger.Info("skirmish server initialized",
		zap.String("version", version),
		zap.String("http_address", cfg.Server.HTTPAddress),
		zap.Int("max_sessions", cfg.Server.MaxSessions),
		zap.Bool("persistence", history != nil),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	// Disconnect clients and close all active sessions
	gateway.Shutdown()
	sessionMgr.CloseAll()

	// Flush match journals
	for _, matchID := range engine.Matches() {
		if closeErr := engine.CloseMatch(matchID); closeErr != nil {
			logger.Warn("closing match failed", zap.String("match_id", matchID), zap.Error(closeErr))
		}
	}

	logger.Info("skirmish server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
