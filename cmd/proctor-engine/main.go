package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/proctor-engine/internal/api"
	"github.com/terra-clan/proctor-engine/internal/catalog"
	"github.com/terra-clan/proctor-engine/internal/cleanup"
	"github.com/terra-clan/proctor-engine/internal/config"
	"github.com/terra-clan/proctor-engine/internal/events"
	"github.com/terra-clan/proctor-engine/internal/health"
	"github.com/terra-clan/proctor-engine/internal/locks"
	"github.com/terra-clan/proctor-engine/internal/session"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting proctor-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"store", cfg.Store,
	)

	if err := run(cfg); err != nil {
		slog.Error("proctor-engine failed", "error", err)
		os.Exit(1)
	}

	slog.Info("proctor-engine stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	checks := health.NewRegistry()
	g, gctx := errgroup.WithContext(ctx)

	// Storage and live violation feed
	var (
		repo storage.Repository
		feed storage.Feed
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem := storage.NewMemoryRepository(nil)
		repo, feed = mem, mem.Feed()
		slog.Warn("using in-memory store, data is lost on restart")
	default:
		pg, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{DSN: cfg.Database.DSN})
		if err != nil {
			return fmt.Errorf("create database repository: %w", err)
		}
		defer pg.Close()

		migrations, err := storage.Migrations(cfg.Database.MigrationsDir)
		if err != nil {
			return fmt.Errorf("open migrations: %w", err)
		}
		slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
		if err := storage.RunMigrations(initCtx, pg.Pool(), migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database connected successfully")

		listener, err := storage.NewViolationListener(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("create violation listener: %w", err)
		}
		defer listener.Close()
		g.Go(func() error {
			listener.Run(gctx)
			return nil
		})

		repo, feed = pg, listener
		checks.Register("postgres", pg)
		checks.Register("violation_listener", listener)
	}

	// Provisioning lock
	var locker locks.Locker = locks.NewLocal()
	if cfg.Redis.Address != "" {
		rl, err := locks.NewRedisLocker(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.LockTTL)
		if err != nil {
			return fmt.Errorf("create redis locker: %w", err)
		}
		defer rl.Close()
		locker = rl
		checks.Register("redis", rl)
	}

	// Event bus
	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQ.URL != "" {
		p, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		publisher = p
		checks.Register("rabbitmq", p)
	}
	defer publisher.Close()

	// Load and seed the assessment catalog
	loader := catalog.NewLoader()
	if err := loader.LoadFromDir(cfg.Catalog.Dir); err != nil {
		slog.Warn("failed to load assessments from dir", "dir", cfg.Catalog.Dir, "error", err)
	} else if err := loader.Seed(initCtx, repo); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	sessions := session.NewManager(session.ManagerOptions{
		Store:  repo,
		Locker: locker,
		Events: publisher,
		Config: session.Config{
			AutosaveDebounce: cfg.Session.AutosaveDebounce,
			CheckInterval:    cfg.Proctoring.CheckInterval,
			SnapshotInterval: cfg.Proctoring.SnapshotInterval,
			NoFaceThreshold:  cfg.Proctoring.NoFaceThreshold,
		},
		MediaTimeout: cfg.Session.MediaTimeout,
	})

	// Start cleanup worker
	cleaner := cleanup.NewCleaner(repo, sessions, publisher, nil, cfg.Cleanup.Interval)
	cleaner.Start(gctx)

	// Setup HTTP server
	server := api.NewServer(api.Options{
		Config:    cfg.Server,
		Repo:      repo,
		Sessions:  sessions,
		Feed:      feed,
		Tokens:    api.NewTokenService(cfg.Auth.JWTSecret),
		Health:    checks,
		Events:    publisher,
		DueWindow: cfg.Session.AssignmentDueWindow,
		TokenTTL:  cfg.Auth.TokenTTL,
	})
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully...")

		// Shutdown HTTP server with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}

		// flush answers of sessions still open on this instance
		sessions.CloseAll()
		return nil
	})

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
