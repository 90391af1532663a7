package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/config"
	"github.com/example/party-scheduler/internal/cycle"
	httptransport "github.com/example/party-scheduler/internal/http"
	"github.com/example/party-scheduler/internal/notify"
	"github.com/example/party-scheduler/internal/persistence"
	"github.com/example/party-scheduler/internal/persistence/memory"
	"github.com/example/party-scheduler/internal/persistence/sqlite"
	"github.com/example/party-scheduler/internal/persistence/sqlite/migration"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("scheduler exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel}))

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.Error("failed to release resources", "error", cerr)
		}
	}()

	go runPurger(ctx, cfg.PurgeInterval, cfg.Retention, app.engine.PurgeExpired, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler API listening", "addr", server.Addr, "storage", cfg.Storage, "timezone", cfg.Location.String(), "redis", cfg.Redis.Enabled())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server encountered error: %w", err)
	}
	return nil
}

// app holds the wired services and the resources that must be released on exit.
type app struct {
	store   persistence.Store
	engine  *application.Engine
	handler http.Handler
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	checks := make(map[string]httptransport.HealthCheck)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		checks["store"] = pinger.Ping
	}

	notifiers := notify.Fanout{notify.NewLogNotifier(logger)}
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		publisher := notify.NewRedisPublisher(client, notify.RedisOptions{
			ChannelPrefix: cfg.Redis.Channel,
			History:       cfg.Redis.History,
		})
		notifiers = append(notifiers, publisher)
		checks["redis"] = publisher.Ping
	}

	ids := newIDGenerator()
	now := time.Now
	calc := cycle.NewCalculator(cfg.Location)
	gate := application.NewKeyedMutex()

	games := application.NewGameCatalog(store, ids, now, logger)
	if err := games.SeedDefaults(ctx, application.DefaultGamesFromNames(cfg.DefaultGames)); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to seed default games: %w", err)
	}
	timetable := application.NewTimetableStore(store, games, calc, ids, now)
	parties := application.NewPartyStore(store, games, ids)
	stats := application.NewStatsAggregator(store, games, calc, now, cfg.StatsCacheTTL, logger)
	a.engine = application.NewEngine(application.EngineDeps{
		Store:       store,
		Games:       games,
		Timetable:   timetable,
		Parties:     parties,
		Stats:       stats,
		Calculator:  calc,
		Gate:        gate,
		Notifier:    notifiers,
		Now:         now,
		Logger:      logger,
		JoinRetries: cfg.JoinRetries,
	})
	servers := application.NewServerService(store, calc, gate, stats, cfg.DefaultResetTime, ids, now, logger)

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Servers:      httptransport.NewServerHandler(servers, a.engine, logger),
		Timetable:    httptransport.NewTimetableHandler(a.engine, logger),
		Parties:      httptransport.NewPartyHandler(a.engine, logger),
		Games:        httptransport.NewGameHandler(games, a.engine, logger),
		Stats:        httptransport.NewStatsHandler(stats, servers, logger),
		Verifier:     httptransport.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		HealthChecks: checks,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       logger,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.Open(), nil
	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLiteDSN), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// newIDGenerator returns time ordered UUIDv7 identifiers.
func newIDGenerator() func() string {
	return func() string {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.NewString()
		}
		return id.String()
	}
}

// runPurger removes cycles older than retention every interval until ctx is done.
func runPurger(ctx context.Context, interval, retention time.Duration, purge func(context.Context, time.Duration) (int, error), logger *slog.Logger) {
	if interval <= 0 || retention <= 0 {
		logger.Info("retention purge disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := purge(ctx, retention)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("retention purge failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("retention purge completed", "removed", removed)
			}
		}
	}
}
