// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/slot-broker/internal/alert"
	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
	"github.com/Shivanand-hulikatti/slot-broker/internal/database"
	"github.com/Shivanand-hulikatti/slot-broker/internal/geo"
	"github.com/Shivanand-hulikatti/slot-broker/internal/handler"
	"github.com/Shivanand-hulikatti/slot-broker/internal/notify"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository/memory"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
	"github.com/Shivanand-hulikatti/slot-broker/internal/tracing"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("slot-broker stopped")
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "slot-broker").Logger()
	ctx = log.Logger.WithContext(ctx)

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTLPEndpoint, "slot-broker", version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	// ── 1. Storage ───────────────────────────────────────────────────────
	var store repository.Store
	switch cfg.StoreDriver {
	case "memory":
		store = memory.NewStore()
		log.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		pool, err := database.NewPool(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		store = postgres.NewStore(pool)
		log.Info().Str("host", cfg.DB.Host).Msg("connected to postgres")
	}

	// ── 2. Geo resolver and notifier ─────────────────────────────────────
	table, err := geo.LoadTable(cfg.Geo.TablePath)
	if err != nil {
		return err
	}
	var cache geo.Cache = geo.NewMemoryCache()
	if cfg.Geo.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Geo.RedisAddr, DB: cfg.Geo.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		cache = geo.NewRedisCache(rdb, geo.WithCacheTTL(cfg.Geo.CacheTTL))
	}
	resolver := geo.NewCachedResolver(table, cache)

	var notifier notify.Notifier = notify.NewLogNotifier(log.Logger)
	if cfg.Notify.AMQPURL != "" {
		pub, err := notify.NewPublisher(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		notifier = notify.NewQueueNotifier(pub, cfg.Notify.MailFrom)
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	clk := clock.WallClock
	quotaCfg, err := service.QuotaConfigFrom(cfg.Quota)
	if err != nil {
		return err
	}
	bookingCfg, err := service.BookingConfigFrom(cfg.Book, cfg.BaseURL)
	if err != nil {
		return err
	}
	alertCfg, err := alert.ConfigFrom(cfg)
	if err != nil {
		return err
	}

	engine := alert.NewEngine(store, resolver, notifier, clk, alertCfg)
	var hook service.PublishHook = engine
	if cfg.Alert.Async {
		dispatcher := alert.NewDispatcher(engine, cfg.Alert.Workers, cfg.Alert.QueueSize)
		// Runs after the server has drained, so queued passes still finish.
		defer dispatcher.Close()
		hook = dispatcher
	}

	tokens := service.NewJWTTokens(cfg.Auth, clk)
	router := handler.NewRouter(handler.Deps{
		Slots:     service.NewSlotManager(store, service.NewQuotaLedger(quotaCfg), clk, hook),
		Bookings:  service.NewBookingManager(store, bookingCfg, clk, tokens, notifier),
		Providers: service.NewProviders(store, tokens, clk, service.ProviderConfigFrom(cfg.Auth, cfg.Quota)),
		Alerts:    alert.NewSubscriptions(store, notifier, clk, alertCfg),
		Public:    cfg.Public,
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
