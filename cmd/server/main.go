package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/api"
	"github.com/xtrntr/tradebot/internal/auth"
	"github.com/xtrntr/tradebot/internal/config"
	"github.com/xtrntr/tradebot/internal/db"
	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/memstore"
	"github.com/xtrntr/tradebot/internal/notify"
	"github.com/xtrntr/tradebot/internal/pricefeed"
	"github.com/xtrntr/tradebot/internal/quotecache"
)

// Main entry point: wires storage, price feed, notifiers, the matching
// scheduler, and the HTTP server
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		zap.NewExample().Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg.Database, logger)
	defer closeStore()

	var feed pricefeed.Feed = &pricefeed.Router{
		Equity: pricefeed.NewEquitySource(cfg.Feed.EquityURL, cfg.Feed.Timeout),
		Crypto: pricefeed.NewCryptoSource(cfg.Feed.CryptoURL, cfg.Feed.Timeout),
	}

	var quotes market.QuoteLookup
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, quote cache will miss until it recovers", zap.Error(err))
		}
		cache := quotecache.New(rdb, cfg.Redis.QuoteTTL, logger)
		defer cache.Close()
		feed = &pricefeed.Recorder{Next: feed, Sink: cache, Logger: logger}
		quotes = cache
	}

	hub := notify.NewHub(logger, cfg.App.AllowedOrigins...)
	defer hub.Close()
	notifiers := notify.Fanout{&notify.LogNotifier{Logger: logger}, hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		defer kn.Close()
		notifiers = append(notifiers, kn)
	}
	// registered after the sinks so it drains before they close
	dispatcher := notify.NewAsync(notifiers, notify.DefaultQueueSize, logger)
	defer dispatcher.Close()

	service := market.NewService(store, feed, quotes, logger)
	scheduler := market.NewScheduler(store, feed, dispatcher, logger, cfg.Scheduler.Interval)
	authService := auth.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.GatewaySecretHash, cfg.Auth.TokenTTL)
	handler := api.NewHandler(service, authService, hub, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.CORS(cfg.App.AllowedOrigins))
	handler.Routes(r)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	srv := &http.Server{Addr: cfg.App.Port, Handler: r}
	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.App.Port), zap.String("store", cfg.Database.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	wg.Wait()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (market.Store, func()) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("Using in-memory store; state is lost on restart")
		return memstore.New(), func() {}
	}

	database, err := db.NewDB(ctx, cfg.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	return database, database.Close
}
