package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/config"
	"shopledger/backend/internal/httpapi"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
	"shopledger/backend/internal/store/postgres"
	"shopledger/backend/internal/store/sqlite"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx := context.Background()
	var closers []io.Closer

	var repo store.Repository
	switch {
	case cfg.DatabaseURL != "":
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to postgres")
		}
		closers = append(closers, pg)
		repo = pg
		log.Info("using postgres store")
	case cfg.SQLitePath != "":
		sq, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			log.WithError(err).Fatal("failed to open sqlite database")
		}
		closers = append(closers, sq)
		repo = sq
		log.WithField("path", cfg.SQLitePath).Info("using sqlite store")
	default:
		repo = memory.NewSeeded()
		log.Warn("no database configured, using seeded in-memory store")
	}

	var guard cache.SubmissionGuard = cache.NewMemoryGuard()
	var balances cache.BalanceCache = cache.NoopBalanceCache{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unreachable, falling back to in-process guard")
			_ = client.Close()
		} else {
			closers = append(closers, client)
			guard = cache.NewRedisGuard(client)
			balances = cache.NewRedisBalanceCache(client)
			log.WithField("addr", cfg.RedisAddr).Info("redis connected")
		}
	}

	svc := service.New(repo, guard, balances, log, service.Options{
		DuplicateWindow: cfg.DuplicateWindow(),
		LedgerThreshold: decimal.NewFromInt(int64(cfg.LedgerDisplayThreshold)),
		ShopName:        cfg.ShopName,
	})

	api := httpapi.New(svc, log)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(cfg.AllowedOrigin),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown was not clean")
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("failed to close resource")
		}
	}
}
