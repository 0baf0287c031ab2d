package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dukani/backend/internal/cache"
	"dukani/backend/internal/config"
	"dukani/backend/internal/httpapi"
	"dukani/backend/internal/lock"
	"dukani/backend/internal/outbox"
	"dukani/backend/internal/service"
	"dukani/backend/internal/store/backend"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger(os.Stdout)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := backend.Open(ctx, cfg)
	if err != nil {
		logger.WithError(err).WithField("backend", cfg.Backend()).Fatal("repository unavailable")
	}
	closers := []func() error{repo.Close}
	logger.WithField("backend", cfg.Backend()).Info("repository ready")

	opts := service.Options{
		Locker:      lock.NewLocal(),
		Logger:      logger,
		MaxAttempts: cfg.SaleMaxAttempts,
		PriceTTL:    cfg.PriceCacheTTL,
	}
	var publisher outbox.Publisher = outbox.LogPublisher{Logger: logger}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		prices := cache.NewRedisPriceCache(client)
		if err := prices.Ping(ctx); err != nil {
			// A single process still serialises writes with the local locker.
			logger.WithError(err).Warn("redis unavailable, using local locks and no price cache")
			_ = client.Close()
		} else {
			opts.Locker = lock.NewRedis(client, cfg.LockTTL, cfg.LockTTL, logger)
			opts.Prices = prices
			publisher = outbox.NewRedisStreamPublisher(client, outbox.DefaultStream, 0)
			closers = append(closers, client.Close)
			logger.WithField("addr", cfg.RedisAddr).Info("redis locks, price cache and outbox stream enabled")
		}
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, svc)
	api := httpapi.New(svc, auth, httpapi.Options{AllowedOrigin: cfg.AllowedOrigin, Logger: logger})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		logger.WithField("addr", cfg.Address()).Info("dukani backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		outbox.NewRelay(repo, publisher, cfg.OutboxInterval, logger).Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		runSweeps(groupCtx, svc, cfg.ExpirySweepInterval, logger)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}
	logger.Info("server stopped")
}

// runSweeps deactivates expired batches across all stores once at start and
// then every interval.
func runSweeps(ctx context.Context, svc *service.Service, interval time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n := svc.SweepAllExpired(ctx, time.Time{}); n > 0 {
			logger.WithField("batches", n).Info("expiry sweep deactivated batches")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
