package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/openrouter-alt/gateway/internal/auth"
	"github.com/openrouter-alt/gateway/internal/billing"
	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/db"
	"github.com/openrouter-alt/gateway/internal/httpapi"
	"github.com/openrouter-alt/gateway/internal/httpapi/admin"
	"github.com/openrouter-alt/gateway/internal/logging"
	"github.com/openrouter-alt/gateway/internal/proxy"
	"github.com/openrouter-alt/gateway/internal/ratelimit"
	"github.com/openrouter-alt/gateway/internal/settings"
	"github.com/openrouter-alt/gateway/internal/usage"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds how long in-flight requests may run after a stop
// signal before the listener is torn down.
const shutdownTimeout = 15 * time.Second

// Migrate opens the database and applies schema migrations.
func Migrate(ctx context.Context, cfg config.Config) error {
	logging.Setup(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Info("migrations applied")
	return nil
}

// RunServer boots the gateway: database, runtime settings, rate limiter,
// billing, upstream proxy, and the public and admin HTTP surfaces. It blocks
// until ctx is cancelled, then shuts the listener down gracefully.
func RunServer(ctx context.Context, cfg config.Config) error {
	logging.Setup(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	if errRefresh := settings.Refresh(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("runtime settings load failed, using configured defaults")
	}

	rdb := newRedisClient(ctx, cfg.Redis)

	limiter := ratelimit.NewService(conn, cfg.RateLimit)
	pricing := billing.NewPricingSource(conn, rdb, cfg.Billing.PricingCacheTTL.Std())
	recorder := billing.NewRecorder(conn, pricing, limiter, cfg.Billing.DefaultPricePer1K)
	forwarder := proxy.NewClient(cfg.Backend)

	engine := httpapi.NewRouter(httpapi.Deps{
		DB:            conn,
		Config:        &cfg,
		Authenticator: auth.NewAuthenticator(conn),
		Limiter:       limiter,
		Forwarder:     forwarder,
		Recorder:      recorder,
	})
	admin.RegisterRoutes(engine, conn, cfg.Admin, pricing)

	usage.NewRetentionCleaner(conn, cfg.Usage).Start(ctx)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":    addr,
			"backend": cfg.Backend.BaseURL,
		}).Info("gateway listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("shutdown: %w", errShutdown)
		}
		log.Info("gateway stopped")
		return nil
	case errServe := <-errCh:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	}
}

// newRedisClient connects the optional shared pricing cache. A missing or
// unreachable redis is not fatal; the pricing source falls back to its local
// cache.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		log.WithError(errPing).Warn("redis unreachable, pricing cache is local only")
	}
	return client
}
