package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/auth"
	"github.com/wavelink-im/realtime/internal/bus"
	"github.com/wavelink-im/realtime/internal/config"
	"github.com/wavelink-im/realtime/internal/core"
	"github.com/wavelink-im/realtime/internal/presence"
	"github.com/wavelink-im/realtime/internal/store"
	"github.com/wavelink-im/realtime/internal/store/sqlite"
	transporthttp "github.com/wavelink-im/realtime/internal/transport/http"
)

// App wires the realtime core and its transports together. Degraded-mode
// implementations are selected once at startup: a failed NATS connection
// yields a single-process bus, a failed redis ping a local online set.
// Neither is fatal.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	nc              *nats.Conn
	redis           *redis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	reg := core.NewRegistry(logger)

	var fanout core.Bus
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("wavelink-realtime"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.NATSURL).
			Msg("nats unreachable; running in degraded single-process fan-out mode")
		fanout = bus.NewLocal(reg.Deliver)
		nc = nil
	} else {
		logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected to nats")
		fanout = bus.NewNATS(nc, reg.Deliver, logger)
	}
	reg.Bind(fanout)

	var onlineSet presence.Set
	var redisClient *redis.Client
	if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
		logger.Warn().Err(err).Msg("invalid redis url; using local presence set")
		onlineSet = presence.NewLocal()
	} else {
		redisClient = redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("url", cfg.RedisURL).
				Msg("redis unreachable; presence degraded to local approximation")
			redisClient.Close()
			redisClient = nil
			onlineSet = presence.NewLocal()
		} else {
			logger.Info().Msg("connected to redis")
			onlineSet = presence.NewRedis(redisClient)
		}
	}

	tracker := presence.NewTracker(onlineSet, st, fanout, logger)
	hub := core.NewHub(reg, fanout, st, tracker, logger)

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}

	server := transporthttp.NewServer(hub, jwtConfig, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		nc:              nc,
		redis:           redisClient,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the store, bus and presence backends.
func (a *App) cleanup() {
	if a.nc != nil {
		a.nc.Drain()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
