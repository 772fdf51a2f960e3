package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/auth"
	"github.com/vovakirdan/jobchat/internal/config"
	"github.com/vovakirdan/jobchat/internal/log"
	"github.com/vovakirdan/jobchat/internal/objstore"
	"github.com/vovakirdan/jobchat/internal/push"
	"github.com/vovakirdan/jobchat/internal/store"
	"github.com/vovakirdan/jobchat/internal/store/sqlite"
	"github.com/vovakirdan/jobchat/internal/sweeper"
	transporthttp "github.com/vovakirdan/jobchat/internal/transport/http"
)

// App wires together storage, push and transport layers.
type App struct {
	cfg             *config.Config
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *push.Hub
	relay           *push.Redis
	sweeper         *sweeper.Sweeper
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	bucket, err := newBucket(cfg.Storage)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("object storage initialized")

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	hub := push.NewHub(cfg.PushBuffer, log.Component(logger, "push"))
	a := &App{
		cfg:             cfg,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}

	var broker push.Broker = hub
	if cfg.RedisURL != "" {
		relay, err := push.NewRedis(ctx, cfg.RedisURL, hub, log.Component(logger, "relay"))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init redis relay: %w", err)
		}
		a.relay = relay
		broker = relay
		logger.Info().Msg("redis relay enabled")
	}

	if cfg.Sweeper.Enabled {
		a.sweeper = sweeper.New(bucket, st, cfg.Sweeper.Grace, log.Component(logger, "sweeper"))
	}

	a.server = transporthttp.NewServer(cfg, transporthttp.Deps{
		Auth:   authService,
		Store:  st,
		Broker: broker,
		Bucket: bucket,
	}, logger)

	return a, nil
}

func newBucket(cfg config.StorageConfig) (objstore.Bucket, error) {
	switch cfg.Driver {
	case "cloudinary":
		return objstore.NewCloudinary(cfg.CloudinaryURL, cfg.Folder)
	default:
		publicURL := strings.TrimRight(cfg.PublicURL, "/")
		if publicURL == "" {
			publicURL = "/objects"
		}
		return objstore.NewLocal(cfg.Dir, publicURL)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	if a.relay != nil {
		ready := make(chan struct{})
		go func() {
			if err := a.relay.Run(ctx, ready); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		select {
		case <-ready:
		case <-ctx.Done():
			a.cleanup()
			return ctx.Err()
		}
	}

	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx, a.cfg.Sweeper.Schedule); err != nil {
			a.cleanup()
			return err
		}
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
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
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancelShutdown()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis relay")
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
