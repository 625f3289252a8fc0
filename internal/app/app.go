package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/config"
	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/server"
	"github.com/vovakirdan/pipechat-server/internal/store"
	"github.com/vovakirdan/pipechat-server/internal/store/memory"
	"github.com/vovakirdan/pipechat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/pipechat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	tcp             *server.Server
	admin           *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. Without
// a db_path the credential store is in-memory with the built-in
// default users; with one, SQLite-backed with hashed credentials.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	var st store.Store
	if cfg.DBPath != "" {
		sq, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		st = sq
		logger.Info().Str("db_path", cfg.DBPath).Msg("database initialized")
	} else {
		st = memory.NewWithDefaults()
		logger.Info().Msg("in-memory user store initialized with default users")
	}

	reg := core.NewRegistry()
	sessions := core.NewSessionManager(reg, st, *logger)

	tcp := server.New(server.Config{
		Addr:        cfg.Addr(),
		MaxClients:  cfg.MaxClients,
		IdleTimeout: cfg.IdleTimeout,
	}, reg, *logger)

	router := core.NewRouter(reg, st, tcp, *logger)
	handler := core.NewHandler(sessions, router, reg, st, tcp, cfg.RequireAuth, *logger)
	tcp.SetHandler(handler)

	var admin *stdhttp.Server
	if cfg.AdminAddr != "" {
		admin = transporthttp.NewServer(cfg.AdminAddr,
			transporthttp.NewAdminHandlers(reg, sessions, logger), logger)
	}

	return &App{
		tcp:             tcp,
		admin:           admin,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the TCP transport (and the admin server when configured)
// and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tcpErr := make(chan error, 1)
	go func() {
		tcpErr <- a.tcp.Run(ctx)
	}()

	// A nil admin server leaves adminErr nil; receives on a nil
	// channel block, so the select below ignores it.
	var adminErr chan error
	if a.admin != nil {
		adminErr = make(chan error, 1)
		go func() {
			if err := a.admin.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
				adminErr <- err
				return
			}
			adminErr <- nil
		}()
	}

	var runErr error
	select {
	case runErr = <-tcpErr:
		cancel()
	case runErr = <-adminErr:
		cancel()
		<-tcpErr
	case <-ctx.Done():
		runErr = <-tcpErr
	}

	if a.admin != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer stop()

		a.log.Info().Msg("shutting down admin server")
		if err := a.admin.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}

	a.cleanup()
	return runErr
}

// cleanup closes the credential store and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
