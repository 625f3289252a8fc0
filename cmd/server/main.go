package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/pipechat-server/internal/app"
	"github.com/vovakirdan/pipechat-server/internal/config"
	"github.com/vovakirdan/pipechat-server/internal/log"
)

var (
	flagConfig     string
	flagMaxClients int
	flagLogPath    string
	flagLogLevel   string
	flagAdminAddr  string
	flagDBPath     string
	flagIdle       time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "pipechat-server [port]",
		Short: "Multi-client TCP chat server",
		Long: "pipechat-server accepts plain TCP connections and speaks a\n" +
			"line-oriented, pipe-delimited message protocol: login, private\n" +
			"messages, broadcasts and server status over a single socket.",
		Args: cobra.MaximumNArgs(1),
		RunE: run,

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	root.Flags().IntVar(&flagMaxClients, "max-clients", 0, "maximum concurrent client connections")
	root.Flags().StringVar(&flagLogPath, "log-path", "", "log file path")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&flagAdminAddr, "admin-addr", "", "admin HTTP listen address (empty disables)")
	root.Flags().StringVar(&flagDBPath, "db", "", "SQLite database path (empty uses in-memory store)")
	root.Flags().DurationVar(&flagIdle, "idle-timeout", 0, "disconnect clients idle longer than this (0 disables)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pipechat-server: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	bootLog := log.New("info")

	cfg, cfgPath, err := config.Load(bootLog, flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	overrides := config.Config{
		MaxClients:  flagMaxClients,
		LogPath:     flagLogPath,
		LogLevel:    flagLogLevel,
		AdminAddr:   flagAdminAddr,
		DBPath:      flagDBPath,
		IdleTimeout: flagIdle,
	}
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		overrides.Port = port
	}
	cfg.UpdateFrom(overrides)

	logger, closer, err := log.NewWithFile(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closer.Close()

	logger.Info().Str("config", cfgPath).Int("port", cfg.Port).
		Int("max_clients", cfg.MaxClients).Msg("starting pipechat server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
