package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tourlab/termbroker/internal/broker"
	"github.com/tourlab/termbroker/internal/bus"
	"github.com/tourlab/termbroker/internal/config"
	"github.com/tourlab/termbroker/internal/server"
	"github.com/tourlab/termbroker/internal/terminal"
	"github.com/tourlab/termbroker/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		port           int
		debugWebSocket bool
		exercisesPath  string
		shell          string
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:           "termbroker",
		Short:         "Serve browser terminals over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("debug-websocket") {
				cfg.DebugWebSocket = debugWebSocket
			}
			if flags.Changed("exercises-path") {
				cfg.ExercisesPath = exercisesPath
			}
			if flags.Changed("shell") {
				cfg.Shell = shell
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			setupLogger(cfg)

			if err := cfg.Validate(); err != nil {
				log.Error().Err(err).Msg("Invalid configuration")
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3000, "port to listen on (env PORT)")
	cmd.Flags().BoolVar(&debugWebSocket, "debug-websocket", false, "log every WebSocket message (env DEBUG_WEBSOCKET)")
	cmd.Flags().StringVar(&exercisesPath, "exercises-path", "./exercises", "exercise root, the working directory of every shell (env EXERCISES_PATH)")
	cmd.Flags().StringVar(&shell, "shell", "bash", "shell to spawn (env TERMINAL_SHELL)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (env LOG_LEVEL)")

	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", cfg.Version).
		Str("env", cfg.Env).
		Str("exercises_path", cfg.ExercisesPath).
		Str("shell", cfg.Shell).
		Msg("Starting termbroker")

	b := bus.New(cfg.BroadcastCapacity)
	brk := broker.New(b, terminal.PTYSpawner{}, broker.Options{
		WorkDir: cfg.ExercisesPath,
		Shell:   cfg.Shell,
		Term:    cfg.Term,
		Debug:   cfg.DebugWebSocket,
	})
	srv := server.New(cfg, brk)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.WatchFiles {
		w, err := watcher.New(cfg.ExercisesPath, b)
		if err != nil {
			// The terminals work without it.
			log.Error().Err(err).Msg("Failed to start file watcher")
		} else {
			defer w.Close()
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}

func setupLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.DebugWebSocket && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	// Pretty logging for development
	if cfg.Env == "development" && cfg.LogFormat == "pretty" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
