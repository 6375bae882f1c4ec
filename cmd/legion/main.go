// Package main provides the legion binary entry point.
// Legion runs question-driven research missions across a team of role
// agents and streams their progress to observers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/legion/config"
	"github.com/c360studio/legion/inbox"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "legion"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Question-driven multi-agent research orchestrator",
		Long: `Legion coordinates a planner, researcher, analyst and writer to turn a
research focus into a set of answered questions and finished deliverables.

Progress for every chat is kept in memory and streamed to observers over
server-sent events, WebSocket and, optionally, NATS.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(flags), runCmd(flags), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

// setup loads configuration and installs the default logger.
func setup(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.NewLoader(bootstrap).Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		addr     string
		inboxDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, streams and mission inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if inboxDir != "" {
				cfg.Inbox.Enabled = true
				cfg.Inbox.Dir = inboxDir
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&inboxDir, "inbox", "", "Watch this directory for mission files")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	printBanner()

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	app, err := NewApp(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if err := app.Start(signalCtx); err != nil {
		return fmt.Errorf("start inbox: %w", err)
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: app.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("Legion ready",
		"version", Version,
		"addr", cfg.Server.Addr,
		"nats", cfg.NATS.Enabled,
		"inbox", cfg.Inbox.Enabled)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := app.waitForActive(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("Shutting down with active workflows", "error", err)
	}
	logger.Info("Legion shutdown complete")
	return nil
}

func runCmd(flags *globalFlags) *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "run <mission.yaml>",
		Short: "Run one mission file to completion and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			mission, err := inbox.LoadMission(args[0])
			if err != nil {
				return err
			}
			if chatID != "" {
				mission.ChatID = chatID
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := NewApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			result, w, err := app.RunMission(ctx, mission.ChatID, mission.Context)
			printSummary(cmd.OutOrStdout(), w, result)
			return err
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat id (overrides the mission file)")
	return cmd
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Legion v" + Version + "                     ║")
	fmt.Println("║      Multi-Agent Research Orchestrator        ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
