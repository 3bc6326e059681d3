package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/channel"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/worker"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stop()
}

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "worker <channel-address> <script-location>",
		Short: "Run one script as a worker of a parent process",
		Long: "worker connects to its parent over <channel-address>, runs the script at\n" +
			"<script-location> in an isolated context and exchanges messages with the\n" +
			"parent until it is closed.\n\n" +
			"Channel addresses:\n" +
			"  /path/to.sock, ws+unix:///path/to.sock  WebSocket over a UNIX socket\n" +
			"  ws://host:port/path                      WebSocket over TCP\n" +
			"  unix:///path/to.sock                     framed stream with descriptor passing",
		Version:       Version,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = strings.ToLower(strings.TrimSpace(logLevel))
			}
			return run(cmd.Context(), cfg, args[0], args[1])
		},
	}

	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override log level for this run (debug, info, warn, error)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, address, location string) error {
	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	defer func() { _ = logger.Close() }()

	metrics := monitoring.NewMetrics(nil)
	if cfg.Metrics.Address != "" {
		srv := server.NewServer(metrics, logger, cfg.ServerConfig())
		if err := srv.Start(cfg.Metrics.Address); err != nil {
			logger.Warn("Metrics endpoint disabled", zap.Error(err))
		} else {
			defer srv.Close()
		}
	}

	w := worker.New(worker.Options{
		Address:  address,
		Location: location,
		Sandbox:  cfg.SandboxOptions(),
		Dialer:   channel.NewDialer(cfg.ChannelOptions()),
		Logger:   logger,
		Metrics:  metrics,
	})
	return w.Run(ctx)
}
