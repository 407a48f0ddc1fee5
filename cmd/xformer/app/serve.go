package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/server"
)

// ServeOptions holds options for the serve command
type ServeOptions struct {
	*GlobalOptions

	// Host is the monitor listen address
	Host string

	// Port is the monitor listen port
	Port int

	// LogFile redirects monitor logging to a rotated file
	LogFile string
}

// NewServeCommand creates the serve command.
//
// The serve command starts the monitor daemon: the HTTP API that serves
// job state, logs, device inventory, and the model registry to remote
// xformer clients, and sweeps expired job records on a schedule.
//
// Usage:
//
//	xformer serve [--host HOST] [--port PORT]
//
// Examples:
//
//	# Start the monitor on the default port (11633)
//	xformer serve
//
//	# Reachable from other hosts
//	xformer serve --host 0.0.0.0
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for starting the monitor
func NewServeCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ServeOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the monitor daemon",
		Long: `Start the monitor daemon for this host.

The monitor exposes the job store, per-rank logs, the NPU inventory,
and the model registry over HTTP, so 'xformer --server http://host:11633 ps'
works from any machine. It also sweeps finished job records past the
retention period on a cron schedule. Press Ctrl+C to shut down.`,
		Example: `  # Start the monitor on default settings (localhost:11633)
  xformer serve

  # Reachable from other hosts
  xformer serve --host 0.0.0.0

  # Under a process manager, logging to a rotated file
  xformer serve --host 0.0.0.0 --log-file /var/log/xformer/monitor.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Port < 1 || opts.Port > 65535 {
				return fmt.Errorf("invalid port number: %d (must be between 1-65535)", opts.Port)
			}
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "localhost",
		"monitor listen address")
	cmd.Flags().IntVar(&opts.Port, "port", config.DefaultServerPort,
		"monitor listen port")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "",
		"write monitor logs to this file with rotation")

	return cmd
}

// runServe executes the serve command logic.
//
// This function starts the monitor daemon and handles graceful shutdown
// on interrupt signals.
//
// Parameters:
//   - opts: Serve command options
//
// Returns:
//   - nil on successful shutdown
//   - error if startup or shutdown fails
func runServe(opts *ServeOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	cfg.BinaryVersion = GetVersion()
	cfg.Server.Host = opts.Host
	cfg.Server.Port = opts.Port

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if opts.LogFile != "" {
		logger.SetFile(opts.LogFile)
	}

	identity, err := cfg.GetOrCreateServerIdentity()
	if err != nil {
		return fmt.Errorf("failed to get monitor identity: %w", err)
	}
	logger.Info("Monitor identity: %s", identity.Name)

	srv, err := server.NewServer(cfg, GetVersion())
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Press Ctrl+C to stop")
		err := srv.Start()
		if isCleanShutdown(err) {
			errChan <- nil
			return
		}
		if isAddressInUse(err) {
			logger.Error("Port %d is already in use", opts.Port)
			logger.Error("Stop the existing monitor or use a different port with --port")
			errChan <- fmt.Errorf("address already in use: %s:%d", opts.Host, opts.Port)
			return
		}
		logger.Error("Monitor failed to start: %v", err)
		errChan <- err
	}()

	select {
	case <-sigChan:
		logger.Info("Received interrupt signal, shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("monitor shutdown failed: %w", err)
		}

		logger.Info("Monitor stopped")
		return nil

	case err := <-errChan:
		if err != nil {
			return err
		}
		return nil
	}
}

// isCleanShutdown reports whether the listener ended normally.
// ErrServerClosed is how a graceful Stop reports back and must not be
// surfaced as a startup failure.
func isCleanShutdown(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed)
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	return err != nil && (
	// Linux/Unix
	containsAny(err.Error(), "bind: address already in use", "listen tcp") ||
		// Windows
		containsAny(err.Error(), "bind: Only one usage"))
}

// containsAny checks if string contains any of the substrings
func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if len(s) >= len(substr) {
			for i := 0; i <= len(s)-len(substr); i++ {
				if s[i:i+len(substr)] == substr {
					return true
				}
			}
		}
	}
	return false
}
