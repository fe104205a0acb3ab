package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rosterd/internal/feed"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run [snapshot]",
		Short: "Run the sync engine against a provider snapshot",
		Long: `Start the sync engine and feed it a provider snapshot file (.yaml, .cue
or .json). The first load reconciles every account; with --watch, later
writes to the file are diffed and applied as they happen.

The snapshot defaults to feed.snapshot from the configuration.

Example:
  rosterd run --db ./rosterd.db ./accounts.yaml
  rosterd run --watch=false ./accounts.cue --verbose`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot := rootOpts.Config.Feed.Snapshot
			if len(args) == 1 {
				snapshot = args[0]
			}
			if !cmd.Flags().Changed("watch") {
				watch = rootOpts.Config.Feed.Watch
			}
			return runEngine(rootOpts, snapshot, watch, cmd)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "reload the snapshot when the file changes")
	return cmd
}

func runEngine(opts *RootOptions, snapshot string, watch bool, cmd *cobra.Command) error {
	if snapshot == "" {
		return NewExitError(ExitCommandError, "no snapshot: pass a file or set feed.snapshot")
	}
	log := opts.Logger

	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	watcher := feed.NewWatcher(snapshot, a.Engine, feed.WithLogger(log))
	if !watch {
		if _, err := watcher.Reload(); err != nil {
			return WrapExitError(ExitCommandError, "failed to load snapshot", err)
		}
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- a.Engine.Run(ctx) }()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Syncing", snapshot)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var watchErr error
	if watch {
		watchErr = watcher.Run(ctx)
		if errors.Is(watchErr, context.Canceled) || errors.Is(watchErr, context.DeadlineExceeded) {
			watchErr = nil
		}
		// A watcher that gave up takes the engine down with it.
		cancel()
	}

	runErr := <-engineDone
	if watchErr != nil {
		return WrapExitError(ExitFailure, "snapshot watcher failed", watchErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	t := a.Engine.Totals()
	log.Info("engine stopped gracefully",
		"events", t.Events, "saved", t.Saved, "rejected", t.Rejected, "removed", t.Removed, "errors", t.Errors)
	return nil
}
