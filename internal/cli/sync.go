package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rosterd/internal/engine"
	"github.com/roach88/rosterd/internal/feed"
)

// SyncResult summarizes a one-shot reconcile.
type SyncResult struct {
	Snapshot string        `json:"snapshot"`
	Accounts int           `json:"accounts"`
	Totals   engine.Totals `json:"totals"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <snapshot>",
		Short: "Reconcile the store with a snapshot once and exit",
		Long: `Load a provider snapshot, reconcile every account against the store and
write all pending updates before exiting. Records for accounts and roster
entries missing from the snapshot are removed.

Example:
  rosterd sync --db ./rosterd.db ./accounts.yaml
  rosterd sync ./accounts.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, args[0], cmd)
		},
	}
}

func runSync(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	snap, err := feed.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodeSnapshot, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load snapshot", err)
	}
	formatter.VerboseLog("Loaded %d account(s) from %s", len(snap.Accounts), path)

	a, err := opts.openApp()
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	a.Engine.Enqueue(engine.Sync(snap.Accounts))
	a.Engine.Stop()
	if err := a.Engine.Drain(ctx); err != nil {
		return WrapExitError(ExitFailure, "sync interrupted", err)
	}
	a.Engine.Flush(ctx)

	result := SyncResult{Snapshot: path, Accounts: len(snap.Accounts), Totals: a.Engine.Totals()}
	if err := formatter.Success(result, func(w io.Writer) {
		t := result.Totals
		fmt.Fprintf(w, "✓ Synced %d account(s) from %s\n", result.Accounts, path)
		fmt.Fprintf(w, "  saved %d, removed %d, rejected %d, errors %d\n", t.Saved, t.Removed, t.Rejected, t.Errors)
	}); err != nil {
		return err
	}
	if result.Totals.Errors > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) failed", result.Totals.Errors))
	}
	return nil
}
