package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rosterd/internal/feed"
)

// SnapshotValidation is the outcome for one snapshot file.
type SnapshotValidation struct {
	Path     string `json:"path"`
	Valid    bool   `json:"valid"`
	Accounts int    `json:"accounts,omitempty"`
	Contacts int    `json:"contacts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                 `json:"valid"`
	Snapshots []SnapshotValidation `json:"snapshots"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <snapshot>...",
		Short: "Check provider snapshots without touching the store",
		Long: `Parse each snapshot and check it against the snapshot schema: the embedded
CUE schema for .cue files, the JSON Schema for .json files and strict field
decoding for .yaml files. Account paths and contact ids must be unique.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	result := ValidationResult{Valid: true, Snapshots: make([]SnapshotValidation, 0, len(paths))}
	failed := 0

	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		v := SnapshotValidation{Path: path, Valid: true}
		snap, err := feed.Load(path)
		if err != nil {
			v.Valid = false
			v.Error = err.Error()
			result.Valid = false
			failed++
		} else {
			v.Accounts = len(snap.Accounts)
			for _, acct := range snap.Accounts {
				v.Contacts += len(acct.Contacts)
			}
		}
		result.Snapshots = append(result.Snapshots, v)
	}

	if failed > 0 {
		if formatter.Format == "json" {
			if err := formatter.Error(ErrCodeInvalid, fmt.Sprintf("%d snapshot(s) invalid", failed), result); err != nil {
				return err
			}
		} else {
			writeValidation(formatter.Writer, result)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed for %d snapshot(s)", failed))
	}

	return formatter.Success(result, func(w io.Writer) { writeValidation(w, result) })
}

func writeValidation(w io.Writer, result ValidationResult) {
	for _, v := range result.Snapshots {
		if v.Valid {
			fmt.Fprintf(w, "✓ %s (%d accounts, %d contacts)\n", v.Path, v.Accounts, v.Contacts)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n  %s\n", v.Path, v.Error)
	}
}
