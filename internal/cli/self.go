package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewSelfCommand creates the self command.
func NewSelfCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "self",
		Short: "Show the local user's record",
		Long: `Print the record that carries the local user's accounts, presences and
avatars. The record is created and linked to the store's "me" contact
if it does not exist yet.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelf(rootOpts, cmd)
		},
	}
}

func runSelf(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	a, err := opts.openApp()
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer a.Close()

	rec, err := a.Self.Record(cmd.Context())
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read self contact", err)
	}

	return formatter.Success(rec, func(w io.Writer) {
		fmt.Fprintf(w, "self %s\n", rec.ID)
		if len(rec.Accounts) == 0 {
			fmt.Fprintln(w, "  no accounts")
		}
		for i := range rec.Accounts {
			oa := &rec.Accounts[i]
			state := "unknown"
			message := ""
			if p := rec.LinkedPresence(oa); p != nil {
				state = string(p.State)
				message = p.Message
			}
			fmt.Fprintf(w, "  %s  %s", oa.AccountPath, state)
			if message != "" {
				fmt.Fprintf(w, " %q", message)
			}
			if len(oa.Capabilities) > 0 {
				fmt.Fprintf(w, "  [%s]", strings.Join(oa.Capabilities, " "))
			}
			fmt.Fprintln(w)
		}
	})
}
