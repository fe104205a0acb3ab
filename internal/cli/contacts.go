package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/store"
)

// ContactSummary is one line of the contacts listing.
type ContactSummary struct {
	ID       contact.ID            `json:"id"`
	Address  string                `json:"address"`
	Account  string                `json:"account"`
	Enabled  bool                  `json:"enabled"`
	Presence contact.PresenceState `json:"presence"`
	Message  string                `json:"message,omitempty"`
	Nickname string                `json:"nickname,omitempty"`
}

// NewContactsCommand creates the contacts command.
func NewContactsCommand(rootOpts *RootOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List stored roster records",
		Long: `List the records the engine keeps for roster entries, ordered by address.

Example:
  rosterd contacts --db ./rosterd.db
  rosterd contacts --account /acct/jabber/ann --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContacts(rootOpts, account, cmd)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "only list contacts of this account path")
	return cmd
}

func runContacts(opts *RootOptions, account string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	a, err := opts.openApp()
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	ids, err := a.Store.FindIDs(ctx, store.Filter{SyncTarget: opts.Config.Sync.SyncTarget, OriginGroup: account})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list contacts", err)
	}
	recs, err := a.Store.Contacts(ctx, ids, contact.GroupOrigin, contact.GroupAccount, contact.GroupPresence, contact.GroupNickname)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read contacts", err)
	}

	summaries := make([]ContactSummary, 0, len(recs))
	for i := range recs {
		if s, ok := summarize(&recs[i]); ok {
			summaries = append(summaries, s)
		}
	}
	slices.SortFunc(summaries, func(x, y ContactSummary) int { return cmp.Compare(x.Address, y.Address) })

	return formatter.Success(summaries, func(w io.Writer) {
		if len(summaries) == 0 {
			fmt.Fprintln(w, "No contacts.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDRESS\tPRESENCE\tNICKNAME")
		for _, s := range summaries {
			state := string(s.Presence)
			if !s.Enabled {
				state += " (disabled)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Address, state, s.Nickname)
		}
		tw.Flush()
	})
}

// summarize reduces a roster record to its listing. Records without an
// origin are not roster records.
func summarize(rec *contact.Record) (ContactSummary, bool) {
	if rec.Origin == nil {
		return ContactSummary{}, false
	}
	s := ContactSummary{
		ID:       rec.ID,
		Address:  rec.Origin.ID,
		Account:  rec.Origin.Group,
		Enabled:  rec.Origin.Enabled,
		Presence: contact.PresenceUnknown,
	}
	if oa := rec.AccountByURI(rec.Origin.ID); oa != nil {
		if p := rec.LinkedPresence(oa); p != nil {
			s.Presence = p.State
			s.Message = p.Message
		}
	}
	if len(rec.Nicknames) > 0 {
		s.Nickname = rec.Nicknames[0].Value
	}
	return s, true
}
