package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/rosterd/internal/provider"
)

// AccountState is the engine's view of an account's lifecycle. Accounts
// move from Unknown through Creating to Ready, pass through Updating while
// an update is applied, and end in Removed.
type AccountState int

const (
	StateUnknown AccountState = iota
	// StateCreating accounts are announced but not yet usable. Events for
	// them are deferred until they become ready.
	StateCreating
	StateReady
	StateUpdating
	StateRemoved
)

func (s AccountState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateRemoved:
		return "removed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// accountEntry is the engine's model of one provider account: its latest
// observed state and the events waiting for it to become ready.
type accountEntry struct {
	state    AccountState
	account  provider.Account
	deferred []Event
}

// upsertContact replaces or appends c in the account's roster.
func (a *accountEntry) upsertContact(c provider.Contact) {
	for i := range a.account.Contacts {
		if a.account.Contacts[i].ID == c.ID {
			a.account.Contacts[i] = c
			return
		}
	}
	a.account.Contacts = append(a.account.Contacts, c)
}

// removeContacts drops the roster entries with ids.
func (a *accountEntry) removeContacts(ids ...string) {
	a.account.Contacts = slices.DeleteFunc(a.account.Contacts, func(c provider.Contact) bool {
		return slices.Contains(ids, c.ID)
	})
}

// setAccount takes account-level fields from acct and keeps the roster
// the engine already holds.
func (a *accountEntry) setAccount(acct provider.Account) {
	contacts := a.account.Contacts
	a.account = acct
	a.account.Contacts = contacts
}
