package engine

import (
	"fmt"

	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/provider"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventContactChanged reports a roster entry whose observed state
	// changed. It is coalesced before it reaches the store.
	EventContactChanged EventType = iota + 1
	EventAccountAdded
	EventAccountUpdated
	EventAccountRemoved
	// EventAccountReady reports that the provider finished preparing an
	// account announced earlier.
	EventAccountReady
	EventRosterAdded
	EventRosterRemoved
	// EventRosterReplaced carries an account's complete roster.
	EventRosterReplaced
	// EventContactsCreated and EventContactsRemoved are roster edits made
	// while the account is offline.
	EventContactsCreated
	EventContactsRemoved
	// EventSync carries the complete account list.
	EventSync
)

var eventTypeNames = map[EventType]string{
	EventContactChanged:  "contact-changed",
	EventAccountAdded:    "account-added",
	EventAccountUpdated:  "account-updated",
	EventAccountRemoved:  "account-removed",
	EventAccountReady:    "account-ready",
	EventRosterAdded:     "roster-added",
	EventRosterRemoved:   "roster-removed",
	EventRosterReplaced:  "roster-replaced",
	EventContactsCreated: "contacts-created",
	EventContactsRemoved: "contacts-removed",
	EventSync:            "sync",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is one provider notification. Path is set for every event except
// EventSync; the other fields depend on Type.
type Event struct {
	Type EventType
	Path string

	// Account is the account's current state for EventAccountAdded,
	// EventAccountUpdated and EventRosterReplaced. EventAccountReady may
	// carry it too.
	Account        provider.Account
	AccountChanges change.AccountSet

	// Contact and Mask describe EventContactChanged.
	Contact provider.Contact
	Mask    change.Set

	// Contacts are the entries of EventRosterAdded.
	Contacts []provider.Contact
	// IDs are the contact ids of EventRosterRemoved, EventContactsCreated
	// and EventContactsRemoved.
	IDs []string

	// Accounts is the account list of EventSync.
	Accounts []provider.Account
}

// ContactChanged reports that contact c of the account at path changed in
// the categories of mask.
func ContactChanged(path string, c provider.Contact, mask change.Set) Event {
	return Event{Type: EventContactChanged, Path: path, Contact: c, Mask: mask}
}

// AccountAdded announces a new account.
func AccountAdded(acct provider.Account) Event {
	return Event{Type: EventAccountAdded, Path: acct.Path, Account: acct}
}

// AccountUpdated reports account-level changes.
func AccountUpdated(acct provider.Account, changes change.AccountSet) Event {
	return Event{Type: EventAccountUpdated, Path: acct.Path, Account: acct, AccountChanges: changes}
}

// AccountRemoved reports that an account went away.
func AccountRemoved(path string) Event {
	return Event{Type: EventAccountRemoved, Path: path}
}

// AccountReady reports that the account at path became usable.
func AccountReady(path string) Event {
	return Event{Type: EventAccountReady, Path: path}
}

// AccountBecameReady reports that acct became usable and carries its
// current state.
func AccountBecameReady(acct provider.Account) Event {
	return Event{Type: EventAccountReady, Path: acct.Path, Account: acct}
}

// RosterAdded reports roster entries added to an online account.
func RosterAdded(path string, contacts ...provider.Contact) Event {
	return Event{Type: EventRosterAdded, Path: path, Contacts: contacts}
}

// RosterRemoved reports roster entries removed from an online account.
func RosterRemoved(path string, ids ...string) Event {
	return Event{Type: EventRosterRemoved, Path: path, IDs: ids}
}

// RosterReplaced delivers an account's complete roster.
func RosterReplaced(acct provider.Account) Event {
	return Event{Type: EventRosterReplaced, Path: acct.Path, Account: acct}
}

// ContactsCreated reports contacts added while the account is offline.
func ContactsCreated(path string, ids ...string) Event {
	return Event{Type: EventContactsCreated, Path: path, IDs: ids}
}

// ContactsRemoved reports contacts removed while the account is offline.
func ContactsRemoved(path string, ids ...string) Event {
	return Event{Type: EventContactsRemoved, Path: path, IDs: ids}
}

// Sync delivers the complete account list.
func Sync(accounts []provider.Account) Event {
	return Event{Type: EventSync, Accounts: accounts}
}
