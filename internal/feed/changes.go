package feed

import (
	"slices"

	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/engine"
	"github.com/roach88/rosterd/internal/provider"
)

// Changes derives the events that take the engine from prev to next.
// Removed accounts come first, then added and changed accounts in the
// order of next.
func Changes(prev, next provider.Snapshot) []engine.Event {
	var events []engine.Event
	for _, old := range prev.Accounts {
		if _, ok := next.Account(old.Path); !ok {
			events = append(events, engine.AccountRemoved(old.Path))
		}
	}
	for _, acct := range next.Accounts {
		old, ok := prev.Account(acct.Path)
		if !ok {
			events = append(events, engine.AccountAdded(acct))
			continue
		}
		events = append(events, accountChanges(old, acct)...)
	}
	return events
}

func accountChanges(old, acct provider.Account) []engine.Event {
	if !old.Ready && acct.Ready {
		// The ready account is written in full, roster included.
		return []engine.Event{engine.AccountBecameReady(acct)}
	}

	var events []engine.Event
	changes := AccountChanges(old, acct)
	if old.HasRoster && !acct.HasRoster {
		changes = changes.With(change.AccountEnabled)
	}
	if !changes.Empty() {
		events = append(events, engine.AccountUpdated(acct, changes))
	}

	switch {
	case !old.HasRoster && acct.HasRoster:
		events = append(events, engine.RosterReplaced(acct))
	case acct.HasRoster:
		events = append(events, rosterChanges(old, acct)...)
	default:
		added, removed := rosterMembership(old, acct)
		if len(added) > 0 {
			events = append(events, engine.ContactsCreated(acct.Path, ids(added)...))
		}
		if len(removed) > 0 {
			events = append(events, engine.ContactsRemoved(acct.Path, removed...))
		}
	}
	return events
}

// AccountChanges classifies the account-level differences between two
// observations of the same account.
func AccountChanges(old, acct provider.Account) change.AccountSet {
	var cs change.AccountSet
	if old.Presence != acct.Presence || old.Capabilities != acct.Capabilities {
		cs = cs.With(change.AccountPresence)
	}
	if old.Nickname != acct.Nickname {
		cs = cs.With(change.AccountNickname)
	}
	if old.DisplayName != acct.DisplayName {
		cs = cs.With(change.AccountDisplayName)
	}
	if old.ProviderDisplayName != acct.ProviderDisplayName || old.ServiceName != acct.ServiceName ||
		old.Protocol != acct.Protocol || old.IconName != acct.IconName ||
		old.NormalizedName != acct.NormalizedName {
		cs = cs.With(change.AccountStorageInfo)
	}
	if old.AvatarPath != acct.AvatarPath {
		cs = cs.With(change.AccountAvatar)
	}
	if old.Enabled != acct.Enabled {
		cs = cs.With(change.AccountEnabled)
	}
	return cs
}

func rosterChanges(old, acct provider.Account) []engine.Event {
	var (
		events  []engine.Event
		added   []provider.Contact
		removed []string
	)
	for _, c := range acct.Contacts {
		prev, ok := old.Contact(c.ID)
		switch {
		case !ok, prev.Hidden && !c.Hidden:
			added = append(added, c)
		case !prev.Hidden && c.Hidden:
			removed = append(removed, c.ID)
		default:
			if mask := ContactChanges(prev, c); !mask.Empty() {
				events = append(events, engine.ContactChanged(acct.Path, c, mask))
			}
		}
	}
	for _, c := range old.Contacts {
		if _, ok := acct.Contact(c.ID); !ok {
			removed = append(removed, c.ID)
		}
	}
	if len(added) > 0 {
		events = append(events, engine.RosterAdded(acct.Path, added...))
	}
	if len(removed) > 0 {
		events = append(events, engine.RosterRemoved(acct.Path, removed...))
	}
	return events
}

func rosterMembership(old, acct provider.Account) (added []provider.Contact, removed []string) {
	for _, c := range acct.Contacts {
		if _, ok := old.Contact(c.ID); !ok {
			added = append(added, c)
		}
	}
	for _, c := range old.Contacts {
		if _, ok := acct.Contact(c.ID); !ok {
			removed = append(removed, c.ID)
		}
	}
	return added, removed
}

// ContactChanges classifies the differences between two observations of
// the same contact.
func ContactChanges(old, c provider.Contact) change.Set {
	var cs change.Set
	if old.Presence != c.Presence {
		cs = cs.With(change.Presence)
	}
	if old.Alias != c.Alias {
		cs = cs.With(change.Alias)
	}
	if old.Capabilities != c.Capabilities {
		cs = cs.With(change.Capabilities)
	}
	if old.InfoKnown != c.InfoKnown || !slices.EqualFunc(old.Info, c.Info, sameField) {
		cs = cs.With(change.Information)
	}
	if old.AvatarPath != c.AvatarPath || old.LargeAvatarPath != c.LargeAvatarPath {
		cs = cs.With(change.Avatar)
	}
	return cs
}

func sameField(a, b provider.InfoField) bool {
	return a.Name == b.Name && slices.Equal(a.Parameters, b.Parameters) && slices.Equal(a.Values, b.Values)
}

func ids(contacts []provider.Contact) []string {
	out := make([]string, len(contacts))
	for i, c := range contacts {
		out[i] = c.ID
	}
	return out
}
