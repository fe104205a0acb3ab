package diff

import (
	"slices"
	"strings"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/provider"
)

// NewContact returns the initial record for a roster entry of acct. Name
// and presence nickname are seeded from alias; everything else arrives
// through Apply.
func (d *Differ) NewContact(acct provider.Account, externalID, alias string) contact.Record {
	addr := acct.ContactAddress(externalID)
	alias = strings.TrimSpace(alias)

	rec := contact.Record{
		SyncTarget: d.syncTarget,
		Origin: &contact.Origin{
			ID:      string(addr),
			Group:   acct.Path,
			Enabled: acct.Enabled,
		},
		Accounts: []contact.OnlineAccount{contactAccount(acct, externalID)},
		Presences: []contact.Presence{{
			Detail:   contact.Detail{URI: string(address.Presence(addr)), Links: []string{string(addr)}},
			State:    contact.PresenceUnknown,
			Nickname: alias,
		}},
	}
	if alias != "" {
		n := Decompose(alias)
		rec.Name = &n
	}
	return rec
}

func contactAccount(acct provider.Account, externalID string) contact.OnlineAccount {
	addr := acct.ContactAddress(externalID)
	return contact.OnlineAccount{
		Detail: contact.Detail{
			URI:   string(addr),
			Links: []string{string(address.Presence(addr))},
		},
		AccountPath:     acct.Path,
		AccountURI:      externalID,
		Protocol:        acct.Protocol,
		ServiceProvider: acct.ServiceName,
		Enabled:         true,
	}
}

// NewAccount returns the self-side attributes describing acct itself.
func NewAccount(acct provider.Account) (contact.OnlineAccount, contact.Presence) {
	addr := acct.Address()
	presAddr := string(address.Presence(addr))
	oa := contact.OnlineAccount{
		Detail: contact.Detail{
			URI:   string(addr),
			Links: []string{presAddr},
		},
		AccountPath:     acct.Path,
		AccountURI:      acct.NormalizedName,
		Protocol:        acct.Protocol,
		ServiceProvider: acct.ServiceName,
		IconPath:        iconPath(acct.IconName),
		Enabled:         acct.Enabled,
	}
	p := contact.Presence{
		Detail: contact.Detail{URI: presAddr, Links: []string{string(addr)}},
		State:  contact.PresenceUnknown,
	}
	return oa, p
}

// iconPath keeps icon names that point at files. Names in the "im-" theme
// namespace are resolved by the UI and are not stored.
func iconPath(icon string) string {
	icon = strings.TrimSpace(icon)
	if icon == "" || strings.HasPrefix(icon, "im-") {
		return ""
	}
	return icon
}

// ApplyAccount folds the state of acct into the self record, adding the
// account's attributes first when self has none. self is modified in place.
func (d *Differ) ApplyAccount(self *contact.Record, acct provider.Account, mask change.AccountSet) change.Set {
	var applied change.Set
	addr := string(acct.Address())

	oa := self.AccountByURI(addr)
	if oa == nil {
		a, p := NewAccount(acct)
		self.Accounts = append(self.Accounts, a)
		self.Presences = append(self.Presences, p)
		oa = &self.Accounts[len(self.Accounts)-1]
		applied = applied.With(change.Capabilities).With(change.Presence)
	}
	p := self.LinkedPresence(oa)
	if p == nil {
		_, fresh := NewAccount(acct)
		if !oa.Linked(fresh.URI) {
			oa.Links = append(oa.Links, fresh.URI)
		}
		self.Presences = append(self.Presences, fresh)
		p = &self.Presences[len(self.Presences)-1]
		applied = applied.With(change.Presence)
	}

	if mask.Has(change.AccountPresence) {
		state := PresenceState(acct.Presence.Type)
		if p.State != state || p.Message != acct.Presence.Message {
			p.State = state
			p.Message = acct.Presence.Message
			p.Timestamp = d.now().UTC()
			applied = applied.With(change.Presence)
		}
	}
	if mask.Has(change.AccountNickname) && p.Nickname != acct.Nickname {
		p.Nickname = acct.Nickname
		applied = applied.With(change.Alias)
	}
	if mask.Has(change.AccountDisplayName) && oa.DisplayName != acct.DisplayName {
		oa.DisplayName = acct.DisplayName
		applied = applied.With(change.Capabilities)
	}
	if mask.Has(change.AccountStorageInfo) {
		icon := iconPath(acct.IconName)
		if oa.ProviderDisplayName != acct.ProviderDisplayName ||
			oa.ServiceProvider != acct.ServiceName ||
			oa.Protocol != acct.Protocol ||
			oa.IconPath != icon {
			oa.ProviderDisplayName = acct.ProviderDisplayName
			oa.ServiceProvider = acct.ServiceName
			oa.Protocol = acct.Protocol
			oa.IconPath = icon
			applied = applied.With(change.Capabilities)
		}
	}
	if mask.Has(change.AccountEnabled) && oa.Enabled != acct.Enabled {
		oa.Enabled = acct.Enabled
		applied = applied.With(change.Capabilities)
	}
	if mask.Has(change.AccountPresence) || mask.Has(change.AccountEnabled) {
		caps := Capabilities(acct.Capabilities, acct.Presence.Type, acct.Protocol, d.legacy)
		if !slices.Equal(oa.Capabilities, caps) {
			oa.Capabilities = caps
			applied = applied.With(change.Capabilities)
		}
	}
	if mask.Has(change.AccountAvatar) {
		if applyAvatar(self, addr, acct.AvatarPath) {
			applied = applied.With(change.Avatar)
		}
	}
	return applied
}

// RemoveAccount drops the self-side attributes of the account at path.
// Reports whether anything was removed.
func RemoveAccount(self *contact.Record, path string) bool {
	return self.RemoveLinked(string(address.ForSelf(path))) > 0
}
