package diff

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/provider"
)

// Differ applies provider observations to stored records.
type Differ struct {
	now        func() time.Time
	legacy     []string
	syncTarget string
	log        *slog.Logger
}

// Option configures a Differ.
type Option func(*Differ)

// WithClock sets the time source used to stamp presence changes.
func WithClock(now func() time.Time) Option {
	return func(d *Differ) { d.now = now }
}

// WithLegacyOnline sets the protocols whose offline contacts keep their
// online-only capabilities.
func WithLegacyOnline(protocols []string) Option {
	return func(d *Differ) { d.legacy = slices.Clone(protocols) }
}

// WithSyncTarget sets the marker stamped on records created for roster
// entries.
func WithSyncTarget(target string) Option {
	return func(d *Differ) { d.syncTarget = target }
}

// WithLogger sets the logger for dropped info fields.
func WithLogger(l *slog.Logger) Option {
	return func(d *Differ) { d.log = l }
}

// DefaultSyncTarget marks records owned by the engine.
const DefaultSyncTarget = "telepathy"

// New returns a Differ with defaults: wall clock, DefaultLegacyOnline,
// DefaultSyncTarget and slog.Default.
func New(opts ...Option) *Differ {
	d := &Differ{
		now:        time.Now,
		legacy:     slices.Clone(DefaultLegacyOnline),
		syncTarget: DefaultSyncTarget,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SyncTarget returns the marker for engine-owned records.
func (d *Differ) SyncTarget() string {
	return d.syncTarget
}

// Observation pairs a roster entry with the account it belongs to.
type Observation struct {
	Account provider.Account
	Contact provider.Contact
}

// Address returns the contact address of the observation.
func (o Observation) Address() address.Address {
	return o.Account.ContactAddress(o.Contact.ID)
}

// Apply computes the record that results from folding obs into existing
// for the categories in mask (after implication expansion). existing is
// not modified. The returned set holds only categories whose attributes
// actually changed.
func (d *Differ) Apply(existing contact.Record, obs Observation, mask change.Set) (contact.Record, change.Set) {
	rec := existing.Clone()
	mask = change.Expand(mask.Without(change.Deleted))
	addr := string(obs.Address())
	c := obs.Contact
	alias := strings.TrimSpace(c.Alias)

	var applied change.Set
	if d.ensureIdentity(&rec, obs) {
		applied = applied.With(change.Capabilities).With(change.Presence)
	}
	acct := rec.AccountByURI(addr)

	if mask.Has(change.Alias) {
		switch {
		case len(rec.Nicknames) == 0:
			if alias != "" {
				rec.Nicknames = append(rec.Nicknames, contact.Nickname{Value: alias})
				applied = applied.With(change.Alias)
			}
		case rec.Nicknames[0].Value != alias:
			rec.Nicknames[0].Value = alias
			applied = applied.With(change.Alias)
		}
	}

	if mask.Has(change.Presence) {
		p := rec.LinkedPresence(acct)
		state := PresenceState(c.Presence.Type)
		if p.State != state || p.Message != c.Presence.Message || p.Nickname != alias {
			p.State = state
			p.Message = c.Presence.Message
			p.Nickname = alias
			p.Timestamp = d.now().UTC()
			applied = applied.With(change.Presence)
		}
	}

	if mask.Has(change.Capabilities) {
		caps := Capabilities(c.Capabilities, c.Presence.Type, obs.Account.Protocol, d.legacy)
		if !slices.Equal(acct.Capabilities, caps) ||
			acct.DisplayName != obs.Account.DisplayName ||
			acct.ProviderDisplayName != obs.Account.ProviderDisplayName {
			acct.Capabilities = caps
			acct.DisplayName = obs.Account.DisplayName
			acct.ProviderDisplayName = obs.Account.ProviderDisplayName
			applied = applied.With(change.Capabilities)
		}
		if rec.Origin != nil && rec.Origin.Enabled != obs.Account.Enabled {
			rec.Origin.Enabled = obs.Account.Enabled
			applied = applied.With(change.Capabilities)
		}
	}

	if mask.Has(change.Information) && c.InfoKnown {
		observed, dropped := ParseInfo(c.Info)
		for _, err := range dropped {
			d.log.Debug("contact info field not stored as given", "address", addr, "error", err)
		}
		if observed.Name == nil && alias != "" {
			n := Decompose(alias)
			observed.Name = &n
		}
		if applyInformation(&rec, observed) {
			applied = applied.With(change.Information)
		}
	}

	if mask.Has(change.Avatar) {
		if applyAvatar(&rec, acct.URI, avatarPath(c)) {
			applied = applied.With(change.Avatar)
		}
	}

	return rec, applied
}

// ensureIdentity adds the account and presence attributes for obs when the
// record lacks them. Reports whether anything was added.
func (d *Differ) ensureIdentity(rec *contact.Record, obs Observation) bool {
	addr := obs.Address()
	presAddr := string(address.Presence(addr))
	added := false

	acct := rec.AccountByURI(string(addr))
	if acct == nil {
		rec.Accounts = append(rec.Accounts, contactAccount(obs.Account, obs.Contact.ID))
		acct = &rec.Accounts[len(rec.Accounts)-1]
		added = true
	}
	if rec.LinkedPresence(acct) == nil {
		if !acct.Linked(presAddr) {
			acct.Links = append(acct.Links, presAddr)
		}
		rec.Presences = append(rec.Presences, contact.Presence{
			Detail: contact.Detail{URI: presAddr, Links: []string{string(addr)}},
			State:  contact.PresenceUnknown,
		})
		added = true
	}
	return added
}

// Offline resets a record whose account went offline or was disabled:
// presence becomes unknown and capabilities fall back to what the account
// supports without a presence. A disabled account also disables the
// record's origin.
func (d *Differ) Offline(existing contact.Record, acct provider.Account) (contact.Record, change.Set) {
	rec := existing.Clone()
	var applied change.Set
	caps := Capabilities(acct.Capabilities, provider.PresenceUnknown, acct.Protocol, d.legacy)

	for i := range rec.Accounts {
		oa := &rec.Accounts[i]
		if oa.AccountPath != acct.Path {
			continue
		}
		if p := rec.LinkedPresence(oa); p != nil && p.State != contact.PresenceUnknown {
			p.State = contact.PresenceUnknown
			p.Timestamp = d.now().UTC()
			applied = applied.With(change.Presence)
		}
		if !slices.Equal(oa.Capabilities, caps) {
			oa.Capabilities = slices.Clone(caps)
			applied = applied.With(change.Capabilities)
		}
	}
	if !acct.Enabled && rec.Origin != nil && rec.Origin.Enabled {
		rec.Origin.Enabled = false
		applied = applied.With(change.Capabilities)
	}
	return rec, applied
}

func avatarPath(c provider.Contact) string {
	if c.LargeAvatarPath != "" {
		return c.LargeAvatarPath
	}
	return c.AvatarPath
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// applyAvatar points the avatar linked to accountURI at path, or removes it
// when path is empty.
func applyAvatar(rec *contact.Record, accountURI, path string) bool {
	current := rec.LinkedAvatar(accountURI)
	if path == "" {
		if current == nil {
			return false
		}
		rec.Avatars = slices.DeleteFunc(rec.Avatars, func(a contact.Avatar) bool {
			return a.Linked(accountURI)
		})
		return true
	}
	imageURL := fileURL(path)
	if current != nil {
		if current.ImageURL == imageURL {
			return false
		}
		current.ImageURL = imageURL
		return true
	}
	rec.Avatars = append(rec.Avatars, contact.Avatar{
		Detail:   contact.Detail{Links: []string{accountURI}},
		ImageURL: imageURL,
	})
	return true
}
