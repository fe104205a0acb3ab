// Package reconcile turns account and roster events into record writes.
//
// Every operation reads the affected records in one batched query, folds
// the provider's current state into them with the diff engine, and hands
// the changed records to the batch persistence manager grouped by what
// changed. Records that did not change are never written.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/diff"
	"github.com/roach88/rosterd/internal/persist"
	"github.com/roach88/rosterd/internal/provider"
	"github.com/roach88/rosterd/internal/store"
)

var (
	// ErrAccountNotFound is returned for operations on an account the self
	// record does not know.
	ErrAccountNotFound = errors.New("account not found")

	// ErrWrongAccount marks a roster entry addressed to another account.
	ErrWrongAccount = errors.New("contact belongs to another account")
)

// Store is the read side of *store.Store used by the reconciler. Writes go
// through the persistence manager.
type Store interface {
	FindByOrigin(ctx context.Context, syncTarget string, addresses []string, groups ...contact.Group) (map[string]contact.Record, error)
	FindIDs(ctx context.Context, f store.Filter) ([]contact.ID, error)
	Contacts(ctx context.Context, ids []contact.ID, groups ...contact.Group) ([]contact.Record, error)
}

// Self reads and writes the engine's self record.
type Self interface {
	Record(ctx context.Context) (contact.Record, error)
	Save(ctx context.Context, rec *contact.Record) error
}

// Update is a pending contact change: which contact and what changed.
type Update struct {
	Address address.Address
	Mask    change.Set
}

// Result summarizes one reconciliation.
type Result struct {
	// Deferred lists accounts skipped because the provider has not
	// finished preparing them.
	Deferred []string
	Saved    int
	Rejected int
	Removed  int
}

func (r *Result) add(p persist.Result) {
	r.Saved += len(p.Saved)
	r.Rejected += len(p.Rejected)
	r.Removed += len(p.Removed)
}

// Reconciler applies provider state to the store.
type Reconciler struct {
	store   Store
	self    Self
	differ  *diff.Differ
	persist *persist.Manager
	log     *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Reconciler.
func New(s Store, self Self, d *diff.Differ, m *persist.Manager, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   s,
		self:    self,
		differ:  d,
		persist: m,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SyncAccounts reconciles the complete list of provider accounts. Known
// accounts are refreshed, new ones added and self accounts missing from
// the list removed together with their contacts. Accounts that are not
// ready yet are reported as deferred and left untouched.
func (r *Reconciler) SyncAccounts(ctx context.Context, accounts []provider.Account) (Result, error) {
	var res Result
	me, err := r.self.Record(ctx)
	if err != nil {
		return res, err
	}

	listed := map[string]bool{}
	var ready []provider.Account
	var selfChanged change.Set
	for _, acct := range accounts {
		listed[acct.Path] = true
		if !acct.Ready {
			res.Deferred = append(res.Deferred, acct.Path)
			continue
		}
		if me.AccountByPath(acct.Path) == nil {
			r.log.Info("adding account", "account", acct.Path)
		}
		selfChanged = selfChanged.Union(r.differ.ApplyAccount(&me, acct, change.AccountAll))
		ready = append(ready, acct)
	}

	var gone []string
	for _, oa := range me.Accounts {
		if oa.AccountPath != "" && !listed[oa.AccountPath] {
			gone = append(gone, oa.AccountPath)
		}
	}
	sort.Strings(gone)
	for _, path := range gone {
		r.log.Info("removing account", "account", path)
		removed, err := r.removeContactsOf(ctx, path)
		if err != nil {
			return res, err
		}
		res.Removed += removed
		if diff.RemoveAccount(&me, path) {
			selfChanged = selfChanged.With(change.Capabilities)
		}
	}

	for _, acct := range ready {
		if err := r.refreshRoster(ctx, acct, change.All, rosterFull, &res); err != nil {
			return res, err
		}
	}

	// The self record is written once, after every roster.
	if !selfChanged.Empty() {
		if err := r.self.Save(ctx, &me); err != nil {
			return res, err
		}
	}
	return res, nil
}

// CreateAccount adds a newly announced account and stores its roster.
func (r *Reconciler) CreateAccount(ctx context.Context, acct provider.Account) (Result, error) {
	var res Result
	if !acct.Ready {
		res.Deferred = append(res.Deferred, acct.Path)
		return res, nil
	}
	me, err := r.self.Record(ctx)
	if err != nil {
		return res, err
	}
	if me.AccountByPath(acct.Path) != nil {
		r.log.Warn("account already exists", "account", acct.Path)
	}
	return r.syncAccount(ctx, &me, acct)
}

// SyncAccount refreshes one account and its complete roster. Stored
// contacts missing from the roster are removed.
func (r *Reconciler) SyncAccount(ctx context.Context, acct provider.Account) (Result, error) {
	if !acct.Ready {
		return Result{Deferred: []string{acct.Path}}, nil
	}
	me, err := r.self.Record(ctx)
	if err != nil {
		return Result{}, err
	}
	return r.syncAccount(ctx, &me, acct)
}

func (r *Reconciler) syncAccount(ctx context.Context, me *contact.Record, acct provider.Account) (Result, error) {
	var res Result
	if applied := r.differ.ApplyAccount(me, acct, change.AccountAll); !applied.Empty() {
		if err := r.self.Save(ctx, me); err != nil {
			return res, err
		}
	}
	return res, r.refreshRoster(ctx, acct, change.All, rosterFull, &res)
}

// UpdateAccount applies account-level changes to the self record and
// re-evaluates the account's contacts. Disabled or roster-less accounts
// have their contacts marked unreachable instead.
func (r *Reconciler) UpdateAccount(ctx context.Context, acct provider.Account, changes change.AccountSet) (Result, error) {
	var res Result
	if !acct.Ready {
		res.Deferred = append(res.Deferred, acct.Path)
		return res, nil
	}
	me, err := r.self.Record(ctx)
	if err != nil {
		return res, err
	}
	if me.AccountByPath(acct.Path) == nil {
		return res, fmt.Errorf("update %s: %w", acct.Path, ErrAccountNotFound)
	}
	if applied := r.differ.ApplyAccount(&me, acct, changes); !applied.Empty() {
		if err := r.self.Save(ctx, &me); err != nil {
			return res, err
		}
	}

	mask := change.Of(change.Presence)
	if changes.Has(change.AccountDisplayName) {
		mask = mask.With(change.Capabilities)
	}
	if changes.Has(change.AccountEnabled) {
		mask = change.All
	}
	return res, r.refreshRoster(ctx, acct, mask, rosterExisting, &res)
}

// SyncAccountContacts re-evaluates the contacts of acct after it was
// enabled, disabled, or gained or lost its roster.
func (r *Reconciler) SyncAccountContacts(ctx context.Context, acct provider.Account) (Result, error) {
	return r.UpdateAccount(ctx, acct, change.AccountOf(change.AccountEnabled))
}

// RemoveAccount drops the account from the self record and removes every
// contact that came from it.
func (r *Reconciler) RemoveAccount(ctx context.Context, path string) (Result, error) {
	var res Result
	me, err := r.self.Record(ctx)
	if err != nil {
		return res, err
	}
	if me.AccountByPath(path) == nil {
		return res, fmt.Errorf("remove %s: %w", path, ErrAccountNotFound)
	}
	removed, err := r.removeContactsOf(ctx, path)
	if err != nil {
		return res, err
	}
	res.Removed += removed
	if diff.RemoveAccount(&me, path) {
		if err := r.self.Save(ctx, &me); err != nil {
			return res, err
		}
	}
	return res, nil
}

// SyncRoster applies roster additions and removals of an online account.
// Entries may be contact ids or full addresses; addresses of another
// account are skipped.
func (r *Reconciler) SyncRoster(ctx context.Context, acct provider.Account, added, removed []string) (Result, error) {
	var res Result
	if !acct.Ready {
		res.Deferred = append(res.Deferred, acct.Path)
		return res, nil
	}
	addIDs := r.ownIDs(acct, added)
	removeIDs := r.ownIDs(acct, removed)

	found, err := r.store.FindByOrigin(ctx, r.differ.SyncTarget(), addresses(acct, slices.Concat(addIDs, removeIDs)))
	if err != nil {
		return res, fmt.Errorf("sync roster %s: %w", acct.Path, err)
	}

	cs := persist.NewChangeSet()
	for _, id := range addIDs {
		c, ok := acct.Contact(id)
		if !ok {
			r.log.Warn("added contact is not on the roster", "account", acct.Path, "contact", id)
			continue
		}
		if c.Hidden {
			continue
		}
		addr := string(acct.ContactAddress(id))
		rec, exists := found[addr]
		mask := change.Of(change.Information)
		if !exists {
			r.log.Warn("no stored contact for roster entry, creating", "address", addr)
			rec = r.differ.NewContact(acct, c.ID, c.Alias)
			mask = change.All
		}
		updated, applied := r.differ.Apply(rec, diff.Observation{Account: acct, Contact: c}, mask)
		if !exists {
			applied = change.All
		}
		cs.Add(&updated, applied)
	}

	var remove []contact.ID
	for _, id := range removeIDs {
		addr := string(acct.ContactAddress(id))
		rec, ok := found[addr]
		if !ok {
			r.log.Info("no contact found for removed roster entry", "address", addr)
			continue
		}
		remove = append(remove, rec.ID)
	}

	res.add(r.persist.Apply(ctx, cs, remove))
	return res, nil
}

// CreateAccountContacts stores records for contacts added to an account
// while it is offline. Contacts that already have a record are left as
// they are.
func (r *Reconciler) CreateAccountContacts(ctx context.Context, acct provider.Account, ids []string) (Result, error) {
	var res Result
	ids = r.ownIDs(acct, ids)
	found, err := r.store.FindByOrigin(ctx, r.differ.SyncTarget(), addresses(acct, ids), contact.GroupOrigin)
	if err != nil {
		return res, fmt.Errorf("create contacts %s: %w", acct.Path, err)
	}
	cs := persist.NewChangeSet()
	for _, id := range ids {
		if _, ok := found[string(acct.ContactAddress(id))]; ok {
			continue
		}
		c, ok := acct.Contact(id)
		if !ok {
			c = provider.Contact{ID: id}
		}
		rec := r.differ.NewContact(acct, id, "")
		updated, _ := r.differ.Apply(rec, diff.Observation{Account: acct, Contact: c}, change.All)
		cs.Add(&updated, change.All)
	}
	res.add(r.persist.Apply(ctx, cs, nil))
	return res, nil
}

// RemoveAccountContacts removes the records of contacts deleted from an
// account while it is offline.
func (r *Reconciler) RemoveAccountContacts(ctx context.Context, acct provider.Account, ids []string) (Result, error) {
	var res Result
	ids = r.ownIDs(acct, ids)
	found, err := r.store.FindByOrigin(ctx, r.differ.SyncTarget(), addresses(acct, ids), contact.GroupOrigin)
	if err != nil {
		return res, fmt.Errorf("remove contacts %s: %w", acct.Path, err)
	}
	var remove []contact.ID
	for _, addr := range addresses(acct, ids) {
		if rec, ok := found[addr]; ok {
			remove = append(remove, rec.ID)
		}
	}
	res.add(r.persist.Apply(ctx, nil, remove))
	return res, nil
}

// UpdateContacts applies a flushed batch of coalesced contact updates
// against the provider state in accounts. Updates for accounts or
// contacts that no longer exist, or for hidden contacts, are dropped.
func (r *Reconciler) UpdateContacts(ctx context.Context, accounts provider.Lookup, updates []Update) (Result, error) {
	var res Result
	type pending struct {
		update  Update
		account provider.Account
		contact provider.Contact
	}
	var (
		work  []pending
		addrs []string
	)
	for _, u := range updates {
		acct, ok := accounts.Account(u.Address.AccountPath())
		if !ok {
			r.log.Debug("dropping update for unknown account", "address", u.Address)
			continue
		}
		if u.Mask.Has(change.Deleted) {
			work = append(work, pending{update: u, account: acct})
			addrs = append(addrs, string(u.Address))
			continue
		}
		c, ok := acct.Contact(u.Address.ContactID())
		if !ok || c.Hidden {
			r.log.Debug("dropping update for contact not on roster", "address", u.Address)
			continue
		}
		work = append(work, pending{update: u, account: acct, contact: c})
		addrs = append(addrs, string(u.Address))
	}
	if len(work) == 0 {
		return res, nil
	}

	found, err := r.store.FindByOrigin(ctx, r.differ.SyncTarget(), addrs)
	if err != nil {
		return res, fmt.Errorf("update contacts: %w", err)
	}

	cs := persist.NewChangeSet()
	var remove []contact.ID
	for _, p := range work {
		addr := string(p.update.Address)
		rec, exists := found[addr]
		if p.update.Mask.Has(change.Deleted) {
			if exists {
				remove = append(remove, rec.ID)
			}
			continue
		}
		mask := p.update.Mask
		if !exists {
			r.log.Warn("no stored contact for update, creating", "address", addr)
			rec = r.differ.NewContact(p.account, p.contact.ID, p.contact.Alias)
			mask = change.All
		}
		updated, applied := r.differ.Apply(rec, diff.Observation{Account: p.account, Contact: p.contact}, mask)
		if !exists {
			applied = change.All
		}
		cs.Add(&updated, applied)
	}
	res.add(r.persist.Apply(ctx, cs, remove))
	return res, nil
}

type rosterMode int

const (
	// rosterExisting leaves stored contacts missing from the roster alone.
	rosterExisting rosterMode = iota
	// rosterFull removes stored contacts missing from the roster.
	rosterFull
)

// refreshRoster folds the roster of acct into the store. For accounts
// that are disabled or have no roster, the account's contacts are marked
// unreachable instead.
func (r *Reconciler) refreshRoster(ctx context.Context, acct provider.Account, mask change.Set, mode rosterMode, res *Result) error {
	if !acct.Online() {
		return r.markOffline(ctx, acct, res)
	}

	var (
		visible []provider.Contact
		addrs   []string
	)
	for _, c := range acct.Contacts {
		if c.Hidden {
			continue
		}
		visible = append(visible, c)
		addrs = append(addrs, string(acct.ContactAddress(c.ID)))
	}
	found, err := r.store.FindByOrigin(ctx, r.differ.SyncTarget(), addrs)
	if err != nil {
		return fmt.Errorf("refresh roster %s: %w", acct.Path, err)
	}

	cs := persist.NewChangeSet()
	for _, c := range visible {
		addr := string(acct.ContactAddress(c.ID))
		rec, exists := found[addr]
		m := mask
		switch {
		case !exists:
			if mode == rosterExisting {
				r.log.Warn("no stored contact for roster entry, creating", "address", addr)
			}
			rec = r.differ.NewContact(acct, c.ID, c.Alias)
			m = change.All
		case c.AvatarPath == "" && c.LargeAvatarPath == "":
			// The provider has not fetched the avatar yet. Keep the stored one.
			m = m.Without(change.Avatar)
		}
		updated, applied := r.differ.Apply(rec, diff.Observation{Account: acct, Contact: c}, m)
		if !exists {
			applied = change.All
		}
		cs.Add(&updated, applied)
	}

	var stale []contact.ID
	if mode == rosterFull {
		onRoster := map[string]bool{}
		for _, c := range acct.Contacts {
			onRoster[string(acct.ContactAddress(c.ID))] = true
		}
		stored, err := r.storedContacts(ctx, acct.Path, contact.GroupOrigin)
		if err != nil {
			return err
		}
		for _, rec := range stored {
			if rec.Origin != nil && !onRoster[rec.Origin.ID] {
				stale = append(stale, rec.ID)
			}
		}
	}

	res.add(r.persist.Apply(ctx, cs, stale))
	return nil
}

func (r *Reconciler) markOffline(ctx context.Context, acct provider.Account, res *Result) error {
	stored, err := r.storedContacts(ctx, acct.Path)
	if err != nil {
		return err
	}
	cs := persist.NewChangeSet()
	for _, rec := range stored {
		updated, applied := r.differ.Offline(rec, acct)
		cs.Add(&updated, applied)
	}
	res.add(r.persist.Apply(ctx, cs, nil))
	return nil
}

func (r *Reconciler) storedContacts(ctx context.Context, path string, groups ...contact.Group) ([]contact.Record, error) {
	ids, err := r.store.FindIDs(ctx, store.Filter{SyncTarget: r.differ.SyncTarget(), OriginGroup: path})
	if err != nil {
		return nil, fmt.Errorf("contacts of %s: %w", path, err)
	}
	recs, err := r.store.Contacts(ctx, ids, groups...)
	if err != nil {
		return nil, fmt.Errorf("contacts of %s: %w", path, err)
	}
	return recs, nil
}

func (r *Reconciler) removeContactsOf(ctx context.Context, path string) (int, error) {
	ids, err := r.store.FindIDs(ctx, store.Filter{SyncTarget: r.differ.SyncTarget(), OriginGroup: path})
	if err != nil {
		return 0, fmt.Errorf("contacts of %s: %w", path, err)
	}
	return len(r.persist.Remove(ctx, ids)), nil
}

// ownIDs resolves roster references to contact ids of acct, dropping
// addresses that belong to another account.
func (r *Reconciler) ownIDs(acct provider.Account, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		addr := address.Address(ref)
		if addr.ContactID() == "" {
			out = append(out, ref)
			continue
		}
		if addr.AccountPath() != acct.Path {
			r.log.Warn("skipping roster entry", "account", acct.Path, "address", ref, "error", ErrWrongAccount)
			continue
		}
		out = append(out, addr.ContactID())
	}
	return out
}

func addresses(acct provider.Account, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(acct.ContactAddress(id))
	}
	return out
}
