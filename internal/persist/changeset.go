package persist

import (
	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/contact"
)

// Group is a set of records that changed in the same categories and can
// be saved with the same group restriction.
type Group struct {
	Mask    change.Set
	Records []*contact.Record
}

// ChangeSet collects modified records keyed by what changed in them.
// Groups keep the order in which their first record was added.
type ChangeSet struct {
	order  []change.Set
	groups map[change.Set][]*contact.Record
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{groups: map[change.Set][]*contact.Record{}}
}

// Add files rec under the normalized form of applied. Records with
// nothing applied, or marked deleted, are ignored; deletions go through
// Manager.Remove.
func (c *ChangeSet) Add(rec *contact.Record, applied change.Set) {
	if applied.Empty() || applied.Has(change.Deleted) {
		return
	}
	key := change.Normalize(applied)
	if _, ok := c.groups[key]; !ok {
		c.order = append(c.order, key)
	}
	c.groups[key] = append(c.groups[key], rec)
}

// Len returns the number of records held.
func (c *ChangeSet) Len() int {
	n := 0
	for _, recs := range c.groups {
		n += len(recs)
	}
	return n
}

// Groups returns the groups in insertion order.
func (c *ChangeSet) Groups() []Group {
	out := make([]Group, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, Group{Mask: key, Records: c.groups[key]})
	}
	return out
}
