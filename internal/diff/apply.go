package diff

import (
	"slices"

	"github.com/roach88/rosterd/internal/contact"
)

// applyInformation folds observed information into rec. List groups are
// replaced wholesale when they differ, scalars are set or removed, the
// name is replaced when any part differs and nicknames are only added.
func applyInformation(rec *contact.Record, obs Observed) bool {
	changed := false

	if listsDiffer(rec.Addresses, obs.Addresses, sameAddress) {
		rec.Addresses = obs.Addresses
		changed = true
	}
	if listsDiffer(rec.Emails, obs.Emails, func(a, b contact.EmailAddress) bool {
		return sameContexts(a.Detail, b.Detail) && a.Address == b.Address
	}) {
		rec.Emails = obs.Emails
		changed = true
	}
	if listsDiffer(rec.Notes, obs.Notes, func(a, b contact.Note) bool {
		return sameContexts(a.Detail, b.Detail) && a.Text == b.Text
	}) {
		rec.Notes = obs.Notes
		changed = true
	}
	if listsDiffer(rec.Organizations, obs.Organizations, func(a, b contact.Organization) bool {
		return sameContexts(a.Detail, b.Detail) && a.Name == b.Name &&
			slices.Equal(a.Department, b.Department)
	}) {
		rec.Organizations = obs.Organizations
		changed = true
	}
	if listsDiffer(rec.Phones, obs.Phones, func(a, b contact.PhoneNumber) bool {
		return sameContexts(a.Detail, b.Detail) && a.Number == b.Number &&
			slices.Equal(a.SubTypes, b.SubTypes)
	}) {
		rec.Phones = obs.Phones
		changed = true
	}
	if listsDiffer(rec.URLs, obs.URLs, func(a, b contact.URL) bool {
		return sameContexts(a.Detail, b.Detail) && a.URL == b.URL
	}) {
		rec.URLs = obs.URLs
		changed = true
	}

	switch {
	case obs.Birthday == nil:
		if rec.Birthday != nil {
			rec.Birthday = nil
			changed = true
		}
	case rec.Birthday == nil:
		rec.Birthday = obs.Birthday
		changed = true
	case !contact.SameDate(rec.Birthday.Date, obs.Birthday.Date):
		rec.Birthday.Date = obs.Birthday.Date
		changed = true
	}

	switch {
	case obs.Gender == nil:
		if rec.Gender != nil {
			rec.Gender = nil
			changed = true
		}
	case rec.Gender == nil:
		rec.Gender = obs.Gender
		changed = true
	case rec.Gender.Value != obs.Gender.Value:
		rec.Gender.Value = obs.Gender.Value
		changed = true
	}

	if obs.Name != nil {
		if rec.Name == nil {
			n := *obs.Name
			rec.Name = &n
			changed = true
		} else if !sameName(*rec.Name, *obs.Name) {
			keep := rec.Name.Detail
			*rec.Name = *obs.Name
			rec.Name.ID = keep.ID
			changed = true
		}
	}

	for _, nick := range obs.Nicknames {
		if !slices.ContainsFunc(rec.Nicknames, func(n contact.Nickname) bool {
			return n.Value == nick.Value && sameContexts(n.Detail, nick.Detail)
		}) {
			rec.Nicknames = append(rec.Nicknames, nick)
			changed = true
		}
	}

	return changed
}

// listsDiffer compares two attribute lists by cardinality, then pairwise
// in order.
func listsDiffer[T any](old, updated []T, same func(a, b T) bool) bool {
	if len(old) != len(updated) {
		return true
	}
	for i := range old {
		if !same(old[i], updated[i]) {
			return true
		}
	}
	return false
}

func sameContexts(a, b contact.Detail) bool {
	return slices.Equal(a.Contexts, b.Contexts)
}

func sameAddress(a, b contact.PostalAddress) bool {
	return sameContexts(a.Detail, b.Detail) &&
		slices.Equal(a.SubTypes, b.SubTypes) &&
		a.POBox == b.POBox &&
		a.Street == b.Street &&
		a.Locality == b.Locality &&
		a.Region == b.Region &&
		a.PostCode == b.PostCode &&
		a.Country == b.Country
}

func sameName(a, b contact.Name) bool {
	return a.First == b.First && a.Middle == b.Middle && a.Last == b.Last &&
		a.CustomLabel == b.CustomLabel && a.Prefix == b.Prefix && a.Suffix == b.Suffix
}
