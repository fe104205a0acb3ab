package contact

import (
	"slices"
	"time"
)

// IsNew reports whether the record has never been stored.
func (r *Record) IsNew() bool {
	return r.ID == ""
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Origin != nil {
		o := *r.Origin
		out.Origin = &o
	}
	out.Accounts = cloneEach(r.Accounts, func(a OnlineAccount) OnlineAccount {
		a.Detail = a.Detail.clone()
		a.Capabilities = slices.Clone(a.Capabilities)
		return a
	})
	out.Presences = cloneEach(r.Presences, func(p Presence) Presence {
		p.Detail = p.Detail.clone()
		return p
	})
	if r.Name != nil {
		n := *r.Name
		n.Detail = n.Detail.clone()
		out.Name = &n
	}
	out.Addresses = cloneEach(r.Addresses, func(a PostalAddress) PostalAddress {
		a.Detail = a.Detail.clone()
		a.SubTypes = slices.Clone(a.SubTypes)
		return a
	})
	out.Phones = cloneEach(r.Phones, func(p PhoneNumber) PhoneNumber {
		p.Detail = p.Detail.clone()
		p.SubTypes = slices.Clone(p.SubTypes)
		return p
	})
	out.Emails = cloneEach(r.Emails, func(e EmailAddress) EmailAddress {
		e.Detail = e.Detail.clone()
		return e
	})
	out.Organizations = cloneEach(r.Organizations, func(o Organization) Organization {
		o.Detail = o.Detail.clone()
		o.Department = slices.Clone(o.Department)
		return o
	})
	out.Notes = cloneEach(r.Notes, func(n Note) Note {
		n.Detail = n.Detail.clone()
		return n
	})
	out.URLs = cloneEach(r.URLs, func(u URL) URL {
		u.Detail = u.Detail.clone()
		return u
	})
	if r.Gender != nil {
		g := *r.Gender
		g.Detail = g.Detail.clone()
		out.Gender = &g
	}
	if r.Birthday != nil {
		b := *r.Birthday
		b.Detail = b.Detail.clone()
		out.Birthday = &b
	}
	out.Nicknames = cloneEach(r.Nicknames, func(n Nickname) Nickname {
		n.Detail = n.Detail.clone()
		return n
	})
	out.Avatars = cloneEach(r.Avatars, func(a Avatar) Avatar {
		a.Detail = a.Detail.clone()
		return a
	})
	return out
}

func cloneEach[T any](in []T, fn func(T) T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

// Details returns pointers to the embedded Detail of every attribute in
// group g. The pointers alias r.
func (r *Record) Details(g Group) []*Detail {
	var out []*Detail
	switch g {
	case GroupAccount:
		for i := range r.Accounts {
			out = append(out, &r.Accounts[i].Detail)
		}
	case GroupPresence:
		for i := range r.Presences {
			out = append(out, &r.Presences[i].Detail)
		}
	case GroupName:
		if r.Name != nil {
			out = append(out, &r.Name.Detail)
		}
	case GroupAddress:
		for i := range r.Addresses {
			out = append(out, &r.Addresses[i].Detail)
		}
	case GroupPhone:
		for i := range r.Phones {
			out = append(out, &r.Phones[i].Detail)
		}
	case GroupEmail:
		for i := range r.Emails {
			out = append(out, &r.Emails[i].Detail)
		}
	case GroupOrganization:
		for i := range r.Organizations {
			out = append(out, &r.Organizations[i].Detail)
		}
	case GroupNote:
		for i := range r.Notes {
			out = append(out, &r.Notes[i].Detail)
		}
	case GroupURL:
		for i := range r.URLs {
			out = append(out, &r.URLs[i].Detail)
		}
	case GroupGender:
		if r.Gender != nil {
			out = append(out, &r.Gender.Detail)
		}
	case GroupBirthday:
		if r.Birthday != nil {
			out = append(out, &r.Birthday.Detail)
		}
	case GroupNickname:
		for i := range r.Nicknames {
			out = append(out, &r.Nicknames[i].Detail)
		}
	case GroupAvatar:
		for i := range r.Avatars {
			out = append(out, &r.Avatars[i].Detail)
		}
	}
	return out
}

// AccountByURI returns the account attribute whose URI is uri.
func (r *Record) AccountByURI(uri string) *OnlineAccount {
	for i := range r.Accounts {
		if r.Accounts[i].URI == uri {
			return &r.Accounts[i]
		}
	}
	return nil
}

// AccountByPath returns the account attribute for an account path.
func (r *Record) AccountByPath(path string) *OnlineAccount {
	for i := range r.Accounts {
		if r.Accounts[i].AccountPath == path {
			return &r.Accounts[i]
		}
	}
	return nil
}

// PresenceByURI returns the presence attribute whose URI is uri.
func (r *Record) PresenceByURI(uri string) *Presence {
	for i := range r.Presences {
		if r.Presences[i].URI == uri {
			return &r.Presences[i]
		}
	}
	return nil
}

// LinkedPresence returns the presence the account links to.
func (r *Record) LinkedPresence(acct *OnlineAccount) *Presence {
	if acct == nil {
		return nil
	}
	for i := range r.Presences {
		if acct.Linked(r.Presences[i].URI) {
			return &r.Presences[i]
		}
	}
	return nil
}

// LinkedAvatar returns the first avatar linked to uri.
func (r *Record) LinkedAvatar(uri string) *Avatar {
	for i := range r.Avatars {
		if r.Avatars[i].Linked(uri) {
			return &r.Avatars[i]
		}
	}
	return nil
}

// RemoveLinked drops the account whose URI is uri together with every
// presence and avatar tied to it. Returns the number of attributes removed.
func (r *Record) RemoveLinked(uri string) int {
	acct := r.AccountByURI(uri)
	var links []string
	if acct != nil {
		links = slices.Clone(acct.Links)
	}
	n := 0
	r.Accounts = slices.DeleteFunc(r.Accounts, func(a OnlineAccount) bool {
		if a.URI == uri {
			n++
			return true
		}
		return false
	})
	r.Presences = slices.DeleteFunc(r.Presences, func(p Presence) bool {
		if slices.Contains(links, p.URI) || p.Linked(uri) {
			n++
			return true
		}
		return false
	})
	r.Avatars = slices.DeleteFunc(r.Avatars, func(a Avatar) bool {
		if a.Linked(uri) {
			n++
			return true
		}
		return false
	})
	return n
}

// SameDate reports whether two birthdays fall on the same calendar day.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
