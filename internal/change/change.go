// Package change classifies provider notifications into change categories
// and maps them onto the attribute groups a write has to touch.
package change

import (
	"fmt"
	"strings"

	"github.com/roach88/rosterd/internal/contact"
)

// Category is a single kind of contact change.
type Category uint8

const (
	Presence Category = 1 << iota
	Alias
	Capabilities
	Avatar
	Information
	Deleted
)

var categoryNames = []struct {
	c    Category
	name string
}{
	{Presence, "presence"},
	{Alias, "alias"},
	{Capabilities, "capabilities"},
	{Avatar, "avatar"},
	{Information, "information"},
	{Deleted, "deleted"},
}

func (c Category) String() string {
	for _, n := range categoryNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Set is a set of categories. The zero value is empty.
type Set uint8

// All is every category except Deleted.
const All = Set(Presence | Alias | Capabilities | Avatar | Information)

// Of builds a set from categories.
func Of(cs ...Category) Set {
	var s Set
	for _, c := range cs {
		s |= Set(c)
	}
	return s
}

// Has reports whether c is in s.
func (s Set) Has(c Category) bool { return s&Set(c) != 0 }

// With returns s plus c.
func (s Set) With(c Category) Set { return s | Set(c) }

// Without returns s minus c.
func (s Set) Without(c Category) Set { return s &^ Set(c) }

// Union returns s ∪ o.
func (s Set) Union(o Set) Set { return s | o }

// Empty reports whether s has no members.
func (s Set) Empty() bool { return s == 0 }

// IsAll reports whether s covers every non-deletion category.
func (s Set) IsAll() bool { return s&All == All }

// Categories lists the members of s in declaration order.
func (s Set) Categories() []Category {
	var out []Category
	for _, n := range categoryNames {
		if s.Has(n.c) {
			out = append(out, n.c)
		}
	}
	return out
}

func (s Set) String() string {
	if s.Empty() {
		return "none"
	}
	if s == All {
		return "all"
	}
	parts := make([]string, 0, 6)
	for _, c := range s.Categories() {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "|")
}

// Parse reads the String form: "none", "all", or names joined by "|" or ",".
func Parse(text string) (Set, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	switch text {
	case "", "none":
		return 0, nil
	case "all":
		return All, nil
	}
	var s Set
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		found := false
		for _, n := range categoryNames {
			if n.name == part {
				s = s.With(n.c)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown change category %q", part)
		}
	}
	return s, nil
}

// UnmarshalText lets Set decode from YAML and TOML strings.
func (s *Set) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText renders s in its String form.
func (s Set) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Implied returns the categories that must be re-evaluated whenever c is.
// An alias is echoed on the presence attribute, and capabilities depend on
// whether the presence is online.
func Implied(c Category) Set {
	switch c {
	case Alias:
		return Of(Presence)
	case Presence:
		return Of(Capabilities)
	}
	return 0
}

// Expand closes s under Implied.
func Expand(s Set) Set {
	for {
		next := s
		for _, c := range s.Categories() {
			next |= Implied(c)
		}
		if next == s {
			return s
		}
		s = next
	}
}

// Normalize reduces a mask to the key a change set groups records by.
// Deleted excludes everything else, and Information means the whole
// record is rewritten.
func Normalize(s Set) Set {
	if s.Has(Deleted) {
		return Of(Deleted)
	}
	if s.Has(Information) {
		return All
	}
	return s
}

// Groups returns the attribute groups a write for s must touch. A nil
// result means the write is unrestricted.
func Groups(s Set) []contact.Group {
	if s.Has(Information) || s.Has(Deleted) {
		return nil
	}
	var out []contact.Group
	if s.Has(Alias) {
		out = append(out, contact.GroupNickname)
	}
	if s.Has(Presence) {
		out = append(out, contact.GroupPresence)
	}
	if s.Has(Capabilities) {
		out = append(out, contact.GroupAccount, contact.GroupOrigin)
	}
	if s.Has(Avatar) {
		out = append(out, contact.GroupAvatar)
	}
	return out
}
