package change

import (
	"fmt"
	"strings"
)

// AccountCategory is a kind of change to an account itself.
type AccountCategory uint8

const (
	AccountPresence AccountCategory = 1 << iota
	AccountNickname
	AccountDisplayName
	AccountStorageInfo
	AccountAvatar
	AccountEnabled
)

// AccountSet is a set of account categories.
type AccountSet uint8

// AccountAll is every account category.
const AccountAll = AccountSet(AccountPresence | AccountNickname | AccountDisplayName |
	AccountStorageInfo | AccountAvatar | AccountEnabled)

var accountNames = []struct {
	c    AccountCategory
	name string
}{
	{AccountPresence, "presence"},
	{AccountNickname, "nickname"},
	{AccountDisplayName, "display_name"},
	{AccountStorageInfo, "storage_info"},
	{AccountAvatar, "avatar"},
	{AccountEnabled, "enabled"},
}

// AccountOf builds a set from categories.
func AccountOf(cs ...AccountCategory) AccountSet {
	var s AccountSet
	for _, c := range cs {
		s |= AccountSet(c)
	}
	return s
}

// Has reports whether c is in s.
func (s AccountSet) Has(c AccountCategory) bool { return s&AccountSet(c) != 0 }

// With returns s plus c.
func (s AccountSet) With(c AccountCategory) AccountSet { return s | AccountSet(c) }

// Empty reports whether s has no members.
func (s AccountSet) Empty() bool { return s == 0 }

func (s AccountSet) String() string {
	if s == 0 {
		return "none"
	}
	if s == AccountAll {
		return "all"
	}
	var parts []string
	for _, n := range accountNames {
		if s.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseAccount reads the String form of an AccountSet.
func ParseAccount(text string) (AccountSet, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	switch text {
	case "", "none":
		return 0, nil
	case "all":
		return AccountAll, nil
	}
	var s AccountSet
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		found := false
		for _, n := range accountNames {
			if n.name == part {
				s = s.With(n.c)
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown account change %q", part)
		}
	}
	return s, nil
}

// UnmarshalText lets AccountSet decode from YAML strings.
func (s *AccountSet) UnmarshalText(b []byte) error {
	v, err := ParseAccount(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText renders s in its String form.
func (s AccountSet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
