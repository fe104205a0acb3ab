// Package address derives the stable string keys that identify an account
// or roster contact across provider sessions.
package address

import "strings"

// Address is "<account path>!<contact id>".
type Address string

const (
	separator      = "!"
	selfID         = "self"
	presenceSuffix = "!presence"
)

// Resolve returns the address of contactID within accountPath. An empty
// contactID denotes the account's own identity.
func Resolve(accountPath, contactID string) Address {
	if contactID == "" {
		contactID = selfID
	}
	return Address(accountPath + separator + contactID)
}

// ForSelf returns the account's own identity address.
func ForSelf(accountPath string) Address {
	return Resolve(accountPath, "")
}

// Presence returns the presence address paired with a.
func Presence(a Address) Address {
	return a + presenceSuffix
}

// AccountPath returns the account path portion of a. Account paths never
// contain the separator, so the first occurrence splits the two parts.
func (a Address) AccountPath() string {
	path, _, _ := strings.Cut(string(a), separator)
	return path
}

// ContactID returns the contact portion of a, with any presence suffix
// removed. Contact ids never contain the separator, so the suffix is only
// a suffix when a second separator follows the account path.
func (a Address) ContactID() string {
	_, id, ok := strings.Cut(string(a), separator)
	if !ok {
		return ""
	}
	if strings.Contains(id, separator) {
		id = strings.TrimSuffix(id, presenceSuffix)
	}
	return id
}

// Reserved reports whether contactID cannot name a roster contact because
// it would collide with the account's own identity address.
func Reserved(contactID string) bool {
	return contactID == selfID
}

func (a Address) String() string {
	return string(a)
}
