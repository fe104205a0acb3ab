package contact

import "fmt"

// Group identifies one attribute group of a Record.
// Restricted writes name the groups they touch.
type Group string

const (
	GroupSyncTarget   Group = "sync_target"
	GroupOrigin       Group = "origin"
	GroupAccount      Group = "account"
	GroupPresence     Group = "presence"
	GroupName         Group = "name"
	GroupAddress      Group = "address"
	GroupPhone        Group = "phone"
	GroupEmail        Group = "email"
	GroupOrganization Group = "organization"
	GroupNote         Group = "note"
	GroupURL          Group = "url"
	GroupGender       Group = "gender"
	GroupBirthday     Group = "birthday"
	GroupNickname     Group = "nickname"
	GroupAvatar       Group = "avatar"
)

// AllGroups lists every group in storage order.
var AllGroups = []Group{
	GroupSyncTarget,
	GroupOrigin,
	GroupAccount,
	GroupPresence,
	GroupName,
	GroupAddress,
	GroupPhone,
	GroupEmail,
	GroupOrganization,
	GroupNote,
	GroupURL,
	GroupGender,
	GroupBirthday,
	GroupNickname,
	GroupAvatar,
}

// SelfGroups are the groups the engine owns on the local "self" record.
// Writes to self are always restricted to these so user-entered details
// survive.
var SelfGroups = []Group{GroupAccount, GroupPresence, GroupAvatar, GroupNickname}

// DetailGroups are the groups stored as rows in the details table.
// Sync target and origin live on the contact row itself.
var DetailGroups = AllGroups[2:]

// ParseGroup converts a string to a Group.
func ParseGroup(s string) (Group, error) {
	for _, g := range AllGroups {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown attribute group %q", s)
}

// IsDetail reports whether g is stored as detail rows.
func (g Group) IsDetail() bool {
	return g != GroupSyncTarget && g != GroupOrigin
}
