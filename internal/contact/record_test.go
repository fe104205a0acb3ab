package contact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		ID:         "rec-1",
		SyncTarget: "telepathy",
		Origin:     &Origin{ID: "/acct/a!bob", Group: "/acct/a", Enabled: true},
		Accounts: []OnlineAccount{{
			Detail:       Detail{ID: "d1", URI: "/acct/a!bob", Links: []string{"/acct/a!bob!presence"}},
			AccountPath:  "/acct/a",
			Capabilities: []string{"TextChats"},
			Enabled:      true,
		}},
		Presences: []Presence{{
			Detail: Detail{ID: "d2", URI: "/acct/a!bob!presence", Links: []string{"/acct/a!bob"}},
			State:  PresenceAvailable,
		}},
		Avatars: []Avatar{{
			Detail:   Detail{ID: "d3", Links: []string{"/acct/a!bob"}},
			ImageURL: "/tmp/bob.png",
		}},
		Phones: []PhoneNumber{{Number: "123", SubTypes: []string{"mobile"}}},
		Birthday: &Birthday{
			Date: time.Date(1990, 5, 20, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestClone_Independent(t *testing.T) {
	orig := sampleRecord()
	cp := orig.Clone()

	cp.Origin.Enabled = false
	cp.Accounts[0].Capabilities[0] = "FileTransfers"
	cp.Accounts[0].Links[0] = "changed"
	cp.Phones[0].SubTypes[0] = "fax"
	cp.Birthday.Date = time.Time{}

	assert.True(t, orig.Origin.Enabled)
	assert.Equal(t, "TextChats", orig.Accounts[0].Capabilities[0])
	assert.Equal(t, "/acct/a!bob!presence", orig.Accounts[0].Links[0])
	assert.Equal(t, "mobile", orig.Phones[0].SubTypes[0])
	assert.False(t, orig.Birthday.Date.IsZero())
}

func TestClone_PreservesNil(t *testing.T) {
	cp := Record{}.Clone()
	assert.Nil(t, cp.Accounts)
	assert.Nil(t, cp.Name)
	assert.Nil(t, cp.Origin)
}

func TestLinkedLookups(t *testing.T) {
	r := sampleRecord()

	acct := r.AccountByURI("/acct/a!bob")
	require.NotNil(t, acct)
	assert.Same(t, acct, r.AccountByPath("/acct/a"))

	p := r.LinkedPresence(acct)
	require.NotNil(t, p)
	assert.Equal(t, PresenceAvailable, p.State)

	assert.NotNil(t, r.LinkedAvatar("/acct/a!bob"))
	assert.Nil(t, r.AccountByURI("/acct/b!self"))
	assert.Nil(t, r.LinkedPresence(nil))
}

func TestRemoveLinked(t *testing.T) {
	r := sampleRecord()
	n := r.RemoveLinked("/acct/a!bob")

	assert.Equal(t, 3, n)
	assert.Empty(t, r.Accounts)
	assert.Empty(t, r.Presences)
	assert.Empty(t, r.Avatars)
	assert.Len(t, r.Phones, 1, "unrelated groups untouched")
}

func TestDetails_AliasRecord(t *testing.T) {
	r := sampleRecord()
	for _, d := range r.Details(GroupAccount) {
		d.ID = "new"
	}
	assert.Equal(t, "new", r.Accounts[0].ID)
	assert.Len(t, r.Details(GroupBirthday), 1)
	assert.Empty(t, r.Details(GroupGender))
}

func TestParseGroup(t *testing.T) {
	g, err := ParseGroup("presence")
	require.NoError(t, err)
	assert.Equal(t, GroupPresence, g)

	_, err = ParseGroup("ringtone")
	assert.Error(t, err)

	assert.False(t, GroupOrigin.IsDetail())
	assert.True(t, GroupAvatar.IsDetail())
	assert.NotContains(t, DetailGroups, GroupOrigin)
}
