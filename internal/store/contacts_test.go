package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rosterd/internal/contact"
)

const acctPath = "/acct/jabber/ann"

func TestSaveContacts_AssignsIDsAfterCommit(t *testing.T) {
	s := createTestStore(t)
	rec := rosterRecord(acctPath, "bob")
	rec.Emails = []contact.EmailAddress{{Address: "bob@example.com"}}

	saved := mustSave(t, s, rec)
	assert.NotEmpty(t, saved.ID)
	assert.NotEmpty(t, saved.Accounts[0].ID)
	assert.NotEmpty(t, saved.Presences[0].ID)
	assert.NotEmpty(t, saved.Emails[0].ID)

	got, err := s.Contact(t.Context(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestSaveContacts_RoundTripsEveryGroup(t *testing.T) {
	s := createTestStore(t)
	rec := rosterRecord(acctPath, "bob")
	rec.Presences[0].Timestamp = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	rec.Accounts[0].Capabilities = []string{"TextChats"}
	rec.Name = &contact.Name{First: "Bob", Last: "Stone", CustomLabel: "Bob Stone"}
	rec.Addresses = []contact.PostalAddress{{Street: "1 Main St", SubTypes: []string{"postal"}}}
	rec.Phones = []contact.PhoneNumber{{Number: "+1 555", SubTypes: []string{"mobile"}}}
	rec.Organizations = []contact.Organization{{Name: "Acme", Department: []string{"R&D"}}}
	rec.Notes = []contact.Note{{Text: "hi"}}
	rec.URLs = []contact.URL{{URL: "https://example.com"}}
	rec.Gender = &contact.Gender{Value: contact.GenderMale}
	rec.Birthday = &contact.Birthday{Date: time.Date(1990, 4, 1, 0, 0, 0, 0, time.UTC)}
	rec.Nicknames = []contact.Nickname{{Value: "Bobby"}}
	rec.Avatars = []contact.Avatar{{Detail: contact.Detail{Links: []string{rec.Accounts[0].URI}}, ImageURL: "file:///a.png"}}

	saved := mustSave(t, s, rec)
	got, err := s.Contact(t.Context(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestSaveContacts_RestrictedGroups(t *testing.T) {
	s := createTestStore(t)
	rec := rosterRecord(acctPath, "bob")
	rec.Nicknames = []contact.Nickname{{Value: "Bob"}}
	rec.Emails = []contact.EmailAddress{{Address: "bob@example.com"}}
	saved := mustSave(t, s, rec)

	saved.Nicknames[0].Value = "Robert"
	saved.Emails = nil
	require.NoError(t, s.SaveContacts(t.Context(), []*contact.Record{&saved}, []contact.Group{contact.GroupNickname}))

	got, err := s.Contact(t.Context(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Robert", got.Nicknames[0].Value)
	assert.Len(t, got.Emails, 1, "email group was not part of the write")
}

func TestSaveContacts_BatchRejection(t *testing.T) {
	s := createTestStore(t)
	batch := make([]*contact.Record, 5)
	for i := range batch {
		rec := rosterRecord(acctPath, fmt.Sprintf("c%d", i))
		batch[i] = &rec
	}
	batch[2].Presences = nil

	err := s.SaveContacts(t.Context(), batch, nil)
	require.Error(t, err)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []int{2}, be.Indices())
	var ve *ValidationError
	assert.ErrorAs(t, be.Errors[2], &ve)

	for _, r := range batch {
		assert.True(t, r.IsNew(), "nothing is written back on failure")
	}
	ids, err := s.FindIDs(t.Context(), Filter{SyncTarget: "telepathy"})
	require.NoError(t, err)
	assert.Empty(t, ids, "failed batch is rolled back")
}

func TestSaveContacts_DuplicateURI(t *testing.T) {
	s := createTestStore(t)
	rec := rosterRecord(acctPath, "bob")
	rec.Nicknames = []contact.Nickname{{Detail: contact.Detail{URI: rec.Accounts[0].URI}}}

	err := s.SaveContacts(t.Context(), []*contact.Record{&rec}, nil)
	assert.True(t, IsBatchError(err))
}

func TestSaveContacts_DuplicateOrigin(t *testing.T) {
	s := createTestStore(t)
	mustSave(t, s, rosterRecord(acctPath, "bob"))

	dup := rosterRecord(acctPath, "bob")
	err := s.SaveContacts(t.Context(), []*contact.Record{&dup}, nil)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, be.Errors[0], ErrDuplicateOrigin)
}

func TestSaveContacts_UnknownID(t *testing.T) {
	s := createTestStore(t)
	rec := rosterRecord(acctPath, "bob")
	rec.ID = "missing"

	err := s.SaveContacts(t.Context(), []*contact.Record{&rec}, nil)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, be.Errors[0], ErrNotFound)
}

func TestFindByOrigin(t *testing.T) {
	s := createTestStore(t)
	var addrs []string
	for i := range 15 {
		rec := mustSave(t, s, rosterRecord(acctPath, fmt.Sprintf("c%02d", i)))
		addrs = append(addrs, rec.Origin.ID)
	}

	small, err := s.FindByOrigin(t.Context(), "telepathy", addrs[:3])
	require.NoError(t, err)
	assert.Len(t, small, 3)

	large, err := s.FindByOrigin(t.Context(), "telepathy", append(addrs, acctPath+"!nobody"))
	require.NoError(t, err)
	assert.Len(t, large, 15)
	assert.Equal(t, addrs[14], large[addrs[14]].Origin.ID)

	other, err := s.FindByOrigin(t.Context(), "other", addrs)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestContact_GroupHint(t *testing.T) {
	s := createTestStore(t)
	rec := rosterRecord(acctPath, "bob")
	rec.Emails = []contact.EmailAddress{{Address: "bob@example.com"}}
	saved := mustSave(t, s, rec)

	got, err := s.Contact(t.Context(), saved.ID, contact.GroupPresence)
	require.NoError(t, err)
	assert.Len(t, got.Presences, 1)
	assert.Empty(t, got.Emails)
	assert.Empty(t, got.Accounts)
	require.NotNil(t, got.Origin, "origin lives on the record row")
}

func TestContact_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Contact(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindIDs_Filters(t *testing.T) {
	s := createTestStore(t)
	a := mustSave(t, s, rosterRecord(acctPath, "a"))
	b := mustSave(t, s, rosterRecord("/acct/other", "b"))

	ids, err := s.FindIDs(t.Context(), Filter{OriginGroup: acctPath})
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{a.ID}, ids)

	ids, err = s.FindIDs(t.Context(), Filter{LinkedURIs: []string{"/acct/other!b!presence"}})
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{b.ID}, ids)

	ids, err = s.FindIDs(t.Context(), Filter{OriginIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRemoveContact(t *testing.T) {
	s := createTestStore(t)
	saved := mustSave(t, s, rosterRecord(acctPath, "bob"))

	require.NoError(t, s.RemoveContact(t.Context(), saved.ID))
	_, err := s.Contact(t.Context(), saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.RemoveContact(t.Context(), saved.ID), ErrNotFound)

	var details int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM details").Scan(&details))
	assert.Zero(t, details, "attributes cascade")
}

func TestRemoveContact_Self(t *testing.T) {
	s := createTestStore(t)
	self, err := s.SelfContactID(t.Context())
	require.NoError(t, err)
	assert.ErrorIs(t, s.RemoveContact(t.Context(), self), ErrSelfContact)
}

func TestRemoveContacts_Atomic(t *testing.T) {
	s := createTestStore(t)
	saved := mustSave(t, s, rosterRecord(acctPath, "bob"))

	err := s.RemoveContacts(t.Context(), []contact.ID{saved.ID, "missing"})
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []int{1}, be.Indices())

	_, err = s.Contact(t.Context(), saved.ID)
	assert.NoError(t, err, "nothing removed when one id fails")
}
