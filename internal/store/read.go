package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rosterd/internal/contact"
)

// originLookupLimit is the number of addresses FindByOrigin resolves with
// a single query. Larger lookups resolve ids first and fetch records by id.
const originLookupLimit = 10

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Filter selects records. Empty fields do not constrain the result. A
// non-nil but empty OriginIDs or LinkedURIs matches nothing.
type Filter struct {
	SyncTarget  string
	OriginGroup string
	OriginIDs   []string
	// LinkedURIs matches records holding an attribute whose URI is listed.
	LinkedURIs []string
	// AggregatedBy matches the constituents of an aggregate.
	AggregatedBy contact.ID
	// Aggregates matches the aggregates a record belongs to.
	Aggregates contact.ID
}

func (f Filter) where() (string, []any, bool) {
	var (
		clauses []string
		args    []any
	)
	if f.OriginIDs != nil && len(f.OriginIDs) == 0 {
		return "", nil, false
	}
	if f.LinkedURIs != nil && len(f.LinkedURIs) == 0 {
		return "", nil, false
	}
	if f.SyncTarget != "" {
		clauses = append(clauses, "c.sync_target = ?")
		args = append(args, f.SyncTarget)
	}
	if f.OriginGroup != "" {
		clauses = append(clauses, "c.origin_group = ?")
		args = append(args, f.OriginGroup)
	}
	if len(f.OriginIDs) > 0 {
		clauses = append(clauses, "c.origin_id IN ("+placeholders(len(f.OriginIDs))+")")
		args = appendStrings(args, f.OriginIDs)
	}
	if len(f.LinkedURIs) > 0 {
		clauses = append(clauses, "c.id IN (SELECT contact_id FROM details WHERE uri IN ("+
			placeholders(len(f.LinkedURIs))+"))")
		args = appendStrings(args, f.LinkedURIs)
	}
	if f.AggregatedBy != "" {
		clauses = append(clauses, "c.id IN (SELECT second FROM relationships WHERE first = ? AND type = ?)")
		args = append(args, string(f.AggregatedBy), string(contact.Aggregates))
	}
	if f.Aggregates != "" {
		clauses = append(clauses, "c.id IN (SELECT first FROM relationships WHERE second = ? AND type = ?)")
		args = append(args, string(f.Aggregates), string(contact.Aggregates))
	}
	if len(clauses) == 0 {
		return "1 = 1", args, true
	}
	return strings.Join(clauses, " AND "), args, true
}

// FindIDs returns the ids of records matching f, ordered by id.
func (s *Store) FindIDs(ctx context.Context, f Filter) ([]contact.ID, error) {
	return findIDs(ctx, s.db, f)
}

func findIDs(ctx context.Context, q queryer, f Filter) ([]contact.ID, error) {
	where, args, ok := f.where()
	if !ok {
		return []contact.ID{}, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT c.id FROM contacts c WHERE `+where+` ORDER BY c.id COLLATE BINARY ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("find ids: %w", err)
	}
	defer rows.Close()

	ids := []contact.ID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("find ids: scan: %w", err)
		}
		ids = append(ids, contact.ID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find ids: iterate: %w", err)
	}
	return ids, nil
}

// Contact returns the record with id. groups restricts which attribute
// groups are loaded; none means all. Returns ErrNotFound if absent.
func (s *Store) Contact(ctx context.Context, id contact.ID, groups ...contact.Group) (contact.Record, error) {
	recs, err := s.Contacts(ctx, []contact.ID{id}, groups...)
	if err != nil {
		return contact.Record{}, err
	}
	if len(recs) == 0 {
		return contact.Record{}, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	return recs[0], nil
}

// Contacts returns the records with the given ids in the order asked for.
// Unknown ids are skipped.
func (s *Store) Contacts(ctx context.Context, ids []contact.ID, groups ...contact.Group) ([]contact.Record, error) {
	if len(ids) == 0 {
		return []contact.Record{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	recs, err := loadRecords(ctx, s.db, "c.id IN ("+placeholders(len(ids))+")", args, groups)
	if err != nil {
		return nil, err
	}
	byID := make(map[contact.ID]contact.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]contact.Record, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	return out, nil
}

// FindByOrigin returns the records of syncTarget whose origin id is one of
// addresses, keyed by origin id.
func (s *Store) FindByOrigin(ctx context.Context, syncTarget string, addresses []string, groups ...contact.Group) (map[string]contact.Record, error) {
	out := make(map[string]contact.Record, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	var (
		recs []contact.Record
		err  error
	)
	if len(addresses) > originLookupLimit {
		ids, ferr := s.FindIDs(ctx, Filter{SyncTarget: syncTarget, OriginIDs: addresses})
		if ferr != nil {
			return nil, ferr
		}
		recs, err = s.Contacts(ctx, ids, groups...)
	} else {
		args := append([]any{syncTarget}, appendStrings(nil, addresses)...)
		recs, err = loadRecords(ctx, s.db,
			"c.sync_target = ? AND c.origin_id IN ("+placeholders(len(addresses))+")", args, groups)
	}
	if err != nil {
		return nil, fmt.Errorf("find by origin: %w", err)
	}
	for _, r := range recs {
		if r.Origin != nil {
			out[r.Origin.ID] = r
		}
	}
	return out, nil
}

// All returns every record, ordered by id.
func (s *Store) All(ctx context.Context) ([]contact.Record, error) {
	return loadRecords(ctx, s.db, "1 = 1", nil, nil)
}

// Relationships returns every relationship ordered by (first, second).
func (s *Store) Relationships(ctx context.Context) ([]contact.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT first, second, type FROM relationships
		ORDER BY first COLLATE BINARY ASC, second COLLATE BINARY ASC, type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	rels := []contact.Relationship{}
	for rows.Next() {
		var first, second, typ string
		if err := rows.Scan(&first, &second, &typ); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, contact.Relationship{
			First:  contact.ID(first),
			Second: contact.ID(second),
			Type:   contact.RelationshipType(typ),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

// Aggregators returns the aggregates that id belongs to.
func (s *Store) Aggregators(ctx context.Context, id contact.ID) ([]contact.ID, error) {
	return s.FindIDs(ctx, Filter{Aggregates: id})
}

// loadRecords reads the records matching where together with their
// attributes, ordered by id.
func loadRecords(ctx context.Context, q queryer, where string, args []any, groups []contact.Group) ([]contact.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.sync_target, c.origin_id, c.origin_group, c.origin_enabled
		FROM contacts c
		WHERE `+where+`
		ORDER BY c.id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}

	var (
		recs  []contact.Record
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			id, syncTarget, group string
			originID              sql.NullString
			enabled               bool
		)
		if err := rows.Scan(&id, &syncTarget, &originID, &group, &enabled); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		rec := contact.Record{ID: contact.ID(id), SyncTarget: syncTarget}
		if originID.Valid {
			rec.Origin = &contact.Origin{ID: originID.String, Group: group, Enabled: enabled}
		}
		index[id] = len(recs)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	rows.Close()

	if len(recs) == 0 {
		return []contact.Record{}, nil
	}
	if err := loadDetails(ctx, q, recs, index, groups); err != nil {
		return nil, err
	}
	return recs, nil
}

func loadDetails(ctx context.Context, q queryer, recs []contact.Record, index map[string]int, groups []contact.Group) error {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = string(r.ID)
	}
	query := `SELECT contact_id, grp, body FROM details WHERE contact_id IN (` + placeholders(len(ids)) + `)`
	args := appendStrings(nil, ids)
	if detail := detailGroups(groups); len(groups) > 0 {
		if len(detail) == 0 {
			return nil
		}
		query += ` AND grp IN (` + placeholders(len(detail)) + `)`
		for _, g := range detail {
			args = append(args, string(g))
		}
	}
	query += ` ORDER BY contact_id, grp, position ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var contactID, grp string
		var body []byte
		if err := rows.Scan(&contactID, &grp, &body); err != nil {
			return fmt.Errorf("scan detail: %w", err)
		}
		i, ok := index[contactID]
		if !ok {
			continue
		}
		if err := decodeDetail(&recs[i], contact.Group(grp), body); err != nil {
			return fmt.Errorf("contact %s: %w", contactID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate details: %w", err)
	}
	return nil
}

// detailGroups filters groups down to those stored as detail rows. An
// empty input means every detail group.
func detailGroups(groups []contact.Group) []contact.Group {
	if len(groups) == 0 {
		return contact.DetailGroups
	}
	out := make([]contact.Group, 0, len(groups))
	for _, g := range groups {
		if g.IsDetail() && !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	return out
}

func exists(ctx context.Context, q queryer, id contact.ID) (isSelf bool, err error) {
	err = q.QueryRowContext(ctx, `SELECT is_self FROM contacts WHERE id = ?`, string(id)).Scan(&isSelf)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("contact %s: %w", id, err)
	}
	return isSelf, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendStrings(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
