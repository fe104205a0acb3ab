package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/rosterd/internal/contact"
)

// SaveContacts writes records in one transaction. groups restricts which
// attribute groups of existing records are replaced; nil replaces all of
// them. New records are always written whole.
//
// Every record is validated first: attribute URIs must be unique within
// the record and every account must link to exactly one presence on the
// same record. If any record fails, nothing is written and the returned
// *BatchError maps batch indices to causes. On success the ids assigned to
// new records and attributes are written back into records.
func (s *Store) SaveContacts(ctx context.Context, records []*contact.Record, groups []contact.Group) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save contacts: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	work := make([]contact.Record, len(records))
	failed := map[int]error{}
	for i, rec := range records {
		work[i] = rec.Clone()
		if err := validate(&work[i]); err != nil {
			failed[i] = err
			continue
		}
		if _, err := tx.ExecContext(ctx, `SAVEPOINT save_contact`); err != nil {
			return fmt.Errorf("save contacts: savepoint: %w", err)
		}
		if err := s.saveOne(ctx, tx, &work[i], groups); err != nil {
			failed[i] = err
			if _, rerr := tx.ExecContext(ctx, `ROLLBACK TO save_contact`); rerr != nil {
				return fmt.Errorf("save contacts: rollback to savepoint: %w", rerr)
			}
		}
		if _, err := tx.ExecContext(ctx, `RELEASE save_contact`); err != nil {
			return fmt.Errorf("save contacts: release savepoint: %w", err)
		}
	}
	if len(failed) > 0 {
		return &BatchError{Errors: failed}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save contacts: commit: %w", err)
	}
	for i := range records {
		*records[i] = work[i]
	}
	return nil
}

func (s *Store) saveOne(ctx context.Context, tx *sql.Tx, rec *contact.Record, groups []contact.Group) error {
	var (
		originID      sql.NullString
		originGroup   string
		originEnabled bool
	)
	if rec.Origin != nil {
		originID = sql.NullString{String: rec.Origin.ID, Valid: true}
		originGroup = rec.Origin.Group
		originEnabled = rec.Origin.Enabled
	}

	if rec.IsNew() {
		rec.ID = contact.ID(s.ids.Generate())
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (id, sync_target, origin_id, origin_group, origin_enabled, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(rec.ID), rec.SyncTarget, originID, originGroup, originEnabled, s.timestamp())
		if err != nil {
			return insertError(rec, err)
		}
		for _, g := range contact.DetailGroups {
			if err := s.writeGroup(ctx, tx, rec, g); err != nil {
				return err
			}
		}
		if s.autoAggregate && rec.SyncTarget != contact.SyncTargetAggregate {
			return s.aggregate(ctx, tx, rec.ID)
		}
		return nil
	}

	if _, err := exists(ctx, tx, rec.ID); err != nil {
		return err
	}
	var err error
	if restricts(groups, contact.GroupOrigin) || restricts(groups, contact.GroupSyncTarget) {
		_, err = tx.ExecContext(ctx, `
			UPDATE contacts
			SET sync_target = ?, origin_id = ?, origin_group = ?, origin_enabled = ?, updated_at = ?
			WHERE id = ?
		`, rec.SyncTarget, originID, originGroup, originEnabled, s.timestamp(), string(rec.ID))
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE contacts SET updated_at = ? WHERE id = ?`, s.timestamp(), string(rec.ID))
	}
	if err != nil {
		return insertError(rec, err)
	}
	for _, g := range detailGroups(groups) {
		if err := s.writeGroup(ctx, tx, rec, g); err != nil {
			return err
		}
	}
	return nil
}

// restricts reports whether a write limited to groups touches g.
func restricts(groups []contact.Group, g contact.Group) bool {
	return groups == nil || slices.Contains(groups, g)
}

// writeGroup replaces the stored attributes of group g with rec's,
// assigning ids to attributes that have none.
func (s *Store) writeGroup(ctx context.Context, tx *sql.Tx, rec *contact.Record, g contact.Group) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM details WHERE contact_id = ? AND grp = ?`, string(rec.ID), string(g)); err != nil {
		return fmt.Errorf("contact %s: clear %s: %w", rec.ID, g, err)
	}

	details := rec.Details(g)
	for _, d := range details {
		if d.ID == "" {
			d.ID = s.ids.Generate()
		}
	}
	for pos, attr := range attributes(rec, g) {
		d := details[pos]
		body, err := marshalBody(attr)
		if err != nil {
			return fmt.Errorf("contact %s: %w", rec.ID, err)
		}
		links, err := marshalLinks(d.Links)
		if err != nil {
			return fmt.Errorf("contact %s: %w", rec.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO details (id, contact_id, grp, position, uri, links, body)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, d.ID, string(rec.ID), string(g), pos, d.URI, links, body)
		if err != nil {
			return fmt.Errorf("contact %s: write %s detail %s: %w", rec.ID, g, d.ID, err)
		}
	}
	return nil
}

// aggregate creates an aggregate record for id and links it.
func (s *Store) aggregate(ctx context.Context, tx *sql.Tx, id contact.ID) error {
	aggID := s.ids.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contacts (id, sync_target, updated_at) VALUES (?, ?, ?)
	`, aggID, contact.SyncTargetAggregate, s.timestamp()); err != nil {
		return fmt.Errorf("contact %s: create aggregate: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (first, second, type) VALUES (?, ?, ?)
	`, aggID, string(id), string(contact.Aggregates)); err != nil {
		return fmt.Errorf("contact %s: link aggregate: %w", id, err)
	}
	return nil
}

func insertError(rec *contact.Record, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		origin := ""
		if rec.Origin != nil {
			origin = rec.Origin.ID
		}
		return fmt.Errorf("contact %q: origin %q: %w", rec.ID, origin, ErrDuplicateOrigin)
	}
	return fmt.Errorf("contact %q: %w", rec.ID, err)
}

// validate checks the structural rules of a record.
func validate(rec *contact.Record) error {
	seen := map[string]bool{}
	for _, g := range contact.DetailGroups {
		for _, d := range rec.Details(g) {
			if d.URI == "" {
				continue
			}
			if seen[d.URI] {
				return &ValidationError{ID: rec.ID, Reason: fmt.Sprintf("duplicate attribute uri %q", d.URI)}
			}
			seen[d.URI] = true
		}
	}
	for _, acct := range rec.Accounts {
		n := 0
		for _, p := range rec.Presences {
			if p.URI != "" && acct.Linked(p.URI) {
				n++
			}
		}
		if n != 1 {
			return &ValidationError{
				ID:     rec.ID,
				Reason: fmt.Sprintf("account %q links to %d presences, want 1", acct.URI, n),
			}
		}
	}
	return nil
}

// RemoveContact deletes the record with id together with its attributes
// and relationships. Aggregates left without constituents are deleted too.
func (s *Store) RemoveContact(ctx context.Context, id contact.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove contact: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := removeOne(ctx, tx, id); err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove contact: commit: %w", err)
	}
	return nil
}

// RemoveContacts deletes several records in one transaction. If any id is
// unknown nothing is removed and a *BatchError names the failing indices.
func (s *Store) RemoveContacts(ctx context.Context, ids []contact.ID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove contacts: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	failed := map[int]error{}
	for i, id := range ids {
		if err := removeOne(ctx, tx, id); err != nil {
			failed[i] = err
		}
	}
	if len(failed) > 0 {
		return &BatchError{Errors: failed}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove contacts: commit: %w", err)
	}
	return nil
}

func removeOne(ctx context.Context, tx *sql.Tx, id contact.ID) error {
	isSelf, err := exists(ctx, tx, id)
	if err != nil {
		return err
	}
	if isSelf {
		return fmt.Errorf("contact %s: %w", id, ErrSelfContact)
	}
	parents, err := findIDs(ctx, tx, Filter{Aggregates: id})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("contact %s: delete: %w", id, err)
	}
	return pruneAggregates(ctx, tx, parents)
}

// pruneAggregates deletes the aggregate records among ids that no longer
// aggregate anything.
func pruneAggregates(ctx context.Context, tx *sql.Tx, ids []contact.ID) error {
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM contacts
			WHERE id = ? AND sync_target = ? AND is_self = 0
			AND NOT EXISTS (SELECT 1 FROM relationships WHERE first = ?)
		`, string(id), contact.SyncTargetAggregate, string(id))
		if err != nil {
			return fmt.Errorf("prune aggregate %s: %w", id, err)
		}
	}
	return nil
}

// SaveRelationship stores rel. Saving an existing relationship is a
// no-op. Both records must exist.
func (s *Store) SaveRelationship(ctx context.Context, rel contact.Relationship) error {
	for _, id := range []contact.ID{rel.First, rel.Second} {
		if _, err := exists(ctx, s.db, id); err != nil {
			return fmt.Errorf("save relationship: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (first, second, type) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, string(rel.First), string(rel.Second), string(rel.Type))
	if err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}

// RemoveRelationship deletes rel. An aggregate left without constituents
// is deleted as well. Returns ErrNotFound if rel is not stored.
func (s *Store) RemoveRelationship(ctx context.Context, rel contact.Relationship) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove relationship: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		DELETE FROM relationships WHERE first = ? AND second = ? AND type = ?
	`, string(rel.First), string(rel.Second), string(rel.Type))
	if err != nil {
		return fmt.Errorf("remove relationship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove relationship: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("remove relationship %s -> %s: %w", rel.First, rel.Second, ErrNotFound)
	}
	if err := pruneAggregates(ctx, tx, []contact.ID{rel.First}); err != nil {
		return fmt.Errorf("remove relationship: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove relationship: commit: %w", err)
	}
	return nil
}
