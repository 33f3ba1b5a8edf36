package audit

import (
	"context"
	"strings"

	"github.com/jacobsprake/munin/pkg/apierr"
)

// Filter selects a subset of entries for Query, matching the GET /audit
// query parameters of spec.md §6.
type Filter struct {
	EventType string
	SignerID  string
	Limit     int
	Offset    int
}

// Query lists entries matching filter, most recent first is not implied —
// entries are returned in ascending sequence order, matching the chain's
// natural order.
func (l *Log) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	clauses := []string{}
	args := []interface{}{}

	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.SignerID != "" {
		clauses = append(clauses, "signer_id = ?")
		args = append(args, f.SignerID)
	}

	query := `SELECT id, sequence_number, ts, event_type, payload, prev_hash, entry_hash, signer_id, signature, key_id FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY sequence_number ASC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, l.db.Q(query), args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "query audit log", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFailure, "scan audit entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "iterate audit log", err)
	}
	return entries, nil
}

// Range returns every entry with sequence_number in [from, to] inclusive.
// A zero from/to means unbounded on that side.
func (l *Log) Range(ctx context.Context, from, to uint64) ([]*Entry, error) {
	query := `SELECT id, sequence_number, ts, event_type, payload, prev_hash, entry_hash, signer_id, signature, key_id FROM audit_log`
	clauses := []string{}
	args := []interface{}{}
	if from > 0 {
		clauses = append(clauses, "sequence_number >= ?")
		args = append(args, from)
	}
	if to > 0 {
		clauses = append(clauses, "sequence_number <= ?")
		args = append(args, to)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY sequence_number ASC"

	rows, err := l.db.QueryContext(ctx, l.db.Q(query), args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "range audit log", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFailure, "scan audit entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
