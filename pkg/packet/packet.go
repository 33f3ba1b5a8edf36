// Package packet is munin's handshake-packet issuance store (C7): once a
// decision is AUTHORIZED, a packet body is turned into a receipt chained
// to the prior receipt in its namespace, and once that receipt commits the
// decision is advanced to EXECUTED.
package packet

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/canonical"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/decision"
	"github.com/jacobsprake/munin/pkg/storage"
	"github.com/jacobsprake/munin/pkg/validation"
)

// GlobalNamespace is the default packet-chain namespace (spec.md §4.7:
// "globally, or per namespace as configured" — the spec's Open Question
// is resolved as a global chain by default, see DESIGN.md).
const GlobalNamespace = "global"

// Packet is one committed handshake-packet receipt.
type Packet struct {
	PacketID            string
	DecisionID          string
	Namespace           string
	SequenceNumber       uint64
	PreviousReceiptHash string
	PacketHash          string
	ReceiptHash         string
	Body                canonical.Value
	CreatedAt           time.Time
}

// Store issues packets against an Engine's AUTHORIZED decisions.
type Store struct {
	db       *storage.DB
	log      *audit.Log
	decision *decision.Engine
}

// New wires a packet store.
func New(db *storage.DB, log *audit.Log, decisions *decision.Engine) *Store {
	return &Store{db: db, log: log, decision: decisions}
}

// Issue commits a packet for decisionID's AUTHORIZED decision, chained to
// the namespace's last receipt, inside one transaction (spec.md §4.7).
// After that commit it advances the decision to EXECUTED via
// decision.Engine.Execute and appends PACKET_ISSUED; those two steps are
// not part of the packet transaction.
func (s *Store) Issue(ctx context.Context, decisionID, namespace string, body canonical.Value) (*Packet, error) {
	if namespace == "" {
		namespace = GlobalNamespace
	}
	if err := validation.ValidatePacketBody(body); err != nil {
		return nil, err
	}

	d, err := s.decision.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d.Status != decision.StatusAuthorized {
		return nil, apierr.New(apierr.KindWrongState, "decision is not authorized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "begin issue_packet transaction", err)
	}
	defer tx.Rollback()

	var prevReceiptHash sql.NullString
	var lastSeq uint64
	row := tx.QueryRowContext(ctx, s.db.Q(`
		SELECT receipt_hash, sequence_number FROM handshake_packets
		WHERE namespace = ? ORDER BY sequence_number DESC LIMIT 1
	`), namespace)
	switch scanErr := row.Scan(&prevReceiptHash, &lastSeq); scanErr {
	case nil:
	case sql.ErrNoRows:
	default:
		return nil, apierr.Wrap(apierr.KindStorageFailure, "read last packet receipt", scanErr)
	}

	bodyBytes, err := canonical.Marshal(body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncoding, "canonicalize packet body", err)
	}
	packetHash := crypto.Digest(bodyBytes)

	p := &Packet{
		PacketID:       uuid.NewString(),
		DecisionID:     decisionID,
		Namespace:      namespace,
		SequenceNumber: lastSeq + 1,
		PacketHash:     packetHash,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	if prevReceiptHash.Valid && prevReceiptHash.String != "" {
		p.PreviousReceiptHash = prevReceiptHash.String
		p.ReceiptHash = crypto.DigestConcat(prevReceiptHash.String, ":", packetHash)
	} else {
		p.ReceiptHash = crypto.Digest([]byte(packetHash))
	}

	if _, err := tx.ExecContext(ctx, s.db.Q(`
		INSERT INTO handshake_packets (packet_id, decision_id, namespace, sequence_number, previous_receipt_hash, packet_hash, receipt_hash, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.PacketID, p.DecisionID, p.Namespace, p.SequenceNumber, nullableString(p.PreviousReceiptHash), p.PacketHash, p.ReceiptHash, string(bodyBytes), p.CreatedAt); err != nil {
		return nil, apierr.Wrap(apierr.KindConflict, "insert packet (namespace sequence collision?)", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "commit issue_packet transaction", err)
	}

	if _, err := s.decision.Execute(ctx, decisionID); err != nil {
		return nil, err
	}

	if _, err := s.log.Append(ctx, audit.EventPacketIssued, map[string]interface{}{
		"packet_id":    p.PacketID,
		"decision_id":  p.DecisionID,
		"namespace":    p.Namespace,
		"receipt_hash": p.ReceiptHash,
	}, "", "", ""); err != nil {
		return nil, err
	}

	return p, nil
}

// Get fetches a packet by id.
func (s *Store) Get(ctx context.Context, packetID string) (*Packet, error) {
	row := s.db.QueryRowContext(ctx, s.db.Q(`
		SELECT packet_id, decision_id, namespace, sequence_number, previous_receipt_hash, packet_hash, receipt_hash, body, created_at
		FROM handshake_packets WHERE packet_id = ?
	`), packetID)
	return scanPacket(row)
}

// ListNamespace returns every packet in namespace, ordered by sequence.
func (s *Store) ListNamespace(ctx context.Context, namespace string) ([]*Packet, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`
		SELECT packet_id, decision_id, namespace, sequence_number, previous_receipt_hash, packet_hash, receipt_hash, body, created_at
		FROM handshake_packets WHERE namespace = ? ORDER BY sequence_number ASC
	`), namespace)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "list namespace packets", err)
	}
	defer rows.Close()

	var out []*Packet
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPacket(row interface{ Scan(dest ...interface{}) error }) (*Packet, error) {
	var p Packet
	var prevHash sql.NullString
	var bodyJSON string
	if err := row.Scan(&p.PacketID, &p.DecisionID, &p.Namespace, &p.SequenceNumber, &prevHash, &p.PacketHash, &p.ReceiptHash, &bodyJSON, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.KindNotFound, "packet not found")
		}
		return nil, apierr.Wrap(apierr.KindStorageFailure, "scan packet", err)
	}
	if prevHash.Valid {
		p.PreviousReceiptHash = prevHash.String
	}
	body, err := canonical.Decode([]byte(bodyJSON))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncoding, "decode packet body", err)
	}
	p.Body = body
	return &p, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
