package decision

import (
	"context"
	"time"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/canonical"
	"github.com/jacobsprake/munin/pkg/crypto"
)

// SubmitSignature implements spec.md §4.5's submit-signature contract.
// actionType and scope describe what is being authorized; they are bound
// to the decision at Create, and every submission must match the stored
// values exactly — the canonical message signers sign would otherwise
// differ per signer, making the threshold meaningless.
func (e *Engine) SubmitSignature(ctx context.Context, decisionID, signerID, signature, keyID, actionType string, scope interface{}) (*Decision, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "begin submit_signature transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, e.db.Q(`
		SELECT decision_id, incident_id, playbook_id, step_id, action_type, scope, status, threshold, required, signers, created_at, authorized_at, previous_decision_hash
		FROM decisions WHERE decision_id = ?
	`), decisionID)
	d, err := scanDecision(row)
	if err != nil {
		return nil, err
	}

	if d.Status != StatusPending {
		return nil, apierr.New(apierr.KindWrongState, "decision is not pending")
	}
	if !isSignerAllowed(d.Policy, signerID) {
		return nil, apierr.New(apierr.KindUnknownSigner, "signer is not a party to this decision's policy")
	}
	if d.ActionType != actionType {
		return nil, apierr.New(apierr.KindInputInvalid, "action_type does not match the decision")
	}
	if scopeMismatch, err := scopesDiffer(d.Scope, scope); err != nil {
		return nil, err
	} else if scopeMismatch {
		return nil, apierr.New(apierr.KindInputInvalid, "scope does not match the decision")
	}

	active, err := e.keys.IsKeyActive(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apierr.New(apierr.KindKeyNotActive, "signing key is not active")
	}

	pub, err := e.keys.ResolvePublicKey(ctx, keyID)
	if err != nil {
		return nil, err
	}

	message, err := canonical.Marshal(CanonicalMessage(d))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncoding, "canonicalize decision message", err)
	}
	if !crypto.Verify(pub, message, signature) {
		return nil, apierr.New(apierr.KindSignatureInvalid, "signature does not verify against the canonical decision message")
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, e.db.Q(`
		INSERT INTO decision_signatures (decision_id, signer_id, key_id, signature, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), decisionID, signerID, keyID, signature, now); err != nil {
		return nil, apierr.Wrap(apierr.KindConflict, "signature already submitted by this signer", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, e.db.Q(`
		SELECT COUNT(DISTINCT signer_id) FROM decision_signatures WHERE decision_id = ?
	`), decisionID).Scan(&count); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "count decision signatures", err)
	}

	authorized := count >= d.Policy.Threshold
	if authorized {
		d.Status = StatusAuthorized
		d.AuthorizedAt = &now
		if _, err := tx.ExecContext(ctx, e.db.Q(`
			UPDATE decisions SET status = ?, authorized_at = ? WHERE decision_id = ?
		`), StatusAuthorized, now, decisionID); err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFailure, "mark decision authorized", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "commit submit_signature transaction", err)
	}

	// The decision signature already lives in the payload below and is
	// verified against the canonical decision message, a different byte
	// string than SignedMessage(entry_hash, signer_id, key_id) that an
	// audit entry's own signer/signature/key_id fields must cover — so
	// this entry carries no entry-level attestation of its own.
	if _, err := e.log.Append(ctx, audit.EventDecisionSigned, map[string]interface{}{
		"decision_id": decisionID,
		"signer_id":   signerID,
		"key_id":      keyID,
		"signature":   signature,
	}, "", "", ""); err != nil {
		return nil, err
	}

	if authorized {
		digest, err := CanonicalMessageDigest(d)
		if err != nil {
			return nil, err
		}
		if _, err := e.log.Append(ctx, audit.EventDecisionAuth, map[string]interface{}{
			"decision_id":              decisionID,
			"canonical_message_digest": digest,
		}, "", "", ""); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Reject transitions a PENDING decision to REJECTED. AUTHORIZED -> REJECTED
// is forbidden per spec.md §4.5.
func (e *Engine) Reject(ctx context.Context, decisionID string) (*Decision, error) {
	d, err := e.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending {
		return nil, apierr.New(apierr.KindWrongState, "only a pending decision may be rejected")
	}

	if _, err := e.db.ExecContext(ctx, e.db.Q(`UPDATE decisions SET status = ? WHERE decision_id = ?`), StatusRejected, decisionID); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "mark decision rejected", err)
	}
	d.Status = StatusRejected

	if _, err := e.log.Append(ctx, audit.EventDecisionReject, map[string]interface{}{
		"decision_id": decisionID,
	}, "", "", ""); err != nil {
		return nil, err
	}
	return d, nil
}

// Execute transitions an AUTHORIZED decision to EXECUTED. Called by packet
// issuance (C7) on commit, never directly by a client.
func (e *Engine) Execute(ctx context.Context, decisionID string) (*Decision, error) {
	d, err := e.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusAuthorized {
		return nil, apierr.New(apierr.KindWrongState, "only an authorized decision may be executed")
	}

	if _, err := e.db.ExecContext(ctx, e.db.Q(`UPDATE decisions SET status = ? WHERE decision_id = ?`), StatusExecuted, decisionID); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "mark decision executed", err)
	}
	d.Status = StatusExecuted

	if _, err := e.log.Append(ctx, audit.EventDecisionExec, map[string]interface{}{
		"decision_id": decisionID,
	}, "", "", ""); err != nil {
		return nil, err
	}
	return d, nil
}

// VerifyPreviousHash checks that previousDecisionHash equals the canonical
// message digest of a previously AUTHORIZED (or already EXECUTED) decision
// in the same incident, per spec.md §4.5's chaining rule.
func (e *Engine) VerifyPreviousHash(ctx context.Context, incidentID, previousDecisionHash string) error {
	if previousDecisionHash == "" {
		return nil
	}

	rows, err := e.db.QueryContext(ctx, e.db.Q(`
		SELECT decision_id, incident_id, playbook_id, step_id, action_type, scope, status, threshold, required, signers, created_at, authorized_at, previous_decision_hash
		FROM decisions WHERE incident_id = ? AND status IN (?, ?)
	`), incidentID, StatusAuthorized, StatusExecuted)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageFailure, "scan candidate decisions for chaining", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return apierr.Wrap(apierr.KindStorageFailure, "scan candidate decision", err)
		}
		digest, err := CanonicalMessageDigest(d)
		if err != nil {
			return err
		}
		if digest == previousDecisionHash {
			return nil
		}
	}
	return apierr.New(apierr.KindChainBroken, "previous_decision_hash does not match any authorized decision in this incident")
}

// scopesDiffer compares two scope documents by their canonical encoding,
// so key order never causes a spurious mismatch.
func scopesDiffer(stored, submitted interface{}) (bool, error) {
	storedBytes, err := canonical.Marshal(stored)
	if err != nil {
		return false, apierr.Wrap(apierr.KindEncoding, "canonicalize stored scope", err)
	}
	submittedBytes, err := canonical.Marshal(submitted)
	if err != nil {
		return false, apierr.Wrap(apierr.KindEncoding, "canonicalize submitted scope", err)
	}
	return string(storedBytes) != string(submittedBytes), nil
}
