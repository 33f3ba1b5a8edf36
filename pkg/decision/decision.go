// Package decision is munin's M-of-N authorization state machine (C5):
// decisions are created PENDING, accumulate per-signer Ed25519 signatures
// over a canonical decision message, and transition to AUTHORIZED once a
// threshold of distinct signers is reached.
package decision

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/canonical"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/storage"
	"github.com/jacobsprake/munin/pkg/validation"
)

// Status values, matching spec.md §3 literally.
const (
	StatusPending    = "PENDING"
	StatusAuthorized = "AUTHORIZED"
	StatusRejected   = "REJECTED"
	StatusExecuted   = "EXECUTED"
)

// Policy is the M-of-N signer policy attached to a decision.
type Policy struct {
	Threshold int      `json:"threshold"`
	Required  int      `json:"required"`
	Signers   []string `json:"signers"`
}

// Decision is one proposed operational action working through the
// multi-signature authorization state machine.
type Decision struct {
	DecisionID           string
	IncidentID           string
	PlaybookID           string
	StepID               string
	ActionType           string
	Scope                canonical.Value
	Status               string
	Policy               Policy
	CreatedAt            time.Time
	AuthorizedAt         *time.Time
	PreviousDecisionHash string
}

// Signature is one signer's contribution toward a decision's threshold.
type Signature struct {
	DecisionID string
	SignerID   string
	KeyID      string
	Signature  string
	CreatedAt  time.Time
}

// KeyChecker resolves and validates signer keys, satisfied by
// *keyregistry.Registry.
type KeyChecker interface {
	ResolvePublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)
	IsKeyActive(ctx context.Context, keyID string) (bool, error)
}

// Engine is the SQL-backed decision engine.
type Engine struct {
	db   *storage.DB
	log  *audit.Log
	keys KeyChecker
}

// New wraps db, log, and keys as a decision engine. db must already carry
// the decisions/decision_signatures schema (see pkg/storage).
func New(db *storage.DB, log *audit.Log, keys KeyChecker) *Engine {
	return &Engine{db: db, log: log, keys: keys}
}

// CanonicalMessage builds the exact map spec.md §4.5 requires each signer
// to sign: decision_id, incident_id, action_type, scope, created_at
// (RFC-3339 UTC), previous_decision_hash (or null). Determinism of this
// message is load-bearing — two callers canonicalizing the same logical
// inputs must produce byte-equal output.
func CanonicalMessage(d *Decision) map[string]interface{} {
	var prevHash interface{}
	if d.PreviousDecisionHash != "" {
		prevHash = d.PreviousDecisionHash
	}
	return map[string]interface{}{
		"decision_id":            d.DecisionID,
		"incident_id":            d.IncidentID,
		"action_type":            d.ActionType,
		"scope":                  d.Scope,
		"created_at":             d.CreatedAt.UTC().Format(time.RFC3339),
		"previous_decision_hash": prevHash,
	}
}

// CanonicalMessageDigest returns SHA-256(canonical(CanonicalMessage(d))),
// the value previous_decision_hash of a later decision must equal to
// chain onto d.
func CanonicalMessageDigest(d *Decision) (string, error) {
	return crypto.CanonicalDigest(CanonicalMessage(d))
}

// Create validates policy shape (1 <= threshold <= required == len(signers),
// no duplicate signers) and scope shape, then inserts a new PENDING
// decision and emits DECISION_CREATED. When previousDecisionHash is
// non-empty, the caller must already have verified it against a prior
// AUTHORIZED decision in the same incident (see VerifyPreviousHash).
func (e *Engine) Create(ctx context.Context, incidentID, playbookID, stepID, actionType string, scope canonical.Value, policy Policy, previousDecisionHash string) (*Decision, error) {
	if err := validation.ValidateScope(scope); err != nil {
		return nil, err
	}
	if err := validatePolicyArity(policy); err != nil {
		return nil, err
	}

	d := &Decision{
		DecisionID:           uuid.NewString(),
		IncidentID:           incidentID,
		PlaybookID:           playbookID,
		StepID:               stepID,
		ActionType:           actionType,
		Scope:                scope,
		Status:               StatusPending,
		Policy:               policy,
		CreatedAt:            time.Now().UTC(),
		PreviousDecisionHash: previousDecisionHash,
	}

	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncoding, "encode scope", err)
	}
	signersJSON, err := json.Marshal(policy.Signers)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncoding, "encode signers", err)
	}

	if _, err := e.db.ExecContext(ctx, e.db.Q(`
		INSERT INTO decisions (decision_id, incident_id, playbook_id, step_id, action_type, scope, status, threshold, required, signers, created_at, previous_decision_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), d.DecisionID, d.IncidentID, d.PlaybookID, nullable(d.StepID), d.ActionType, string(scopeJSON), d.Status,
		policy.Threshold, policy.Required, string(signersJSON), d.CreatedAt, nullable(d.PreviousDecisionHash),
	); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "insert decision", err)
	}

	if _, err := e.log.Append(ctx, audit.EventDecisionCreated, map[string]interface{}{
		"decision_id": d.DecisionID,
		"incident_id": d.IncidentID,
		"playbook_id": d.PlaybookID,
		"action_type": d.ActionType,
		"policy":      policy,
	}, "", "", ""); err != nil {
		return nil, err
	}

	return d, nil
}

func validatePolicyArity(p Policy) error {
	policyDoc := map[string]interface{}{
		"threshold": p.Threshold,
		"required":  p.Required,
		"signers":   toInterfaceSlice(p.Signers),
	}
	if err := validation.ValidatePolicy(policyDoc); err != nil {
		return err
	}
	if p.Threshold < 1 || p.Threshold > p.Required {
		return apierr.New(apierr.KindInputInvalid, "policy must satisfy 1 <= threshold <= required")
	}
	if p.Required != len(p.Signers) {
		return apierr.New(apierr.KindInputInvalid, "policy.required must equal len(signers)")
	}
	seen := make(map[string]bool, len(p.Signers))
	for _, s := range p.Signers {
		if seen[s] {
			return apierr.New(apierr.KindInputInvalid, "policy.signers must not contain duplicates")
		}
		seen[s] = true
	}
	return nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (e *Engine) Get(ctx context.Context, decisionID string) (*Decision, error) {
	row := e.db.QueryRowContext(ctx, e.db.Q(`
		SELECT decision_id, incident_id, playbook_id, step_id, action_type, scope, status, threshold, required, signers, created_at, authorized_at, previous_decision_hash
		FROM decisions WHERE decision_id = ?
	`), decisionID)
	return scanDecision(row)
}

// Signatures returns every signature recorded against a decision.
func (e *Engine) Signatures(ctx context.Context, decisionID string) ([]*Signature, error) {
	rows, err := e.db.QueryContext(ctx, e.db.Q(`
		SELECT decision_id, signer_id, key_id, signature, created_at FROM decision_signatures WHERE decision_id = ?
	`), decisionID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "list decision signatures", err)
	}
	defer rows.Close()

	var sigs []*Signature
	for rows.Next() {
		var s Signature
		if err := rows.Scan(&s.DecisionID, &s.SignerID, &s.KeyID, &s.Signature, &s.CreatedAt); err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFailure, "scan decision signature", err)
		}
		sigs = append(sigs, &s)
	}
	return sigs, rows.Err()
}

func scanDecision(row interface{ Scan(dest ...interface{}) error }) (*Decision, error) {
	var d Decision
	var stepID sql.NullString
	var scopeJSON, signersJSON string
	var authorizedAt sql.NullTime
	var previousHash sql.NullString

	if err := row.Scan(&d.DecisionID, &d.IncidentID, &d.PlaybookID, &stepID, &d.ActionType, &scopeJSON, &d.Status,
		&d.Policy.Threshold, &d.Policy.Required, &signersJSON, &d.CreatedAt, &authorizedAt, &previousHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.KindNotFound, "decision not found")
		}
		return nil, err
	}

	d.StepID = stepID.String
	if authorizedAt.Valid {
		d.AuthorizedAt = &authorizedAt.Time
	}
	d.PreviousDecisionHash = previousHash.String

	scope, err := canonical.Decode([]byte(scopeJSON))
	if err != nil {
		return nil, err
	}
	d.Scope = scope

	var signers []string
	if err := json.Unmarshal([]byte(signersJSON), &signers); err != nil {
		return nil, err
	}
	d.Policy.Signers = signers

	return &d, nil
}

func isSignerAllowed(policy Policy, signerID string) bool {
	for _, s := range policy.Signers {
		if s == signerID {
			return true
		}
	}
	return false
}
