package audit

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/canonical"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

// fixedKeyResolver resolves every key id to the same public key, enough to
// exercise signature re-verification without a real key registry.
type fixedKeyResolver struct {
	pub ed25519.PublicKey
}

func (r fixedKeyResolver) ResolvePublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	return r.pub, nil
}

func TestAppend_GenesisEntryHasNoPrevHash(t *testing.T) {
	log := newTestLog(t)

	entry, err := log.Append(context.Background(), EventUserRegistered, map[string]interface{}{"user_id": "u1"}, "", "", "")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), entry.SequenceNumber)
	assert.Empty(t, entry.PrevHash)
	assert.Equal(t, crypto.Digest([]byte(entry.RawPayload)), entry.EntryHash)
}

func TestAppend_ChainsSubsequentEntries(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	first, err := log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 1}, "", "", "")
	require.NoError(t, err)

	second, err := log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 2}, "", "", "")
	require.NoError(t, err)

	assert.Equal(t, first.EntryHash, second.PrevHash)
	assert.Equal(t, crypto.DigestConcat(second.RawPayload, ":", first.EntryHash), second.EntryHash)
}

func TestAppend_SignedEntryCarriesVerifiableSignature(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	prevHash, _, err := log.Head(ctx)
	require.NoError(t, err)

	payload := map[string]interface{}{"decision_id": "d1"}
	canonicalPayload, err := canonical.Marshal(payload)
	require.NoError(t, err)
	entryHash := computeEntryHash(canonicalPayload, prevHash)
	sig := crypto.Sign(kp.Private, SignedMessage(entryHash, "signer-1", "key-1"))

	entry, err := log.Append(ctx, EventDecisionSigned, payload, "signer-1", sig, "key-1")
	require.NoError(t, err)

	assert.True(t, crypto.Verify(kp.Public, SignedMessage(entry.EntryHash, "signer-1", "key-1"), entry.Signature))
}

func TestQuery_FiltersByEventTypeAndSignerID(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, EventLoginOK, map[string]interface{}{"u": "a"}, "a", "", "")
	require.NoError(t, err)
	_, err = log.Append(ctx, EventLoginFailed, map[string]interface{}{"u": "a"}, "a", "", "")
	require.NoError(t, err)
	_, err = log.Append(ctx, EventLoginFailed, map[string]interface{}{"u": "b"}, "b", "", "")
	require.NoError(t, err)

	entries, err := log.Query(ctx, Filter{EventType: EventLoginFailed})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = log.Query(ctx, Filter{SignerID: "b"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestVerifyChain_ValidOnUntamperedLog(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": i}, "", "", "")
		require.NoError(t, err)
	}

	result, err := log.VerifyChain(ctx, 0, 0, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 5, result.EntriesChecked)
}

func TestVerifyChain_DetectsTamperedPayload(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 1}, "", "", "")
	require.NoError(t, err)
	_, err = log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 2}, "", "", "")
	require.NoError(t, err)

	_, err = log.db.ExecContext(ctx, log.db.Q(`UPDATE audit_log SET payload = ? WHERE sequence_number = 1`), `{"n":999}`)
	require.NoError(t, err)

	result, err := log.VerifyChain(ctx, 0, 0, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)

	var sawMismatch bool
	for _, e := range result.Errors {
		if apierr.Is(e, apierr.KindHashMismatch) {
			sawMismatch = true
		}
	}
	assert.True(t, sawMismatch)
}

func TestVerifyChain_DetectsBrokenLinkage(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 1}, "", "", "")
	require.NoError(t, err)
	_, err = log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 2}, "", "", "")
	require.NoError(t, err)

	_, err = log.db.ExecContext(ctx, log.db.Q(`UPDATE audit_log SET prev_hash = ? WHERE sequence_number = 2`), "deadbeef")
	require.NoError(t, err)

	result, err := log.VerifyChain(ctx, 0, 0, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)

	var sawBroken bool
	for _, e := range result.Errors {
		if apierr.Is(e, apierr.KindChainBroken) {
			sawBroken = true
		}
	}
	assert.True(t, sawBroken)
}

func TestVerifyChain_DetectsInvalidSignature(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	prevHash, _, err := log.Head(ctx)
	require.NoError(t, err)
	payload := map[string]interface{}{"decision_id": "d1"}
	canonicalPayload, err := canonical.Marshal(payload)
	require.NoError(t, err)
	entryHash := computeEntryHash(canonicalPayload, prevHash)
	sig := crypto.Sign(other.Private, SignedMessage(entryHash, "signer-1", "key-1"))

	_, err = log.Append(ctx, EventDecisionSigned, payload, "signer-1", sig, "key-1")
	require.NoError(t, err)

	result, err := log.VerifyChain(ctx, 0, 0, fixedKeyResolver{pub: kp.Public})
	require.NoError(t, err)
	assert.False(t, result.Valid)

	var sawInvalid bool
	for _, e := range result.Errors {
		if apierr.Is(e, apierr.KindSignatureInvalid) {
			sawInvalid = true
		}
	}
	assert.True(t, sawInvalid)
}

func TestExportCheckpoint_BindsHeadHashAndSequence(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 1}, "", "", "")
	require.NoError(t, err)

	cp, err := log.ExportCheckpoint(ctx)
	require.NoError(t, err)

	head, seq, err := log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, cp.ChainHeadHash)
	assert.Equal(t, seq, cp.SequenceNumber)
	assert.NotEmpty(t, cp.CheckpointHash)
}

func TestCheckpointAttestation_SignAndVerifyRoundTrip(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, EventUserRegistered, map[string]interface{}{"n": 1}, "", "", "")
	require.NoError(t, err)

	cp, err := log.ExportCheckpoint(ctx)
	require.NoError(t, err)

	signingKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	token, err := SignCheckpointAttestation(cp, "munin-core", signingKey.Private, time.Hour)
	require.NoError(t, err)

	claims, err := VerifyCheckpointAttestation(token, signingKey.Public)
	require.NoError(t, err)
	assert.Equal(t, cp.ChainHeadHash, claims.ChainHeadHash)
	assert.Equal(t, cp.SequenceNumber, claims.SequenceNumber)

	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = VerifyCheckpointAttestation(token, other.Public)
	assert.Error(t, err)
}
