package decision

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/canonical"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/keyregistry"
	"github.com/jacobsprake/munin/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSigner struct {
	userID string
	keyID  string
	kp     *crypto.KeyPair
}

func setup(t *testing.T, signerCount int) (*Engine, *keyregistry.Registry, []testSigner) {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := audit.New(db)
	reg := keyregistry.New(db, log)
	engine := New(db, log, reg)

	signers := make([]testSigner, signerCount)
	for i := range signers {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		userID := string(rune('a' + i))
		keyID := "key-" + userID
		_, err = reg.RegisterUser(context.Background(), userID, "Signer "+userID, "operator", kp.Public, keyID)
		require.NoError(t, err)
		signers[i] = testSigner{userID: userID, keyID: keyID, kp: kp}
	}
	return engine, reg, signers
}

func samplePolicy(signers []testSigner, threshold int) Policy {
	ids := make([]string, len(signers))
	for i, s := range signers {
		ids[i] = s.userID
	}
	return Policy{Threshold: threshold, Required: len(ids), Signers: ids}
}

func signDecision(t *testing.T, d *Decision, priv ed25519.PrivateKey) string {
	t.Helper()
	message, err := canonical.Marshal(CanonicalMessage(d))
	require.NoError(t, err)
	return crypto.Sign(priv, message)
}

func TestCreate_RejectsBadPolicyArity(t *testing.T) {
	engine, _, signers := setup(t, 2)
	ctx := context.Background()

	_, err := engine.Create(ctx, "inc-1", "pb-1", "", "isolate_valve", map[string]interface{}{"valve": "v1"},
		Policy{Threshold: 3, Required: 2, Signers: []string{signers[0].userID, signers[1].userID}}, "")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindInputInvalid))
}

func TestSubmitSignature_ReachesThresholdAndAuthorizes(t *testing.T) {
	engine, _, signers := setup(t, 3)
	ctx := context.Background()
	policy := samplePolicy(signers, 2)
	scope := map[string]interface{}{"valve_id": "v-12"}

	d, err := engine.Create(ctx, "inc-1", "pb-1", "", "isolate_valve", scope, policy, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, d.Status)

	sig0 := signDecision(t, d, signers[0].kp.Private)
	d, err = engine.SubmitSignature(ctx, d.DecisionID, signers[0].userID, sig0, signers[0].keyID, "isolate_valve", scope)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, d.Status)

	sig1 := signDecision(t, d, signers[1].kp.Private)
	d, err = engine.SubmitSignature(ctx, d.DecisionID, signers[1].userID, sig1, signers[1].keyID, "isolate_valve", scope)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, d.Status)
	assert.NotNil(t, d.AuthorizedAt)
}

func TestSubmitSignature_RejectsUnknownSigner(t *testing.T) {
	engine, _, signers := setup(t, 2)
	ctx := context.Background()
	policy := samplePolicy(signers[:1], 1)
	scope := map[string]interface{}{"x": 1}

	d, err := engine.Create(ctx, "inc-1", "pb-1", "", "act", scope, policy, "")
	require.NoError(t, err)

	sig := signDecision(t, d, signers[1].kp.Private)
	_, err = engine.SubmitSignature(ctx, d.DecisionID, signers[1].userID, sig, signers[1].keyID, "act", scope)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindUnknownSigner))
}

func TestSubmitSignature_RejectsDuplicateFromSameSigner(t *testing.T) {
	engine, _, signers := setup(t, 2)
	ctx := context.Background()
	policy := samplePolicy(signers, 2)
	scope := map[string]interface{}{"x": 1}

	d, err := engine.Create(ctx, "inc-1", "pb-1", "", "act", scope, policy, "")
	require.NoError(t, err)

	sig := signDecision(t, d, signers[0].kp.Private)
	_, err = engine.SubmitSignature(ctx, d.DecisionID, signers[0].userID, sig, signers[0].keyID, "act", scope)
	require.NoError(t, err)

	_, err = engine.SubmitSignature(ctx, d.DecisionID, signers[0].userID, sig, signers[0].keyID, "act", scope)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindConflict))
}

func TestSubmitSignature_RejectsInvalidSignature(t *testing.T) {
	engine, _, signers := setup(t, 2)
	ctx := context.Background()
	policy := samplePolicy(signers, 2)
	scope := map[string]interface{}{"x": 1}

	d, err := engine.Create(ctx, "inc-1", "pb-1", "", "act", scope, policy, "")
	require.NoError(t, err)

	_, err = engine.SubmitSignature(ctx, d.DecisionID, signers[0].userID, "not-a-real-signature", signers[0].keyID, "act", scope)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindSignatureInvalid))
}

func TestSubmitSignature_RejectsRevokedKey(t *testing.T) {
	engine, reg, signers := setup(t, 2)
	ctx := context.Background()
	policy := samplePolicy(signers, 2)
	scope := map[string]interface{}{"x": 1}

	d, err := engine.Create(ctx, "inc-1", "pb-1", "", "act", scope, policy, "")
	require.NoError(t, err)

	require.NoError(t, reg.RevokeKey(ctx, signers[0].userID, signers[0].keyID))

	sig := signDecision(t, d, signers[0].kp.Private)
	_, err = engine.SubmitSignature(ctx, d.DecisionID, signers[0].userID, sig, signers[0].keyID, "act", scope)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindKeyNotActive))
}

func TestReject_OnlyAllowedFromPending(t *testing.T) {
	engine, _, signers := setup(t, 2)
	ctx := context.Background()
	policy := samplePolicy(signers, 2)
	scope := map[string]interface{}{"x": 1}

	d, err := engine.Create(ctx, "inc-1", "pb-1", "", "act", scope, policy, "")
	require.NoError(t, err)

	sig0 := signDecision(t, d, signers[0].kp.Private)
	d, err = engine.SubmitSignature(ctx, d.DecisionID, signers[0].userID, sig0, signers[0].keyID, "act", scope)
	require.NoError(t, err)
	sig1 := signDecision(t, d, signers[1].kp.Private)
	d, err = engine.SubmitSignature(ctx, d.DecisionID, signers[1].userID, sig1, signers[1].keyID, "act", scope)
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, d.Status)

	_, err = engine.Reject(ctx, d.DecisionID)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindWrongState))
}

func TestVerifyPreviousHash_ChainsToAuthorizedDecision(t *testing.T) {
	engine, _, signers := setup(t, 1)
	ctx := context.Background()
	policy := samplePolicy(signers, 1)
	scope := map[string]interface{}{"x": 1}

	d, err := engine.Create(ctx, "inc-1", "pb-1", "", "act", scope, policy, "")
	require.NoError(t, err)

	sig := signDecision(t, d, signers[0].kp.Private)
	d, err = engine.SubmitSignature(ctx, d.DecisionID, signers[0].userID, sig, signers[0].keyID, "act", scope)
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, d.Status)

	digest, err := CanonicalMessageDigest(d)
	require.NoError(t, err)

	assert.NoError(t, engine.VerifyPreviousHash(ctx, "inc-1", digest))
	err = engine.VerifyPreviousHash(ctx, "inc-1", "not-a-real-hash")
	assert.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindChainBroken))
}
