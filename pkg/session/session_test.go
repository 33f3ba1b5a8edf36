package session

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/keyregistry"
	"github.com/jacobsprake/munin/pkg/ratelimit"
	"github.com/jacobsprake/munin/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Store, *keyregistry.Registry) {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := audit.New(db)
	users := keyregistry.New(db, log)
	secret, err := crypto.NewSessionSecret()
	require.NoError(t, err)
	store := New(db, log, users, ratelimit.NewInMemoryStore(), secret, time.Hour)
	return store, users
}

func registerOperator(t *testing.T, users *keyregistry.Registry, userID, passphrase string) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = users.RegisterUser(context.Background(), userID, "Operator", "operator", kp.Public, userID+"-key")
	require.NoError(t, err)
	hash, err := crypto.HashPassword(passphrase, crypto.DefaultPasswordParams())
	require.NoError(t, err)
	require.NoError(t, users.SetPassphraseHash(context.Background(), userID, hash))
}

func TestLogin_SucceedsWithCorrectPassphrase(t *testing.T) {
	store, users := setup(t)
	registerOperator(t, users, "alice", "correct-horse")
	ctx := context.Background()

	sess, token, err := store.Login(ctx, "alice", "correct-horse", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "alice", sess.UserID)
}

func TestLogin_FailsWithWrongPassphrase(t *testing.T) {
	store, users := setup(t)
	registerOperator(t, users, "alice", "correct-horse")
	ctx := context.Background()

	_, _, err := store.Login(ctx, "alice", "wrong", "10.0.0.1")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindInvalidCredentials))
}

func TestLogin_LocksOutAfterFiveFailures(t *testing.T) {
	store, users := setup(t)
	registerOperator(t, users, "alice", "correct-horse")
	ctx := context.Background()

	for i := 0; i < LoginLockout.Limit; i++ {
		_, _, err := store.Login(ctx, "alice", "wrong", "10.0.0.1")
		require.Error(t, err)
	}

	_, _, err := store.Login(ctx, "alice", "correct-horse", "10.0.0.1")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindLocked))
}

func TestValidate_AcceptsFreshSessionAndRejectsAfterRevoke(t *testing.T) {
	store, users := setup(t)
	registerOperator(t, users, "alice", "correct-horse")
	ctx := context.Background()

	sess, token, err := store.Login(ctx, "alice", "correct-horse", "10.0.0.1")
	require.NoError(t, err)

	got, err := store.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)

	require.NoError(t, store.Revoke(ctx, sess.SessionID))
	_, err = store.Validate(ctx, token)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindSessionInvalid))
}

func TestValidate_RejectsUnknownToken(t *testing.T) {
	store, _ := setup(t)
	_, err := store.Validate(context.Background(), "not-a-real-token")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindSessionInvalid))
}

func TestValidate_RejectsDisabledUser(t *testing.T) {
	store, users := setup(t)
	registerOperator(t, users, "alice", "correct-horse")
	ctx := context.Background()

	_, token, err := store.Login(ctx, "alice", "correct-horse", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, users.SetStatus(ctx, "alice", keyregistry.UserDisabled))

	_, err = store.Validate(ctx, token)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindDisabled))
}

func TestRevokeAllForUser_EndsEverySession(t *testing.T) {
	store, users := setup(t)
	registerOperator(t, users, "alice", "correct-horse")
	ctx := context.Background()

	_, token1, err := store.Login(ctx, "alice", "correct-horse", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, store.RevokeAllForUser(ctx, "alice"))

	_, err = store.Validate(ctx, token1)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindSessionInvalid))
}
