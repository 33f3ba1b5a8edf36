package keyregistry

import (
	"context"
	"testing"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *audit.Log) {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log := audit.New(db)
	return New(db, log), log
}

func TestRegisterUser_CreatesActiveKey(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	user, err := reg.RegisterUser(ctx, "u1", "Operator One", "operator", kp.Public, "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", user.CurrentKeyID)
	assert.Equal(t, UserActive, user.Status)

	active, err := reg.IsKeyActive(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, active)

	pub, err := reg.ResolvePublicKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(kp.Public), []byte(pub))
}

func TestRegisterUser_DuplicateUserIDConflicts(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = reg.RegisterUser(ctx, "u1", "Name", "operator", kp.Public, "k1")
	require.NoError(t, err)

	_, err = reg.RegisterUser(ctx, "u1", "Name2", "operator", kp.Public, "k2")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindConflict))
}

func TestRotateKey_OldKeyBecomesRotatedNewBecomesActive(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	kp1, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = reg.RegisterUser(ctx, "u1", "Name", "operator", kp1.Public, "k1")
	require.NoError(t, err)

	err = reg.RotateKey(ctx, "u1", kp2.Public, "k2")
	require.NoError(t, err)

	active1, err := reg.IsKeyActive(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, active1)

	active2, err := reg.IsKeyActive(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, active2)

	user, err := reg.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "k2", user.CurrentKeyID)

	// the old key's public key remains resolvable for historical signatures
	pub, err := reg.ResolvePublicKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(kp1.Public), []byte(pub))
}

func TestRotateKey_UnknownUserNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	err = reg.RotateKey(context.Background(), "ghost", kp.Public, "k2")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestRevokeKey_MakesKeyPermanentlyInactive(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = reg.RegisterUser(ctx, "u1", "Name", "operator", kp.Public, "k1")
	require.NoError(t, err)

	err = reg.RevokeKey(ctx, "u1", "k1")
	require.NoError(t, err)

	active, err := reg.IsKeyActive(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, active)

	user, err := reg.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, user.CurrentKeyID)
}

func TestResolvePublicKey_UnknownKeyNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.ResolvePublicKey(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestRegisterUser_EmitsAuditEntry(t *testing.T) {
	reg, log := newTestRegistry(t)
	ctx := context.Background()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = reg.RegisterUser(ctx, "u1", "Name", "operator", kp.Public, "k1")
	require.NoError(t, err)

	entries, err := log.Query(ctx, audit.Filter{EventType: audit.EventUserRegistered})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
