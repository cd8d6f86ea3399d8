package lockmgr

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseAcquireRelease(t *testing.T) {
	lm := NewLeaseManager(lstore.NewLocalStore())

	ok, owner, holder, err := lm.Acquire("lease/plan/1", []byte("admin-1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("admin-1"), owner)
	assert.Nil(t, holder)

	ok, _, holder, err = lm.Acquire("lease/plan/1", nil, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []byte("admin-1"), holder)

	released, err := lm.Release("lease/plan/1", []byte("someone-else"))
	require.NoError(t, err)
	assert.False(t, released)

	released, err = lm.Release("lease/plan/1", owner)
	require.NoError(t, err)
	assert.True(t, released)

	ok, generated, _, err := lm.Acquire("lease/plan/1", nil, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, generated, 2*ownerIDBytes)
}

func TestLeaseExpires(t *testing.T) {
	now := time.Unix(100, 0)
	lm := NewLeaseManager(lstore.NewLocalStoreWithClock(func() time.Time { return now }))

	ok, _, _, err := lm.Acquire("lease", []byte("a"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _, _, err = lm.Acquire("lease", []byte("b"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be taken over")
}

func TestLeaseRenew(t *testing.T) {
	now := time.Unix(100, 0)
	lm := NewLeaseManager(lstore.NewLocalStoreWithClock(func() time.Time { return now }))

	ok, _, _, err := lm.Acquire("lease", []byte("a"), 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// renewing before expiry keeps the lease past its original ttl
	now = now.Add(8 * time.Second)
	renewed, err := lm.Renew("lease", []byte("a"), 10*time.Second)
	require.NoError(t, err)
	require.True(t, renewed)
	now = now.Add(8 * time.Second)
	ok, _, holder, err := lm.Acquire("lease", []byte("b"), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []byte("a"), holder)

	renewed, err = lm.Renew("lease", []byte("b"), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, renewed, "only the holder can renew")

	// once expired the lease is gone for the old holder
	now = now.Add(11 * time.Second)
	renewed, err = lm.Renew("lease", []byte("a"), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, renewed)
}
