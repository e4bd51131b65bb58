package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/semigate/semi"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	s := NewStore(opts...)
	t.Cleanup(s.Stop)
	return s
}

func TestStorePutAndLookup(t *testing.T) {
	store := newTestStore(t)

	key := NewKey(NewEndpoint([]byte{10, 0, 0, 1}, 4000, false), semi.DialogAdvisoryDeposit, 1, 2)
	sess := New(key, store.TTL())
	store.Put(sess)

	byKey, ok := store.GetByKey(key)
	require.True(t, ok)
	require.Same(t, sess, byKey)

	byID, ok := store.GetByID(sess.ID())
	require.True(t, ok)
	require.Same(t, sess, byID)

	require.Equal(t, 1, store.Len())

	_, ok = store.GetByKey(NewKey(key.Source(), semi.DialogAdvisoryDeposit, 1, 3))
	require.False(t, ok)
	_, ok = store.GetByID("nope")
	require.False(t, ok)
}

func TestStoreRemoveDropsBothIndices(t *testing.T) {
	store := newTestStore(t)

	sess := New(NewMetaKey(NewEndpoint([]byte{10, 0, 0, 2}, 4000, false), semi.DialogObjectDiscovery), store.MetaTTL())
	store.Put(sess)
	require.Equal(t, 1, store.Len())

	store.Remove(sess)
	_, ok := store.GetByKey(sess.Key())
	require.False(t, ok)
	_, ok = store.GetByID(sess.ID())
	require.False(t, ok)
	require.Zero(t, store.Len())
}

func TestDialogTTL(t *testing.T) {
	store := newTestStore(t, WithTTL(20*time.Second))

	// Externally mediated dialogs wait on a downstream component, so their
	// sessions live three times as long.
	assert.Equal(t, 60*time.Second, store.DialogTTL(semi.DialogAdvisoryDistribution))
	assert.Equal(t, 60*time.Second, store.DialogTTL(semi.DialogIntersectionQuery))
	assert.Equal(t, 60*time.Second, store.DialogTTL(semi.DialogObjectDiscovery))

	assert.Equal(t, 20*time.Second, store.DialogTTL(semi.DialogAdvisoryDeposit))
	assert.Equal(t, 20*time.Second, store.DialogTTL(semi.DialogVehicleData))
}

func TestPurgeReclaimsInactive(t *testing.T) {
	store := newTestStore(t)

	live := New(NewKey(NewEndpoint([]byte{10, 0, 0, 3}, 1, false), semi.DialogAdvisoryDeposit, 1, 1), time.Minute)
	closed := New(NewKey(NewEndpoint([]byte{10, 0, 0, 3}, 2, false), semi.DialogAdvisoryDeposit, 1, 2), time.Minute)
	expired := New(NewKey(NewEndpoint([]byte{10, 0, 0, 3}, 3, false), semi.DialogAdvisoryDeposit, 1, 3), time.Nanosecond)

	store.Put(live)
	store.Put(closed)
	store.Put(expired)
	closed.Close()
	time.Sleep(time.Millisecond)

	store.Purge()

	_, ok := store.GetByKey(live.Key())
	require.True(t, ok)
	for _, gone := range []*Session{closed, expired} {
		_, ok := store.GetByKey(gone.Key())
		require.False(t, ok)
		_, ok = store.GetByID(gone.ID())
		require.False(t, ok)
	}
	require.Equal(t, 1, store.Len())
}

func TestEvictorReclaimsExpiredSessions(t *testing.T) {
	// Compressed version of the production timing: a session present at half
	// its TTL must be gone shortly after the TTL plus one purge cycle.
	store := newTestStore(t,
		WithTTL(80*time.Millisecond),
		WithPurgeInterval(20*time.Millisecond),
	)
	store.Start()

	sess := New(NewKey(NewEndpoint([]byte{10, 0, 0, 4}, 9, false), semi.DialogAdvisoryDeposit, 5, 6), store.TTL())
	store.Put(sess)

	time.Sleep(40 * time.Millisecond)
	_, ok := store.GetByKey(sess.Key())
	require.True(t, ok, "session evicted before its TTL elapsed")

	require.Eventually(t, func() bool {
		_, ok := store.GetByKey(sess.Key())
		return !ok
	}, time.Second, 10*time.Millisecond, "expired session never evicted")
	_, ok = store.GetByID(sess.ID())
	require.False(t, ok)
}

func TestSupersededKeyRowCleanup(t *testing.T) {
	// A replaced session leaves a dangling ID row until the closed original
	// is purged; the key row already points at the replacement.
	store := newTestStore(t)
	key := NewMetaKey(NewEndpoint([]byte{10, 0, 0, 5}, 9, false), semi.DialogAdvisoryDistribution)

	first := New(key, time.Minute)
	store.Put(first)
	first.Close()

	second := New(key, time.Minute)
	store.Put(second)

	got, ok := store.GetByKey(key)
	require.True(t, ok)
	require.Same(t, second, got)

	store.Purge()

	_, ok = store.GetByID(first.ID())
	require.False(t, ok)
	got, ok = store.GetByKey(key)
	require.True(t, ok)
	require.Same(t, second, got)
	require.Equal(t, 1, store.Len())
}
