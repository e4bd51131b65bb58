package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigestIsStable(t *testing.T) {
	cert := []byte("some certificate bytes")
	d1 := Digest(cert)
	d2 := Digest(cert)
	require.Equal(t, d1, d2)
	require.Len(t, d1, 8)
	require.NotEqual(t, d1, Digest([]byte("other certificate bytes")))
}

func TestMemoryCertStore(t *testing.T) {
	store := NewMemoryCertStore()
	cert := []byte("cert")
	digest := Digest(cert)

	_, err := store.Get(digest)
	require.ErrorIs(t, err, ErrUnknownCert)

	require.NoError(t, store.Put(digest, cert))
	got, err := store.Get(digest)
	require.NoError(t, err)
	require.Equal(t, cert, got)

	// The store holds its own copies.
	got[0] = 'X'
	again, err := store.Get(digest)
	require.NoError(t, err)
	require.Equal(t, cert, again)
}

func TestBoltCertStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certs.db")
	cert := []byte("persisted cert")
	digest := Digest(cert)

	store, err := NewBoltCertStoreFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(digest, cert))
	require.NoError(t, store.Close())

	reopened, err := NewBoltCertStoreFromFile(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(digest)
	require.NoError(t, err)
	require.Equal(t, cert, got)

	_, err = reopened.Get([]byte("unknown!"))
	require.ErrorIs(t, err, ErrUnknownCert)
}
