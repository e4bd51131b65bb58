// Package security provides a reference implementation of the gateway's
// security envelope: ed25519-signed and ChaCha20-Poly1305-encrypted payload
// wrapping, with peer certificates resolved through a pluggable store.
package security

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
)

// ErrUnknownCert indicates no certificate is stored under a digest.
var ErrUnknownCert = errors.New("security: unknown certificate digest")

// CertStore maps 8-byte certificate digests to certificate bytes. Peers may
// identify themselves by digest alone once their certificate has been seen.
type CertStore interface {
	Put(digest, cert []byte) error
	Get(digest []byte) ([]byte, error)
}

// Digest returns the 8-byte identifying digest of a certificate.
func Digest(cert []byte) []byte {
	sum := sha256.Sum256(cert)
	return sum[:8]
}

// MemoryCertStore is a thread-safe in-memory CertStore. Certificates are
// lost on restart, forcing peers to re-establish trust with a full
// certificate.
type MemoryCertStore struct {
	mu    sync.RWMutex
	certs map[string][]byte
}

var _ CertStore = (*MemoryCertStore)(nil)

// NewMemoryCertStore creates an empty in-memory certificate store.
func NewMemoryCertStore() *MemoryCertStore {
	return &MemoryCertStore{certs: make(map[string][]byte)}
}

func (s *MemoryCertStore) Put(digest, cert []byte) error {
	s.mu.Lock()
	s.certs[string(digest)] = append([]byte(nil), cert...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryCertStore) Get(digest []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[string(digest)]
	if !ok {
		return nil, ErrUnknownCert
	}
	return append([]byte(nil), cert...), nil
}

var certBucket = []byte("certificates")

// BoltCertStore persists peer certificates in a BBolt database so trust
// survives restarts.
type BoltCertStore struct {
	db *bbolt.DB
}

var _ CertStore = (*BoltCertStore)(nil)

// NewBoltCertStore wraps an open BBolt database.
func NewBoltCertStore(db *bbolt.DB) (*BoltCertStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(certBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &BoltCertStore{db: db}, nil
}

// NewBoltCertStoreFromFile opens a BBolt database at the given path.
func NewBoltCertStoreFromFile(path string, options *bbolt.Options) (*BoltCertStore, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltCertStore(db)
}

// Close closes the underlying database.
func (s *BoltCertStore) Close() error {
	return s.db.Close()
}

func (s *BoltCertStore) Put(digest, cert []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(certBucket).Put(digest, cert)
	})
}

func (s *BoltCertStore) Get(digest []byte) ([]byte, error) {
	var cert []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(certBucket).Get(digest)
		if v == nil {
			return ErrUnknownCert
		}
		cert = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}
