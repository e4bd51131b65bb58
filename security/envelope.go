package security

import (
	"bytes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/jmcleod/semigate/gateway"
	"github.com/jmcleod/semigate/internal/util"
)

var (
	// ErrBadEnvelope indicates a malformed or truncated envelope.
	ErrBadEnvelope = errors.New("security: malformed envelope")
	// ErrVerifyFailed indicates a signature that does not verify.
	ErrVerifyFailed = errors.New("security: signature verification failed")
	// ErrNotRecipient indicates an encrypted envelope addressed elsewhere.
	ErrNotRecipient = errors.New("security: envelope addressed to another recipient")
	// ErrNoRecipient indicates an encrypt call without a recipient digest,
	// typically after an ignored failed trust establishment.
	ErrNoRecipient = errors.New("security: recipient certificate digest is not available")
)

const (
	modeSigned    = 1
	modeEncrypted = 2

	idFormCert   = 0
	idFormDigest = 1

	certLen   = ed25519.PublicKeySize
	digestLen = 8

	hkdfInfo = "semigate envelope v1"
)

// Envelope implements the gateway security boundary. Outbound payloads are
// signed with the gateway's ed25519 identity or encrypted to a recipient
// digest with a key derived from the shared deployment secret. Key material
// rests in memguard enclaves between uses.
type Envelope struct {
	seed   *memguard.Enclave // ed25519 seed
	root   *memguard.Enclave // shared deployment secret for encryption keys
	pub    ed25519.PublicKey
	digest []byte
	certs  CertStore
}

var _ gateway.Security = (*Envelope)(nil)

// NewEnvelope builds an Envelope from an ed25519 seed and the shared
// deployment secret. The seed and secret slices are wiped by memguard.
func NewEnvelope(seed, rootSecret []byte, certs CertStore) (*Envelope, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("security: seed must be %d bytes", ed25519.SeedSize)
	}
	if len(rootSecret) == 0 {
		return nil, errors.New("security: empty deployment secret")
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	e := &Envelope{
		seed:   memguard.NewEnclave(seed),
		root:   memguard.NewEnclave(rootSecret),
		pub:    pub,
		digest: Digest(pub),
		certs:  certs,
	}
	// The gateway's own certificate resolves like any peer's.
	if err := certs.Put(e.digest, pub); err != nil {
		return nil, err
	}
	return e, nil
}

// GenerateEnvelope creates an Envelope with a fresh random identity and
// deployment secret, for tests and single-process use.
func GenerateEnvelope(certs CertStore) (*Envelope, error) {
	seed, err := util.RandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	root, err := util.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(seed, root, certs)
}

// Certificate returns the gateway's own certificate bytes.
func (e *Envelope) Certificate() []byte { return util.CopyBytes(e.pub) }

// CertDigest returns the digest peers use to address this gateway.
func (e *Envelope) CertDigest() []byte { return util.CopyBytes(e.digest) }

// Sign wraps the payload in a signed envelope carrying the full
// certificate.
func (e *Envelope) Sign(payload []byte) ([]byte, error) {
	lb, err := e.seed.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing key: %w", err)
	}
	defer lb.Destroy()
	priv := ed25519.NewKeyFromSeed(lb.Bytes())
	sig := ed25519.Sign(priv, payload)

	out := make([]byte, 0, 2+certLen+ed25519.SignatureSize+len(payload))
	out = append(out, modeSigned, idFormCert)
	out = append(out, e.pub...)
	out = append(out, sig...)
	return append(out, payload...), nil
}

// Encrypt wraps the payload in an envelope only the recipient digest's owner
// can open.
func (e *Envelope) Encrypt(payload, recipientDigest []byte) ([]byte, error) {
	if len(recipientDigest) != digestLen {
		return nil, ErrNoRecipient
	}
	aead, err := e.deriveAEAD(recipientDigest)
	if err != nil {
		return nil, err
	}
	nonce, err := util.RandomBytes(chacha20poly1305.NonceSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+digestLen+len(nonce)+len(payload)+aead.Overhead())
	out = append(out, modeEncrypted)
	out = append(out, recipientDigest...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, payload, recipientDigest), nil
}

// Unwrap removes the envelope from an inbound datagram, verifying the
// signature or decrypting as needed. Certificates seen in full are recorded
// in the store so later digest-only senders resolve.
func (e *Envelope) Unwrap(raw []byte) (gateway.Unwrapped, error) {
	if len(raw) < 1 {
		return gateway.Unwrapped{}, ErrBadEnvelope
	}
	switch raw[0] {
	case modeSigned:
		return e.unwrapSigned(raw[1:])
	case modeEncrypted:
		return e.unwrapEncrypted(raw[1:])
	}
	return gateway.Unwrapped{}, fmt.Errorf("%w: mode %d", ErrBadEnvelope, raw[0])
}

func (e *Envelope) unwrapSigned(rest []byte) (gateway.Unwrapped, error) {
	if len(rest) < 1 {
		return gateway.Unwrapped{}, ErrBadEnvelope
	}
	idForm := rest[0]
	rest = rest[1:]

	var cert, digest []byte
	usedDigest := false
	switch idForm {
	case idFormCert:
		if len(rest) < certLen {
			return gateway.Unwrapped{}, ErrBadEnvelope
		}
		cert = append([]byte(nil), rest[:certLen]...)
		digest = Digest(cert)
		rest = rest[certLen:]
		if err := e.certs.Put(digest, cert); err != nil {
			return gateway.Unwrapped{}, fmt.Errorf("recording sender certificate: %w", err)
		}
	case idFormDigest:
		if len(rest) < digestLen {
			return gateway.Unwrapped{}, ErrBadEnvelope
		}
		digest = append([]byte(nil), rest[:digestLen]...)
		rest = rest[digestLen:]
		var err error
		cert, err = e.certs.Get(digest)
		if err != nil {
			return gateway.Unwrapped{}, fmt.Errorf("resolving sender digest %s: %w", util.HexEncode(digest), err)
		}
		usedDigest = true
	default:
		return gateway.Unwrapped{}, fmt.Errorf("%w: signer ID form %d", ErrBadEnvelope, idForm)
	}

	if len(rest) < ed25519.SignatureSize {
		return gateway.Unwrapped{}, ErrBadEnvelope
	}
	sig, payload := rest[:ed25519.SignatureSize], rest[ed25519.SignatureSize:]
	if !ed25519.Verify(ed25519.PublicKey(cert), payload, sig) {
		return gateway.Unwrapped{}, ErrVerifyFailed
	}
	return gateway.Unwrapped{
		Payload:     append([]byte(nil), payload...),
		Certificate: cert,
		CertDigest:  digest,
		UsedDigest:  usedDigest,
	}, nil
}

func (e *Envelope) unwrapEncrypted(rest []byte) (gateway.Unwrapped, error) {
	if len(rest) < digestLen+chacha20poly1305.NonceSize {
		return gateway.Unwrapped{}, ErrBadEnvelope
	}
	recipient := rest[:digestLen]
	if !bytes.Equal(recipient, e.digest) {
		return gateway.Unwrapped{}, ErrNotRecipient
	}
	nonce := rest[digestLen : digestLen+chacha20poly1305.NonceSize]
	aead, err := e.deriveAEAD(recipient)
	if err != nil {
		return gateway.Unwrapped{}, err
	}
	payload, err := aead.Open(nil, nonce, rest[digestLen+chacha20poly1305.NonceSize:], recipient)
	if err != nil {
		return gateway.Unwrapped{}, fmt.Errorf("security: decrypting envelope: %w", err)
	}
	return gateway.Unwrapped{Payload: payload}, nil
}

func (e *Envelope) deriveAEAD(recipientDigest []byte) (cipher.AEAD, error) {
	lb, err := e.root.Open()
	if err != nil {
		return nil, fmt.Errorf("opening deployment secret: %w", err)
	}
	defer lb.Destroy()
	kdf := hkdf.New(sha256.New, lb.Bytes(), nil, append([]byte(hkdfInfo), recipientDigest...))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving envelope key: %w", err)
	}
	return chacha20poly1305.New(key)
}
