package db

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrWrongPassphrase    = errors.New("wrong wallet passphrase")
	ErrPassphraseRequired = errors.New("wallet is sealed, passphrase required")
)

const (
	saltSize  = 16
	nonceSize = 24

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Sealer encrypts private keys at rest with a key derived from a passphrase.
// A nil Sealer stores keys in plaintext.
type Sealer struct {
	passphrase []byte
}

// NewSealer returns nil for an empty passphrase.
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return nil
	}
	return &Sealer{passphrase: []byte(passphrase)}
}

func (s *Sealer) deriveKey(salt []byte) (*[32]byte, error) {
	k, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], k)
	for i := range k {
		k[i] = 0
	}
	return &key, nil
}

// Seal returns salt || nonce || secretbox(plain).
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	buf := make([]byte, saltSize+nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	key, err := s.deriveKey(buf[:saltSize])
	if err != nil {
		return nil, err
	}
	defer wipe(key[:])

	var nonce [nonceSize]byte
	copy(nonce[:], buf[saltSize:])
	return secretbox.Seal(buf, plain, &nonce, key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize+nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("sealed key too short: %d bytes", len(sealed))
	}
	key, err := s.deriveKey(sealed[:saltSize])
	if err != nil {
		return nil, err
	}
	defer wipe(key[:])

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[saltSize:saltSize+nonceSize])
	plain, ok := secretbox.Open(nil, sealed[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

// protect prepares a private key for storage and reports whether it was sealed.
func (s *Sealer) protect(priv []byte) ([]byte, bool, error) {
	if s == nil {
		return append([]byte(nil), priv...), false, nil
	}
	sealed, err := s.Seal(priv)
	return sealed, true, err
}

func (s *Sealer) reveal(data []byte, sealed bool) ([]byte, error) {
	if !sealed {
		return append([]byte(nil), data...), nil
	}
	if s == nil {
		return nil, ErrPassphraseRequired
	}
	return s.Open(data)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
