// Package wallet generates secp256k1 key pairs and derives ledger addresses
// from their public keys.
package wallet

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/pkg"
)

// KeyPair owns a private key. Call Zero once it is no longer needed.
type KeyPair struct {
	priv *btcec.PrivateKey
	pub  []byte
}

// Generate creates a key pair from the operating system's entropy source.
func Generate() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrKeyGeneration, err)
	}
	return &KeyPair{
		priv: priv,
		pub:  priv.PubKey().SerializeCompressed(),
	}, nil
}

// KeyPairFromBytes restores a key pair from a serialized private scalar.
func KeyPairFromBytes(privBytes []byte) (*KeyPair, error) {
	if len(privBytes) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(privBytes))
	}
	priv, pub := btcec.PrivKeyFromBytes(privBytes)
	return &KeyPair{
		priv: priv,
		pub:  pub.SerializeCompressed(),
	}, nil
}

// PublicKey returns the compressed public key.
func (kp *KeyPair) PublicKey() []byte {
	return append([]byte(nil), kp.pub...)
}

// PrivateKeyBytes returns a copy of the private scalar. The caller must wipe it.
func (kp *KeyPair) PrivateKeyBytes() []byte {
	if kp.priv == nil {
		return nil
	}
	return kp.priv.Serialize()
}

// Sign signs a 32-byte digest.
func (kp *KeyPair) Sign(hash []byte) ([]byte, error) {
	if kp.priv == nil {
		return nil, fmt.Errorf("key pair has been zeroed")
	}
	return ecdsa.Sign(kp.priv, hash).Serialize(), nil
}

// Zero wipes the private key. The key pair can no longer sign afterwards.
func (kp *KeyPair) Zero() {
	if kp.priv != nil {
		kp.priv.Zero()
		kp.priv = nil
	}
}

// String never includes private key material.
func (kp *KeyPair) String() string {
	return fmt.Sprintf("KeyPair{pub:%x}", kp.pub)
}

// GoString keeps %#v from dumping the private key.
func (kp *KeyPair) GoString() string {
	return kp.String()
}

// VerifySignature checks a DER signature over hash against a compressed or
// uncompressed public key.
func VerifySignature(pubKey, hash, sig []byte) bool {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return signature.Verify(hash, pub)
}

// DeriveAddress maps a public key to its address.
func DeriveAddress(pubKey []byte) model.Address {
	return model.Address(pkg.EncodeAddress(pubKey))
}

// ValidateAddress checks the checksum, version and length of addr.
func ValidateAddress(addr model.Address) error {
	if _, err := pkg.DecodeAddress(string(addr)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidAddress, err)
	}
	return nil
}

// Wallet binds a key pair to the address derived from it.
type Wallet struct {
	Address   model.Address
	KeyPair   *KeyPair
	CreatedAt time.Time
}

// New generates a fresh wallet.
func New() (*Wallet, error) {
	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	return FromKeyPair(kp, time.Now()), nil
}

// FromKeyPair wraps an existing key pair.
func FromKeyPair(kp *KeyPair, createdAt time.Time) *Wallet {
	return &Wallet{
		Address:   DeriveAddress(kp.pub),
		KeyPair:   kp,
		CreatedAt: createdAt,
	}
}

// Close wipes the wallet's private key.
func (w *Wallet) Close() {
	if w.KeyPair != nil {
		w.KeyPair.Zero()
	}
}
