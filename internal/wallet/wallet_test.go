package wallet

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/wx-shi/utxo-ledger/internal/model"
)

func TestGenerateAndSign(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer kp.Zero()

	if len(kp.PublicKey()) != 33 {
		t.Fatalf("expected compressed public key, got %d bytes", len(kp.PublicKey()))
	}

	hash := chainhash.DoubleHashB([]byte("payload"))
	sig, err := kp.Sign(hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !VerifySignature(kp.PublicKey(), hash, sig) {
		t.Fatal("signature should verify")
	}

	other := chainhash.DoubleHashB([]byte("other"))
	if VerifySignature(kp.PublicKey(), other, sig) {
		t.Fatal("signature must not verify a different digest")
	}
	if VerifySignature([]byte{1, 2, 3}, hash, sig) {
		t.Fatal("garbage public key must not verify")
	}
}

func TestKeyPairRestore(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	raw := kp.PrivateKeyBytes()
	restored, err := KeyPairFromBytes(raw)
	if err != nil {
		t.Fatalf("KeyPairFromBytes failed: %v", err)
	}
	if DeriveAddress(restored.PublicKey()) != DeriveAddress(kp.PublicKey()) {
		t.Fatal("restored key pair derives a different address")
	}
	if _, err := KeyPairFromBytes(raw[:10]); err == nil {
		t.Fatal("expected error for short private key")
	}
}

func TestZero(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	kp.Zero()
	if kp.PrivateKeyBytes() != nil {
		t.Fatal("private key should be gone after Zero")
	}
	if _, err := kp.Sign(make([]byte, 32)); err == nil {
		t.Fatal("zeroed key pair must not sign")
	}
	kp.Zero()
}

func TestStringHidesPrivateKey(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer kp.Zero()
	priv := fmt.Sprintf("%x", kp.PrivateKeyBytes())
	for _, s := range []string{kp.String(), fmt.Sprintf("%v", kp), fmt.Sprintf("%#v", kp)} {
		if strings.Contains(s, priv) {
			t.Fatalf("formatted key pair leaks private key: %s", s)
		}
	}
}

func TestWalletAddress(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if w.Address != DeriveAddress(w.KeyPair.PublicKey()) {
		t.Fatal("wallet address must derive from its public key")
	}
	if err := ValidateAddress(w.Address); err != nil {
		t.Fatalf("generated address invalid: %v", err)
	}
	if err := ValidateAddress("not-an-address"); !errors.Is(err, model.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}
