package db

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/wallet"
)

func walletStores(t *testing.T, sealer *Sealer) map[string]WalletStore {
	t.Helper()
	sqlite, err := NewSQLiteWalletStore(filepath.Join(t.TempDir(), "wallets.db"), sealer)
	if err != nil {
		t.Fatalf("NewSQLiteWalletStore failed: %v", err)
	}
	return map[string]WalletStore{
		"kv":     NewKVWalletStore(NewMemCosmosDB(), sealer),
		"sqlite": sqlite,
	}
}

func TestWalletStore(t *testing.T) {
	for _, passphrase := range []string{"", "correct horse"} {
		for name, store := range walletStores(t, NewSealer(passphrase)) {
			t.Run(name+"/sealed="+boolString(passphrase != ""), func(t *testing.T) {
				defer store.Close()

				var want []model.Address
				wallets := make(map[model.Address]*wallet.Wallet)
				for i := 0; i < 3; i++ {
					w, err := wallet.New()
					if err != nil {
						t.Fatal(err)
					}
					if err := store.Put(w); err != nil {
						t.Fatalf("Put failed: %v", err)
					}
					wallets[w.Address] = w
					want = append(want, w.Address)
				}
				sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

				got, err := store.ListAddresses()
				if err != nil {
					t.Fatalf("ListAddresses failed: %v", err)
				}
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("expected %v, got %v", want, got)
				}

				for addr, w := range wallets {
					loaded, err := store.Get(addr)
					if err != nil {
						t.Fatalf("Get failed: %v", err)
					}
					if loaded.Address != addr || !bytes.Equal(loaded.KeyPair.PublicKey(), w.KeyPair.PublicKey()) {
						t.Fatal("loaded wallet does not match")
					}
					if loaded.CreatedAt.UnixMilli() != w.CreatedAt.UnixMilli() {
						t.Fatalf("created at changed: %v vs %v", loaded.CreatedAt, w.CreatedAt)
					}
				}

				if _, err := store.Get("1BoatSLRHtKNngkdXEeobR76b53LETtpyT"); !errors.Is(err, model.ErrWalletNotFound) {
					t.Fatalf("expected ErrWalletNotFound, got %v", err)
				}

				if err := store.Delete(want[0]); err != nil {
					t.Fatalf("Delete failed: %v", err)
				}
				if _, err := store.Get(want[0]); !errors.Is(err, model.ErrWalletNotFound) {
					t.Fatalf("expected ErrWalletNotFound after delete, got %v", err)
				}
				if err := store.Delete(want[0]); !errors.Is(err, model.ErrWalletNotFound) {
					t.Fatalf("expected ErrWalletNotFound deleting twice, got %v", err)
				}
			})
		}
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestSealedWalletNeedsPassphrase(t *testing.T) {
	kv := NewMemCosmosDB()
	sealed := NewKVWalletStore(kv, NewSealer("secret"))

	w, err := wallet.New()
	if err != nil {
		t.Fatal(err)
	}
	if err := sealed.Put(w); err != nil {
		t.Fatal(err)
	}

	raw, err := kv.Get(walletKey(w.Address))
	if err != nil {
		t.Fatal(err)
	}
	priv := w.KeyPair.PrivateKeyBytes()
	if bytes.Contains(raw, priv) {
		t.Fatal("private key stored in plaintext")
	}

	if _, err := NewKVWalletStore(kv, nil).Get(w.Address); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	if _, err := NewKVWalletStore(kv, NewSealer("wrong")).Get(w.Address); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
	if _, err := sealed.Get(w.Address); err != nil {
		t.Fatalf("Get with passphrase failed: %v", err)
	}
}

func TestWalletRecordMalformed(t *testing.T) {
	if _, err := unmarshalWalletRecord([]byte{0x0a, 0x05, 0x01}); !errors.Is(err, model.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
	if _, err := unmarshalWalletRecord([]byte{0x25, 0, 0, 0, 0}); !errors.Is(err, model.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord for unknown field, got %v", err)
	}
}
