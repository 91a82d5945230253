package db

import (
	"fmt"
	"time"

	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/wallet"
	"google.golang.org/protobuf/encoding/protowire"
)

var walletKeyPrefix = []byte("w:")

// WalletStore persists wallets keyed by address.
type WalletStore interface {
	Put(w *wallet.Wallet) error
	// Get returns model.ErrWalletNotFound for unknown addresses.
	Get(address model.Address) (*wallet.Wallet, error)
	// ListAddresses returns every stored address in ascending order.
	ListAddresses() ([]model.Address, error)
	Delete(address model.Address) error
	Close() error
}

const (
	fieldWalletKey       protowire.Number = 1
	fieldWalletSealed    protowire.Number = 2
	fieldWalletCreatedAt protowire.Number = 3
)

// walletRecord is the stored form of a wallet; key is sealed when Sealed.
type walletRecord struct {
	Key       []byte
	Sealed    bool
	CreatedAt int64
}

func newWalletRecord(w *wallet.Wallet, sealer *Sealer) (*walletRecord, error) {
	priv := w.KeyPair.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("wallet %s has no private key", w.Address)
	}
	defer wipe(priv)

	key, sealed, err := sealer.protect(priv)
	if err != nil {
		return nil, err
	}
	return &walletRecord{Key: key, Sealed: sealed, CreatedAt: w.CreatedAt.UnixMilli()}, nil
}

func (r *walletRecord) wallet(address model.Address, sealer *Sealer) (*wallet.Wallet, error) {
	priv, err := sealer.reveal(r.Key, r.Sealed)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", address, err)
	}
	defer wipe(priv)

	kp, err := wallet.KeyPairFromBytes(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet %s: %v", model.ErrMalformedRecord, address, err)
	}
	w := wallet.FromKeyPair(kp, time.UnixMilli(r.CreatedAt))
	if w.Address != address {
		w.Close()
		return nil, fmt.Errorf("%w: key stored under %s derives %s", model.ErrMalformedRecord, address, w.Address)
	}
	return w, nil
}

func (r *walletRecord) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldWalletKey, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Key)
	b = protowire.AppendTag(b, fieldWalletSealed, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.Sealed))
	b = protowire.AppendTag(b, fieldWalletCreatedAt, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(r.CreatedAt))
}

func unmarshalWalletRecord(b []byte) (*walletRecord, error) {
	r := &walletRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", model.ErrMalformedRecord, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldWalletKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", model.ErrMalformedRecord, protowire.ParseError(n))
			}
			r.Key = append([]byte(nil), v...)
			b = b[n:]
		case (num == fieldWalletSealed || num == fieldWalletCreatedAt) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", model.ErrMalformedRecord, protowire.ParseError(n))
			}
			if num == fieldWalletSealed {
				r.Sealed = protowire.DecodeBool(v)
			} else {
				r.CreatedAt = int64(v)
			}
			b = b[n:]
		default:
			return nil, fmt.Errorf("%w: unexpected wallet field %d", model.ErrMalformedRecord, num)
		}
	}
	return r, nil
}

// KVWalletStore keeps wallets in a KV under w:<address>.
type KVWalletStore struct {
	kv     KV
	sealer *Sealer
}

func NewKVWalletStore(kv KV, sealer *Sealer) *KVWalletStore {
	return &KVWalletStore{kv: kv, sealer: sealer}
}

func walletKey(address model.Address) []byte {
	return withPrefix(walletKeyPrefix, []byte(address))
}

func (s *KVWalletStore) Put(w *wallet.Wallet) error {
	r, err := newWalletRecord(w, s.sealer)
	if err != nil {
		return err
	}
	b := &Batch{}
	b.Set(walletKey(w.Address), r.marshal())
	return s.kv.Write(b)
}

func (s *KVWalletStore) Get(address model.Address) (*wallet.Wallet, error) {
	raw, err := s.kv.Get(walletKey(address))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrWalletNotFound, address)
	}
	r, err := unmarshalWalletRecord(raw)
	if err != nil {
		return nil, err
	}
	return r.wallet(address, s.sealer)
}

func (s *KVWalletStore) ListAddresses() ([]model.Address, error) {
	var addrs []model.Address
	err := s.kv.Iterate(walletKeyPrefix, func(key, _ []byte) error {
		addrs = append(addrs, model.Address(key[len(walletKeyPrefix):]))
		return nil
	})
	return addrs, err
}

func (s *KVWalletStore) Delete(address model.Address) error {
	ok, err := s.kv.Has(walletKey(address))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrWalletNotFound, address)
	}
	b := &Batch{}
	b.Delete(walletKey(address))
	return s.kv.Write(b)
}

func (s *KVWalletStore) Close() error {
	return s.kv.Close()
}
