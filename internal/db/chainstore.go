package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/scylladb/go-set/strset"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/utxo"
	"github.com/wx-shi/utxo-ledger/pkg"
	"go.uber.org/zap"
)

var (
	blockKeyPrefix    = []byte("b:")
	heightKeyPrefix   = []byte("h:")
	utxoKeyPrefix     = []byte("u:")
	tipKey            = []byte("t:tip")
	snapshotHeightKey = []byte("s:h")
)

// ChainStore persists blocks together with the UTXO set they produce.
type ChainStore interface {
	// Commit stores blk as the new tip and applies delta to the persisted
	// UTXO snapshot in one atomic write.
	Commit(blk *model.Block, delta *utxo.Delta) error
	// Tip returns the newest block, or nil for an empty store.
	Tip() (*model.Block, error)
	Block(hash model.Hash) (*model.Block, error)
	// Blocks returns every block oldest first.
	Blocks() ([]*model.Block, error)
	// UTXOSnapshot returns the persisted UTXO set and the height it reflects.
	// ok is false when no snapshot was ever written.
	UTXOSnapshot() (utxos []model.UTXO, height uint64, ok bool, err error)
	ReplaceUTXOSnapshot(utxos []model.UTXO, height uint64) error
	// Reset deletes every block and UTXO record.
	Reset() error
	Close() error
}

// BlockError marks the first stored height that cannot be read back.
type BlockError struct {
	Index uint64
	Err   error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Index, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// corrupt reports whether err comes from the stored data rather than the
// backend.
func corrupt(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, model.ErrMalformedRecord) || errors.Is(err, model.ErrChainIntegrity)
}

// KVChainStore implements ChainStore on a KV, keeping recently read blocks in
// an LRU cache.
type KVChainStore struct {
	kv     KV
	cache  *lru.Cache[model.Hash, *model.Block]
	logger *zap.Logger
}

func NewChainStore(kv KV, cacheSize int, logger *zap.Logger) (*KVChainStore, error) {
	cache, err := lru.New[model.Hash, *model.Block](cacheSize)
	if err != nil {
		return nil, err
	}
	return &KVChainStore{
		kv:     kv,
		cache:  cache,
		logger: logger,
	}, nil
}

func withPrefix(prefix []byte, parts ...[]byte) []byte {
	key := append([]byte(nil), prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func blockKey(hash model.Hash) []byte {
	return withPrefix(blockKeyPrefix, hash[:])
}

func heightKey(index uint64) []byte {
	return withPrefix(heightKeyPrefix, pkg.Uint64ToBytes(index))
}

// utxoKey is u:<txid><index big endian>.
func utxoKey(op model.Outpoint) []byte {
	var index [4]byte
	binary.BigEndian.PutUint32(index[:], op.Index)
	return withPrefix(utxoKeyPrefix, op.TxID[:], index[:])
}

func parseUTXOKey(key []byte) (model.Outpoint, error) {
	raw := key[len(utxoKeyPrefix):]
	if len(raw) != model.HashSize+4 {
		return model.Outpoint{}, fmt.Errorf("%w: utxo key %x", model.ErrMalformedRecord, key)
	}
	var op model.Outpoint
	copy(op.TxID[:], raw[:model.HashSize])
	op.Index = binary.BigEndian.Uint32(raw[model.HashSize:])
	return op, nil
}

func (s *KVChainStore) Commit(blk *model.Block, delta *utxo.Delta) error {
	start := time.Now()
	hash := append([]byte(nil), blk.Hash[:]...)

	b := &Batch{}
	b.Set(blockKey(blk.Hash), model.MarshalBlock(blk))
	b.Set(heightKey(blk.Index), hash)
	b.Set(tipKey, hash)
	if delta != nil {
		for _, u := range delta.Spent {
			b.Delete(utxoKey(u.Outpoint))
		}
		for _, u := range delta.Created {
			b.Set(utxoKey(u.Outpoint), model.MarshalOutput(u.Output))
		}
	}
	b.Set(snapshotHeightKey, pkg.Uint64ToBytes(blk.Index))

	if err := s.kv.Write(b); err != nil {
		return fmt.Errorf("commit block %d: %w", blk.Index, err)
	}
	s.cache.Add(blk.Hash, blk)

	s.logger.Debug("ChainStore::Commit",
		zap.Uint64("height", blk.Index),
		zap.Stringer("hash", blk.Hash),
		zap.Int("ops", b.Len()),
		zap.Duration("ttl", time.Since(start)))
	return nil
}

func (s *KVChainStore) Tip() (*model.Block, error) {
	raw, err := s.kv.Get(tipKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	hash, err := model.NewHash(raw)
	if err != nil {
		return nil, err
	}
	return s.Block(hash)
}

func (s *KVChainStore) Block(hash model.Hash) (*model.Block, error) {
	if blk, ok := s.cache.Get(hash); ok {
		return blk, nil
	}
	raw, err := s.kv.Get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("block %s: %w", hash, ErrNotFound)
	}
	blk, err := model.UnmarshalBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, err)
	}
	if blk.Hash != hash {
		return nil, fmt.Errorf("%w: block stored under %s claims hash %s", model.ErrMalformedRecord, hash, blk.Hash)
	}
	s.cache.Add(hash, blk)
	return blk, nil
}

func (s *KVChainStore) Blocks() ([]*model.Block, error) {
	var hashes []model.Hash
	err := s.kv.Iterate(heightKeyPrefix, func(key, value []byte) error {
		next := uint64(len(hashes))
		index, err := pkg.BytesToUint64(key[len(heightKeyPrefix):])
		if err != nil {
			return &BlockError{Index: next, Err: fmt.Errorf("%w: height key %x", model.ErrMalformedRecord, key)}
		}
		if index != next {
			return &BlockError{Index: next, Err: fmt.Errorf("%w: height %d missing", model.ErrChainIntegrity, next)}
		}
		hash, err := model.NewHash(value)
		if err != nil {
			return &BlockError{Index: next, Err: err}
		}
		hashes = append(hashes, hash)
		return nil
	})
	if err != nil {
		return nil, err
	}

	blocks := make([]*model.Block, 0, len(hashes))
	for i, hash := range hashes {
		blk, err := s.Block(hash)
		if err != nil {
			if corrupt(err) {
				return nil, &BlockError{Index: uint64(i), Err: err}
			}
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

func (s *KVChainStore) UTXOSnapshot() ([]model.UTXO, uint64, bool, error) {
	raw, err := s.kv.Get(snapshotHeightKey)
	if err != nil {
		return nil, 0, false, err
	}
	if raw == nil {
		return nil, 0, false, nil
	}
	height, err := pkg.BytesToUint64(raw)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: snapshot height: %v", model.ErrMalformedRecord, err)
	}

	var utxos []model.UTXO
	err = s.kv.Iterate(utxoKeyPrefix, func(key, value []byte) error {
		op, err := parseUTXOKey(key)
		if err != nil {
			return err
		}
		out, err := model.UnmarshalOutput(value)
		if err != nil {
			return err
		}
		utxos = append(utxos, model.UTXO{Outpoint: op, Output: out})
		return nil
	})
	if err != nil {
		return nil, 0, false, err
	}
	return utxos, height, true, nil
}

// ReplaceUTXOSnapshot overwrites the persisted UTXO set, deleting entries not
// in utxos.
func (s *KVChainStore) ReplaceUTXOSnapshot(utxos []model.UTXO, height uint64) error {
	stale := strset.New()
	err := s.kv.Iterate(utxoKeyPrefix, func(key, _ []byte) error {
		stale.Add(string(key))
		return nil
	})
	if err != nil {
		return err
	}

	b := &Batch{}
	for _, u := range utxos {
		key := utxoKey(u.Outpoint)
		stale.Remove(string(key))
		b.Set(key, model.MarshalOutput(u.Output))
	}
	stale.Each(func(key string) bool {
		b.Delete([]byte(key))
		return true
	})
	b.Set(snapshotHeightKey, pkg.Uint64ToBytes(height))

	if err := s.kv.Write(b); err != nil {
		return fmt.Errorf("replace utxo snapshot: %w", err)
	}
	s.logger.Info("ChainStore::ReplaceUTXOSnapshot",
		zap.Uint64("height", height),
		zap.Int("utxos", len(utxos)),
		zap.Int("removed", stale.Size()))
	return nil
}

func (s *KVChainStore) Reset() error {
	b := &Batch{}
	for _, prefix := range [][]byte{blockKeyPrefix, heightKeyPrefix, utxoKeyPrefix} {
		err := s.kv.Iterate(prefix, func(key, _ []byte) error {
			b.Delete(key)
			return nil
		})
		if err != nil {
			return err
		}
	}
	b.Delete(tipKey)
	b.Delete(snapshotHeightKey)
	if err := s.kv.Write(b); err != nil {
		return err
	}
	s.cache.Purge()
	return nil
}

func (s *KVChainStore) Close() error {
	s.cache.Purge()
	return s.kv.Close()
}
