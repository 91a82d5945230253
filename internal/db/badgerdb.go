package db

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/dgraph-io/badger/v4"
	"github.com/wx-shi/utxo-ledger/internal/config"
	"go.uber.org/zap"
)

// BadgerDB is a KV backed by a badger.DB instance.
type BadgerDB struct {
	*badger.DB
	conf   *config.BadgerDBConfig
	logger *zap.Logger
}

// NewBadgerDB opens the database, retrying while another process still holds
// the directory lock.
func NewBadgerDB(conf *config.BadgerDBConfig, logger *zap.Logger) (*BadgerDB, error) {
	opts := DefaultBadgerOptions(conf.Directory, conf.InMemory)

	attempts := conf.OpenAttempts
	if attempts == 0 {
		attempts = 1
	}
	var db *badger.DB
	err := retry.Do(func() error {
		var err error
		db, err = badger.Open(opts)
		return err
	},
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("BadgerDB::Open", zap.Uint("attempt", n+1), zap.Error(err))
		}))
	if err != nil {
		return nil, err
	}

	return &BadgerDB{
		DB:     db,
		conf:   conf,
		logger: logger,
	}, nil
}

func (db *BadgerDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

func (db *BadgerDB) Has(key []byte) (bool, error) {
	err := db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (db *BadgerDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Write commits b in a single transaction.
func (db *BadgerDB) Write(b *Batch) error {
	return db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GC reclaims value log space every GCInterval until ctx is done.
func (db *BadgerDB) GC(ctx context.Context) {
	if db.conf.InMemory || db.conf.GCInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(db.conf.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.runGC()
			}
		}
	}()
}

func (db *BadgerDB) runGC() {
	start := time.Now()
	for {
		err := db.RunValueLogGC(db.conf.GCDiscardRatio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			db.logger.Error("BadgerDB::GC", zap.Error(err))
		}
		break
	}
	db.logger.Debug("BadgerDB::GC", zap.Duration("ttl", time.Since(start)))
}
