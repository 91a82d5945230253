package db

import (
	tmdb "github.com/cosmos/cosmos-db"
	"github.com/wx-shi/utxo-ledger/internal/config"
)

// CosmosDB is a KV over any cosmos-db backend (goleveldb on disk, memdb in
// memory).
type CosmosDB struct {
	db tmdb.DB
}

func NewCosmosDB(conf *config.DBConfig) (*CosmosDB, error) {
	db, err := tmdb.NewDB(conf.Name, tmdb.BackendType(conf.DBType), conf.Dir)
	if err != nil {
		return nil, err
	}
	return &CosmosDB{db: db}, nil
}

// NewMemCosmosDB returns an empty in-memory store.
func NewMemCosmosDB() *CosmosDB {
	return &CosmosDB{db: tmdb.NewMemDB()}
}

func (db *CosmosDB) Get(key []byte) ([]byte, error) {
	return db.db.Get(key)
}

func (db *CosmosDB) Has(key []byte) (bool, error) {
	return db.db.Has(key)
}

func (db *CosmosDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	var start []byte
	if len(prefix) > 0 {
		start = prefix
	}
	it, err := db.db.Iterator(start, prefixEnd(prefix))
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		key := append([]byte(nil), it.Key()...)
		value := append([]byte(nil), it.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return it.Error()
}

// Write commits b and syncs it to disk.
func (db *CosmosDB) Write(b *Batch) error {
	wb := db.db.NewBatch()
	defer wb.Close()

	for _, op := range b.ops {
		var err error
		if op.delete {
			err = wb.Delete(op.key)
		} else {
			err = wb.Set(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	return wb.WriteSync()
}

func (db *CosmosDB) Close() error {
	return db.db.Close()
}
