package db

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	// DefaultBlockCacheSize is 256 MB.
	DefaultBlockCacheSize = 256 << 20

	// DefaultIndexCacheSize is 128 MB.
	DefaultIndexCacheSize = 128 << 20

	// DefaultMemTableSize is 64 MB. Roughly 15% of it bounds the size of a
	// single write, which must hold a whole UTXO snapshot replacement.
	DefaultMemTableSize = 64 << 20

	// DefaultLogValueSize is 64 MB.
	DefaultLogValueSize = 64 << 20

	// DefaultCompressionMode is the default block
	// compression setting.
	DefaultCompressionMode = options.Snappy
)

func DefaultBadgerOptions(dir string, inMemory bool) badger.Options {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	opts.Compression = DefaultCompressionMode
	opts.MemTableSize = DefaultMemTableSize
	opts.ValueLogFileSize = DefaultLogValueSize

	// Ledger writes are small and serialized; one memtable is enough.
	opts.NumMemtables = 1
	opts.NumLevelZeroTables = 1
	opts.NumLevelZeroTablesStall = 2

	// We don't compact L0 on close as this can greatly delay shutdown time.
	opts.CompactL0OnClose = false

	opts.IndexCacheSize = DefaultIndexCacheSize
	opts.BlockCacheSize = DefaultBlockCacheSize

	// Writes go through Update only, one at a time.
	opts.DetectConflicts = false
	return opts.WithLoggingLevel(badger.WARNING)
}
