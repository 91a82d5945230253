package db

import (
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// KV is an ordered byte key-value store. Get returns nil for missing keys.
type KV interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// Iterate calls fn for every key starting with prefix in ascending
	// order. Returning an error from fn stops the walk.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	// Write applies every operation in b or none of them.
	Write(b *Batch) error
	Close() error
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes for KV.Write.
type Batch struct {
	ops []batchOp
}

func (b *Batch) Set(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

// prefixEnd returns the smallest key greater than every key with prefix, or
// nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
