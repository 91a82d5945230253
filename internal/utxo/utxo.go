// Package utxo keeps the in-memory index of spendable outputs.
package utxo

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/scylladb/go-set/strset"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"go.uber.org/zap"
)

// Set maps outpoints to spendable outputs and keeps an owner index so balance
// lookups do not scan the whole set. Lookups may run concurrently; mutations
// are serialized by mu.
type Set struct {
	mu      sync.RWMutex
	entries map[model.Outpoint]model.TxOutput
	owners  map[model.Address]*strset.Set // address -> outpoint keys
	logger  *zap.Logger
}

// New returns an empty set.
func New(logger *zap.Logger) *Set {
	return &Set{
		entries: make(map[model.Outpoint]model.TxOutput),
		owners:  make(map[model.Address]*strset.Set),
		logger:  logger,
	}
}

// Delta is a validated set of removals and insertions that Commit applies in
// one step.
type Delta struct {
	Spent   []model.UTXO
	Created []model.UTXO
}

// Diff computes the effect of applying txs in order without touching the set.
// Outputs created earlier in txs may be spent later in txs.
func (s *Set) Diff(txs ...*model.Transaction) (*Delta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return diff(s.entries, txs)
}

func diff(entries map[model.Outpoint]model.TxOutput, txs []*model.Transaction) (*Delta, error) {
	delta := &Delta{}
	pending := make(map[model.Outpoint]model.TxOutput)
	spent := make(map[model.Outpoint]struct{})
	seen := make(map[model.Hash]struct{}, len(txs))

	for _, tx := range txs {
		if _, ok := seen[tx.ID]; ok {
			return nil, fmt.Errorf("%w: transaction %s repeated", model.ErrDoubleSpend, tx.ID)
		}
		seen[tx.ID] = struct{}{}
		for _, in := range tx.Inputs {
			op := in.Outpoint()
			if _, ok := spent[op]; ok {
				return nil, fmt.Errorf("%w: %s spent twice", model.ErrDoubleSpend, op)
			}
			out, ok := pending[op]
			if ok {
				delete(pending, op)
			} else if out, ok = entries[op]; !ok {
				return nil, fmt.Errorf("%w: %s is not spendable", model.ErrDoubleSpend, op)
			}
			spent[op] = struct{}{}
			delta.Spent = append(delta.Spent, model.UTXO{Outpoint: op, Output: out})
		}
		for i, out := range tx.Outputs {
			op := model.Outpoint{TxID: tx.ID, Index: uint32(i)}
			if _, ok := entries[op]; ok {
				return nil, fmt.Errorf("%w: output %s already exists", model.ErrDoubleSpend, op)
			}
			if _, ok := pending[op]; ok {
				return nil, fmt.Errorf("%w: output %s created twice", model.ErrDoubleSpend, op)
			}
			pending[op] = out
		}
	}

	// outputs consumed inside txs never reach the set
	for _, tx := range txs {
		for i := range tx.Outputs {
			op := model.Outpoint{TxID: tx.ID, Index: uint32(i)}
			if out, ok := pending[op]; ok {
				delta.Created = append(delta.Created, model.UTXO{Outpoint: op, Output: out})
			}
		}
	}
	return delta, nil
}

// Commit applies a delta produced by Diff against the current state.
func (s *Set) Commit(delta *Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	commit(s.entries, s.owners, delta)
}

func commit(entries map[model.Outpoint]model.TxOutput, owners map[model.Address]*strset.Set, delta *Delta) {
	for _, u := range delta.Spent {
		delete(entries, u.Outpoint)
		if set, ok := owners[u.Output.Address]; ok {
			set.Remove(u.Outpoint.String())
			if set.IsEmpty() {
				delete(owners, u.Output.Address)
			}
		}
	}
	for _, u := range delta.Created {
		entries[u.Outpoint] = u.Output
		set, ok := owners[u.Output.Address]
		if !ok {
			set = strset.New()
			owners[u.Output.Address] = set
		}
		set.Add(u.Outpoint.String())
	}
}

// Apply spends the inputs of tx and adds its outputs. Either every change
// takes effect or none does.
func (s *Set) Apply(tx *model.Transaction) error {
	return s.ApplyBlock(tx)
}

// ApplyBlock applies txs in order as a single unit.
func (s *Set) ApplyBlock(txs ...*model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta, err := diff(s.entries, txs)
	if err != nil {
		return err
	}
	commit(s.entries, s.owners, delta)
	return nil
}

// Get returns the output at op if it is unspent.
func (s *Set) Get(op model.Outpoint) (model.TxOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.entries[op]
	return out, ok
}

// LookupSpendable returns the outputs locked to address ordered by
// transaction id, then output index.
func (s *Set) LookupSpendable(address model.Address) []model.UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.owners[address]
	if !ok {
		return nil
	}
	utxos := make([]model.UTXO, 0, set.Size())
	set.Each(func(key string) bool {
		op, err := model.ParseOutpoint(key)
		if err != nil {
			s.logger.Error("UTXOSet::LookupSpendable", zap.String("key", key), zap.Error(err))
			return true
		}
		if out, ok := s.entries[op]; ok && out.Address == address {
			utxos = append(utxos, model.UTXO{Outpoint: op, Output: out})
		}
		return true
	})
	SortUTXOs(utxos)
	return utxos
}

// Balance sums the spendable outputs of address.
func (s *Set) Balance(address model.Address) (uint64, error) {
	var total uint64
	for _, u := range s.LookupSpendable(address) {
		sum := total + u.Output.Amount
		if sum < total {
			return 0, fmt.Errorf("balance of %s overflows", address)
		}
		total = sum
	}
	return total, nil
}

// Entries returns a sorted copy of the whole set.
func (s *Set) Entries() []model.UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()

	utxos := make([]model.UTXO, 0, len(s.entries))
	for op, out := range s.entries {
		utxos = append(utxos, model.UTXO{Outpoint: op, Output: out})
	}
	SortUTXOs(utxos)
	return utxos
}

// Count returns the number of unspent outputs.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CountTransactions returns how many transactions still have unspent outputs.
func (s *Set) CountTransactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txids := make(map[model.Hash]struct{}, len(s.entries))
	for op := range s.entries {
		txids[op.TxID] = struct{}{}
	}
	return len(txids)
}

// Addresses returns every address that owns at least one output.
func (s *Set) Addresses() []model.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]model.Address, 0, len(s.owners))
	for addr := range s.owners {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Load replaces the contents of the set with utxos.
func (s *Set) Load(utxos []model.UTXO) {
	entries := make(map[model.Outpoint]model.TxOutput, len(utxos))
	owners := make(map[model.Address]*strset.Set)
	commit(entries, owners, &Delta{Created: utxos})

	s.mu.Lock()
	s.entries, s.owners = entries, owners
	s.mu.Unlock()
}

// SortUTXOs orders utxos by transaction id bytes, then output index.
func SortUTXOs(utxos []model.UTXO) {
	sort.Slice(utxos, func(i, j int) bool {
		if c := bytes.Compare(utxos[i].TxID[:], utxos[j].TxID[:]); c != 0 {
			return c < 0
		}
		return utxos[i].Index < utxos[j].Index
	})
}
