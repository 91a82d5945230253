package utxo

import (
	"bytes"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/wx-shi/utxo-ledger/internal/model"
	"go.uber.org/zap"
)

type sliceBlocks struct {
	blocks []*model.Block
	pos    int
}

func (b *sliceBlocks) Next() (*model.Block, bool) {
	if b.pos >= len(b.blocks) {
		return nil, false
	}
	blk := b.blocks[b.pos]
	b.pos++
	return blk, true
}

func coinbase(to model.Address, amount uint64, tag string) *model.Transaction {
	tx := &model.Transaction{Outputs: []model.TxOutput{{Amount: amount, Address: to}}}
	// vary the id so repeated rewards to one address stay distinct
	tx.ID = tx.ComputeID()
	tx.ID[0] ^= tag[0]
	return tx
}

func spend(from []model.Outpoint, outs ...model.TxOutput) *model.Transaction {
	tx := &model.Transaction{Outputs: outs}
	for _, op := range from {
		tx.Inputs = append(tx.Inputs, model.TxInput{TxID: op.TxID, Index: op.Index})
	}
	tx.ID = tx.ComputeID()
	return tx
}

func TestApplyAndBalance(t *testing.T) {
	s := New(zap.NewNop())
	cb := coinbase("alice", 100, "a")
	if err := s.Apply(cb); err != nil {
		t.Fatalf("Apply coinbase failed: %v", err)
	}

	tx := spend([]model.Outpoint{{TxID: cb.ID, Index: 0}},
		model.TxOutput{Amount: 30, Address: "bob"},
		model.TxOutput{Amount: 70, Address: "alice"})
	if err := s.Apply(tx); err != nil {
		t.Fatalf("Apply spend failed: %v", err)
	}

	if bal, _ := s.Balance("alice"); bal != 70 {
		t.Errorf("alice balance: expected 70, got %d", bal)
	}
	if bal, _ := s.Balance("bob"); bal != 30 {
		t.Errorf("bob balance: expected 30, got %d", bal)
	}
	if bal, _ := s.Balance("carol"); bal != 0 {
		t.Errorf("carol balance: expected 0, got %d", bal)
	}
	if _, ok := s.Get(model.Outpoint{TxID: cb.ID, Index: 0}); ok {
		t.Error("spent coinbase output still present")
	}
	if s.Count() != 2 || s.CountTransactions() != 1 {
		t.Errorf("expected 2 utxos in 1 transaction, got %d in %d", s.Count(), s.CountTransactions())
	}
	if got := s.Addresses(); !reflect.DeepEqual(got, []model.Address{"alice", "bob"}) {
		t.Errorf("unexpected owners: %v", got)
	}
}

func TestDoubleSpendIsAtomic(t *testing.T) {
	s := New(zap.NewNop())
	cb := coinbase("alice", 100, "a")
	if err := s.Apply(cb); err != nil {
		t.Fatal(err)
	}
	op := model.Outpoint{TxID: cb.ID, Index: 0}

	first := spend([]model.Outpoint{op}, model.TxOutput{Amount: 100, Address: "bob"})
	second := spend([]model.Outpoint{op}, model.TxOutput{Amount: 100, Address: "carol"})

	if err := s.Apply(first); err != nil {
		t.Fatalf("first spend failed: %v", err)
	}
	before := s.Entries()
	if err := s.Apply(second); !errors.Is(err, model.ErrDoubleSpend) {
		t.Fatalf("expected ErrDoubleSpend, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Entries()) {
		t.Fatal("failed apply modified the set")
	}

	// a valid input followed by a missing one must not remove the valid one
	mixed := spend([]model.Outpoint{{TxID: first.ID, Index: 0}, {TxID: first.ID, Index: 5}},
		model.TxOutput{Amount: 1, Address: "dave"})
	if err := s.Apply(mixed); !errors.Is(err, model.ErrDoubleSpend) {
		t.Fatalf("expected ErrDoubleSpend, got %v", err)
	}
	if _, ok := s.Get(model.Outpoint{TxID: first.ID, Index: 0}); !ok {
		t.Fatal("partial apply removed an input")
	}

	dup := spend([]model.Outpoint{{TxID: first.ID, Index: 0}, {TxID: first.ID, Index: 0}},
		model.TxOutput{Amount: 1, Address: "dave"})
	if err := s.Apply(dup); !errors.Is(err, model.ErrDoubleSpend) {
		t.Fatalf("expected ErrDoubleSpend for repeated input, got %v", err)
	}
}

func TestApplyBlockChainedSpend(t *testing.T) {
	s := New(zap.NewNop())
	cb := coinbase("alice", 50, "a")
	mid := spend([]model.Outpoint{{TxID: cb.ID}}, model.TxOutput{Amount: 50, Address: "bob"})
	last := spend([]model.Outpoint{{TxID: mid.ID}}, model.TxOutput{Amount: 50, Address: "carol"})

	if err := s.ApplyBlock(cb, mid, last); err != nil {
		t.Fatalf("ApplyBlock failed: %v", err)
	}
	if s.Count() != 1 {
		t.Fatalf("expected only the final output, got %d", s.Count())
	}
	if bal, _ := s.Balance("carol"); bal != 50 {
		t.Fatalf("carol balance: expected 50, got %d", bal)
	}
}

func TestLookupSpendableOrder(t *testing.T) {
	s := New(zap.NewNop())
	for _, tag := range []string{"a", "b", "c", "d"} {
		tx := &model.Transaction{Outputs: []model.TxOutput{
			{Amount: 1, Address: "alice"},
			{Amount: 2, Address: "bob"},
			{Amount: 3, Address: "alice"},
		}}
		tx.ID = coinbase("x", 1, tag).ID
		if err := s.Apply(tx); err != nil {
			t.Fatal(err)
		}
	}

	utxos := s.LookupSpendable("alice")
	if len(utxos) != 8 {
		t.Fatalf("expected 8 utxos, got %d", len(utxos))
	}
	for i := 1; i < len(utxos); i++ {
		prev, cur := utxos[i-1], utxos[i]
		c := bytes.Compare(prev.TxID[:], cur.TxID[:])
		if c > 0 || (c == 0 && prev.Index >= cur.Index) {
			t.Fatalf("utxos out of order at %d: %s then %s", i, prev.Outpoint, cur.Outpoint)
		}
		if cur.Output.Address != "alice" {
			t.Fatalf("lookup returned output locked to %s", cur.Output.Address)
		}
	}
}

func TestReindexMatchesIncremental(t *testing.T) {
	incremental := New(zap.NewNop())

	cb := coinbase("alice", 100, "a")
	tx1 := spend([]model.Outpoint{{TxID: cb.ID}},
		model.TxOutput{Amount: 40, Address: "bob"},
		model.TxOutput{Amount: 60, Address: "alice"})
	tx2 := spend([]model.Outpoint{{TxID: tx1.ID, Index: 1}},
		model.TxOutput{Amount: 10, Address: "carol"},
		model.TxOutput{Amount: 45, Address: "alice"})

	blocks := []*model.Block{
		{Index: 0, Transactions: []*model.Transaction{cb}},
		{Index: 1, Transactions: []*model.Transaction{tx1}},
		{Index: 2, Transactions: []*model.Transaction{tx2}},
	}
	for _, blk := range blocks {
		if err := incremental.ApplyBlock(blk.Transactions...); err != nil {
			t.Fatalf("ApplyBlock %d failed: %v", blk.Index, err)
		}
	}

	rebuilt := New(zap.NewNop())
	if err := rebuilt.Reindex(&sliceBlocks{blocks: blocks}); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if !reflect.DeepEqual(incremental.Entries(), rebuilt.Entries()) {
		t.Fatal("reindexed set differs from incrementally built set")
	}

	// reindexing an already populated set replaces its contents
	if err := incremental.Reindex(&sliceBlocks{blocks: blocks[:1]}); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if bal, _ := incremental.Balance("alice"); bal != 100 {
		t.Fatalf("expected genesis-only balance 100, got %d", bal)
	}
}

func TestReindexCorruptChain(t *testing.T) {
	cb := coinbase("alice", 100, "a")
	tx1 := spend([]model.Outpoint{{TxID: cb.ID}}, model.TxOutput{Amount: 100, Address: "bob"})
	tx2 := spend([]model.Outpoint{{TxID: cb.ID}}, model.TxOutput{Amount: 100, Address: "carol"})

	s := New(zap.NewNop())
	if err := s.Apply(cb); err != nil {
		t.Fatal(err)
	}
	before := s.Entries()

	err := s.Reindex(&sliceBlocks{blocks: []*model.Block{
		{Index: 0, Transactions: []*model.Transaction{cb}},
		{Index: 1, Transactions: []*model.Transaction{tx1}},
		{Index: 2, Transactions: []*model.Transaction{tx2}},
	}})
	if !errors.Is(err, model.ErrChainIntegrity) {
		t.Fatalf("expected ErrChainIntegrity, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Entries()) {
		t.Fatal("failed reindex replaced the live set")
	}

	err = s.Reindex(&sliceBlocks{blocks: []*model.Block{{Index: 3}}})
	if !errors.Is(err, model.ErrChainIntegrity) {
		t.Fatalf("expected ErrChainIntegrity for misnumbered block, got %v", err)
	}
}

func TestLoadAndDiff(t *testing.T) {
	src := New(zap.NewNop())
	cb := coinbase("alice", 100, "a")
	if err := src.Apply(cb); err != nil {
		t.Fatal(err)
	}

	dst := New(zap.NewNop())
	dst.Load(src.Entries())
	if bal, _ := dst.Balance("alice"); bal != 100 {
		t.Fatalf("loaded balance: expected 100, got %d", bal)
	}

	tx := spend([]model.Outpoint{{TxID: cb.ID}}, model.TxOutput{Amount: 90, Address: "bob"})
	delta, err := dst.Diff(tx)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(delta.Spent) != 1 || len(delta.Created) != 1 {
		t.Fatalf("unexpected delta: %+v", delta)
	}
	if bal, _ := dst.Balance("alice"); bal != 100 {
		t.Fatal("Diff must not mutate the set")
	}
	dst.Commit(delta)
	if bal, _ := dst.Balance("bob"); bal != 90 {
		t.Fatalf("bob balance after commit: expected 90, got %d", bal)
	}
}

func TestConcurrentReadsDuringApply(t *testing.T) {
	s := New(zap.NewNop())
	cb := coinbase("alice", 1000, "a")
	if err := s.Apply(cb); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				var supply uint64
				for _, u := range s.Entries() {
					supply += u.Output.Amount
				}
				if supply != 1000 {
					t.Errorf("observed supply %d mid-apply", supply)
					return
				}
			}
		}()
	}

	prev := model.Outpoint{TxID: cb.ID}
	remaining := uint64(1000)
	for i := 0; i < 100; i++ {
		remaining--
		tx := spend([]model.Outpoint{prev},
			model.TxOutput{Amount: remaining, Address: "alice"},
			model.TxOutput{Amount: 1, Address: "bob"})
		if err := s.Apply(tx); err != nil {
			t.Fatalf("Apply %d failed: %v", i, err)
		}
		prev = model.Outpoint{TxID: tx.ID}
	}
	close(stop)
	wg.Wait()

	if bal, _ := s.Balance("bob"); bal != 100 {
		t.Fatalf("bob balance: expected 100, got %d", bal)
	}
}
