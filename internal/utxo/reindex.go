package utxo

import (
	"errors"
	"fmt"
	"time"

	"github.com/scylladb/go-set/strset"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"go.uber.org/zap"
)

// Blocks yields blocks oldest first.
type Blocks interface {
	Next() (*model.Block, bool)
}

// Reindex rebuilds the set by replaying every block. The replacement is built
// aside and swapped in only when the whole chain replays cleanly; a failure
// means the chain itself is corrupt.
func (s *Set) Reindex(blocks Blocks) error {
	start := time.Now()
	entries := make(map[model.Outpoint]model.TxOutput)
	owners := make(map[model.Address]*strset.Set)

	var (
		height uint64
		count  int
	)
	for blk, ok := blocks.Next(); ok; blk, ok = blocks.Next() {
		if blk.Index != uint64(count) {
			return fmt.Errorf("%w: block %d found at position %d", model.ErrChainIntegrity, blk.Index, count)
		}
		delta, err := diff(entries, blk.Transactions)
		if err != nil {
			if errors.Is(err, model.ErrDoubleSpend) {
				return fmt.Errorf("%w: block %d: %v", model.ErrChainIntegrity, blk.Index, err)
			}
			return err
		}
		commit(entries, owners, delta)
		height = blk.Index
		count++
	}

	s.mu.Lock()
	s.entries, s.owners = entries, owners
	s.mu.Unlock()

	s.logger.Info("UTXOSet::Reindex",
		zap.Int("blocks", count),
		zap.Uint64("height", height),
		zap.Int("utxos", len(entries)),
		zap.Duration("ttl", time.Since(start)))
	return nil
}
