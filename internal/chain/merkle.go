package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/wx-shi/utxo-ledger/internal/model"
)

// MerkleRoot commits to the ordered transaction ids. An odd level repeats its
// last hash.
func MerkleRoot(txs []*model.Transaction) model.Hash {
	if len(txs) == 0 {
		return model.ZeroHash
	}

	level := make([]model.Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.ID
	}

	var buf [chainhash.HashSize * 2]byte
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]model.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			copy(buf[:chainhash.HashSize], level[i][:])
			copy(buf[chainhash.HashSize:], level[i+1][:])
			next = append(next, chainhash.DoubleHashH(buf[:]))
		}
		level = next
	}
	return level[0]
}

// HashBlock computes the hash over the block header fields.
func HashBlock(blk *model.Block) model.Hash {
	return chainhash.DoubleHashH(blk.HeaderPayload())
}
