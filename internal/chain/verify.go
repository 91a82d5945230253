package chain

import (
	"fmt"

	"github.com/wx-shi/utxo-ledger/internal/model"
)

// Report is the outcome of a chain integrity scan.
type Report struct {
	OK       bool
	Blocks   int
	BadIndex int64 // -1 when OK
	Reason   string
}

// Err converts a failed report into an ErrChainIntegrity error.
func (r Report) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: block %d: %s", model.ErrChainIntegrity, r.BadIndex, r.Reason)
}

// VerifyBlocks checks ids, merkle roots, hashes and linkage of blocks, which
// must start at genesis. It stops at the first bad block.
func VerifyBlocks(blocks []*model.Block) Report {
	var prev *model.Block
	for i, blk := range blocks {
		if reason := verifyBlock(prev, blk, i); reason != "" {
			return Report{OK: false, Blocks: len(blocks), BadIndex: int64(i), Reason: reason}
		}
		prev = blk
	}
	return Report{OK: true, Blocks: len(blocks), BadIndex: -1}
}

// verifyBlock checks blk at position i given its predecessor (nil for genesis).
func verifyBlock(prev, blk *model.Block, i int) string {
	if blk.Index != uint64(i) {
		return fmt.Sprintf("index %d at position %d", blk.Index, i)
	}
	switch {
	case prev == nil && blk.PrevHash != model.ZeroHash:
		return "genesis previous hash is not zero"
	case prev != nil && blk.PrevHash != prev.Hash:
		return fmt.Sprintf("previous hash %s does not match %s", blk.PrevHash, prev.Hash)
	case prev != nil && blk.Timestamp < prev.Timestamp:
		return "timestamp precedes previous block"
	}
	if len(blk.Transactions) == 0 {
		return "block has no transactions"
	}
	for j, tx := range blk.Transactions {
		if tx.ComputeID() != tx.ID {
			return fmt.Sprintf("transaction %d id mismatch", j)
		}
	}
	if MerkleRoot(blk.Transactions) != blk.MerkleRoot {
		return "merkle root mismatch"
	}
	if HashBlock(blk) != blk.Hash {
		return "block hash mismatch"
	}
	return ""
}
