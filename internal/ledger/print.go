package ledger

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/pkg"
)

// PrintChain writes every block to w, newest first.
func (s *Service) PrintChain(w io.Writer) error {
	bw := bufio.NewWriter(w)
	it := s.chain.Iterator()
	for blk, ok := it.Next(); ok; blk, ok = it.Next() {
		s.printBlock(bw, blk)
	}
	return bw.Flush()
}

func (s *Service) printBlock(w io.Writer, blk *model.Block) {
	fmt.Fprintf(w, "============ Block %d ============\n", blk.Index)
	fmt.Fprintf(w, "Hash:        %s\n", blk.Hash)
	fmt.Fprintf(w, "Prev. hash:  %s\n", blk.PrevHash)
	fmt.Fprintf(w, "Merkle root: %s\n", blk.MerkleRoot)
	fmt.Fprintf(w, "Timestamp:   %s\n", time.UnixMilli(blk.Timestamp).UTC().Format(time.RFC3339Nano))
	for _, tx := range blk.Transactions {
		kind := ""
		if tx.IsCoinbase() {
			kind = " (coinbase)"
		}
		fmt.Fprintf(w, "--- Transaction %s%s\n", tx.ID, kind)
		for i, in := range tx.Inputs {
			fmt.Fprintf(w, "     Input %d:  %s\n", i, in.Outpoint())
		}
		for i, out := range tx.Outputs {
			fmt.Fprintf(w, "     Output %d: %s -> %s\n", i, pkg.FormatAmount(out.Amount, s.conf.Decimals), out.Address)
		}
	}
	fmt.Fprintln(w)
}
