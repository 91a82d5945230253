// Package chain holds the append-only sequence of sealed blocks.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"go.uber.org/zap"
)

// Chain is an in-memory, append-only list of blocks indexed by height and
// hash. Blocks are never modified once added.
type Chain struct {
	mu     sync.RWMutex
	blocks []*model.Block
	byHash map[model.Hash]int
	clock  clock.Clock
	logger *zap.Logger
}

func New(clk clock.Clock, logger *zap.Logger) *Chain {
	return &Chain{
		byHash: make(map[model.Hash]int),
		clock:  clk,
		logger: logger,
	}
}

// SealGenesis builds block 0 holding a single coinbase that pays reward to
// address. The block is not added to the chain.
func (c *Chain) SealGenesis(address model.Address, reward uint64) (*model.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) > 0 {
		return nil, model.ErrChainExists
	}
	return seal(0, c.clock.Now().UnixMilli(), model.ZeroHash,
		[]*model.Transaction{model.NewCoinbase(address, reward)}), nil
}

// Seal builds the block that would follow the current tip. The block is not
// added to the chain.
func (c *Chain) Seal(txs []*model.Transaction) (*model.Block, error) {
	if len(txs) == 0 {
		return nil, errors.New("no transactions to seal")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return nil, model.ErrEmptyChain
	}
	tip := c.blocks[len(c.blocks)-1]
	ts := c.clock.Now().UnixMilli()
	if ts < tip.Timestamp {
		ts = tip.Timestamp
	}
	return seal(tip.Index+1, ts, tip.Hash, txs), nil
}

func seal(index uint64, ts int64, prev model.Hash, txs []*model.Transaction) *model.Block {
	blk := &model.Block{
		Index:        index,
		Timestamp:    ts,
		Transactions: txs,
		PrevHash:     prev,
	}
	blk.MerkleRoot = MerkleRoot(txs)
	blk.Hash = HashBlock(blk)
	return blk
}

// Add appends a sealed block after checking that it extends the tip.
func (c *Chain) Add(blk *model.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prev *model.Block
	if len(c.blocks) > 0 {
		prev = c.blocks[len(c.blocks)-1]
	}
	if reason := verifyBlock(prev, blk, len(c.blocks)); reason != "" {
		return fmt.Errorf("%w: block %d: %s", model.ErrChainIntegrity, blk.Index, reason)
	}
	c.blocks = append(c.blocks, blk)
	c.byHash[blk.Hash] = len(c.blocks) - 1

	c.logger.Debug("Chain::Add",
		zap.Uint64("index", blk.Index),
		zap.Stringer("hash", blk.Hash),
		zap.Int("txs", len(blk.Transactions)))
	return nil
}

// Append seals txs on top of the tip and adds the block.
func (c *Chain) Append(txs []*model.Transaction) (*model.Block, error) {
	blk, err := c.Seal(txs)
	if err != nil {
		return nil, err
	}
	if err := c.Add(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// Load replaces the chain with blocks after verifying them.
func (c *Chain) Load(blocks []*model.Block) error {
	if report := VerifyBlocks(blocks); !report.OK {
		return report.Err()
	}
	byHash := make(map[model.Hash]int, len(blocks))
	for i, blk := range blocks {
		byHash[blk.Hash] = i
	}

	c.mu.Lock()
	c.blocks = append([]*model.Block(nil), blocks...)
	c.byHash = byHash
	c.mu.Unlock()
	return nil
}

// Verify rescans the whole chain.
func (c *Chain) Verify() Report {
	return VerifyBlocks(c.snapshot())
}

// Tip returns the newest block, or nil before genesis.
func (c *Chain) Tip() *model.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// Len returns the number of blocks including genesis.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Height returns the index of the tip and false before genesis.
func (c *Chain) Height() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return 0, false
	}
	return uint64(len(c.blocks) - 1), true
}

// BlockAt returns the block with the given index.
func (c *Chain) BlockAt(index uint64) (*model.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= uint64(len(c.blocks)) {
		return nil, false
	}
	return c.blocks[index], true
}

// BlockByHash looks a block up by its hash.
func (c *Chain) BlockByHash(hash model.Hash) (*model.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byHash[hash]
	if !ok {
		return nil, false
	}
	return c.blocks[i], true
}

// Blocks returns the blocks oldest first.
func (c *Chain) Blocks() []*model.Block {
	return append([]*model.Block(nil), c.snapshot()...)
}

// snapshot returns the current prefix of the arena. Appends never touch the
// returned elements, so it stays valid without the lock.
func (c *Chain) snapshot() []*model.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[:len(c.blocks):len(c.blocks)]
}

// Iterator walks from the current tip back to genesis.
func (c *Chain) Iterator() *Iterator {
	blocks := c.snapshot()
	return &Iterator{blocks: blocks, pos: len(blocks) - 1, step: -1}
}

// Forward walks from genesis to the current tip.
func (c *Chain) Forward() *Iterator {
	return &Iterator{blocks: c.snapshot(), pos: 0, step: 1}
}

// Iterator yields blocks from a fixed view of the chain.
type Iterator struct {
	blocks []*model.Block
	pos    int
	step   int
}

// Next returns the next block, or false once the walk is done.
func (it *Iterator) Next() (*model.Block, bool) {
	if it.pos < 0 || it.pos >= len(it.blocks) {
		return nil, false
	}
	blk := it.blocks[it.pos]
	it.pos += it.step
	return blk, true
}
