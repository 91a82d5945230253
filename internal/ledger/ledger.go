// Package ledger owns the chain, the UTXO set and the stores behind them and
// exposes the operations of the command surface.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/wx-shi/utxo-ledger/internal/chain"
	"github.com/wx-shi/utxo-ledger/internal/config"
	"github.com/wx-shi/utxo-ledger/internal/db"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/ratelimit"
	"github.com/wx-shi/utxo-ledger/internal/txn"
	"github.com/wx-shi/utxo-ledger/internal/utxo"
	"github.com/wx-shi/utxo-ledger/internal/wallet"
	"github.com/wx-shi/utxo-ledger/pkg"
	"go.uber.org/zap"
)

// Service serializes every chain mutation through one writer slot; reads go
// straight to the chain and UTXO set, which guard themselves.
type Service struct {
	writer  chan struct{}
	chain   *chain.Chain
	utxos   *utxo.Set
	engine  *txn.Engine
	limiter *ratelimit.Limiter
	store   db.ChainStore
	wallets db.WalletStore
	conf    *config.LedgerConfig
	logger  *zap.Logger
}

// Open loads the persisted chain, verifies it and restores the UTXO set from
// its snapshot, reindexing when the snapshot is missing or stale.
func Open(conf *config.Config, stores *db.Stores, clk clock.Clock, logger *zap.Logger) (*Service, error) {
	utxos := utxo.New(logger)
	s := &Service{
		writer:  make(chan struct{}, 1),
		chain:   chain.New(clk, logger),
		utxos:   utxos,
		engine:  txn.New(utxos, logger),
		limiter: ratelimit.New(conf.RateLimit.MaxRequests, conf.RateLimit.Window, clk),
		store:   stores.Chain,
		wallets: stores.Wallets,
		conf:    conf.Ledger,
		logger:  logger,
	}

	start := time.Now()
	blocks, err := s.store.Blocks()
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	if err := s.chain.Load(blocks); err != nil {
		return nil, err
	}

	snapshot, height, ok, err := s.store.UTXOSnapshot()
	if err != nil {
		return nil, fmt.Errorf("load utxo snapshot: %w", err)
	}
	tip, hasTip := s.chain.Height()
	switch {
	case hasTip && ok && height == tip:
		s.utxos.Load(snapshot)
	case hasTip:
		s.logger.Warn("Ledger::Open stale utxo snapshot",
			zap.Bool("found", ok),
			zap.Uint64("snapshot", height),
			zap.Uint64("tip", tip))
		if err := s.reindex(); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Ledger::Open",
		zap.Int("blocks", len(blocks)),
		zap.Int("utxos", s.utxos.Count()),
		zap.Duration("ttl", time.Since(start)))
	return s, nil
}

// Run starts background upkeep, pruning idle rate limit windows until ctx is
// done.
func (s *Service) Run(ctx context.Context) {
	s.limiter.Run(ctx)
}

// lock takes the writer slot, giving up when ctx ends first.
func (s *Service) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) unlock() {
	<-s.writer
}

// CreateWallet generates a key pair and stores it.
func (s *Service) CreateWallet() (model.Address, error) {
	w, err := wallet.New()
	if err != nil {
		return "", err
	}
	defer w.Close()

	if err := s.wallets.Put(w); err != nil {
		return "", fmt.Errorf("store wallet: %w", err)
	}
	s.logger.Info("Ledger::CreateWallet", zap.Stringer("address", w.Address))
	return w.Address, nil
}

// CreateGenesis starts a new chain whose only coinbase pays reward to
// address. A zero reward uses the configured genesis reward.
func (s *Service) CreateGenesis(address model.Address, reward uint64) (*model.Block, error) {
	if err := wallet.ValidateAddress(address); err != nil {
		return nil, err
	}
	if reward == 0 {
		reward = s.conf.GenesisReward
	}
	if err := s.lock(context.Background()); err != nil {
		return nil, err
	}
	defer s.unlock()

	genesis, err := s.chain.SealGenesis(address, reward)
	if err != nil {
		return nil, err
	}
	delta, err := s.utxos.Diff(genesis.Transactions...)
	if err != nil {
		return nil, err
	}
	// drop any snapshot left behind without blocks
	if err := s.store.Reset(); err != nil {
		return nil, fmt.Errorf("reset store: %w", err)
	}
	if err := s.store.Commit(genesis, delta); err != nil {
		return nil, err
	}
	if err := s.chain.Add(genesis); err != nil {
		return nil, s.diverged(genesis, err)
	}
	s.utxos.Commit(delta)

	s.logger.Info("Ledger::CreateGenesis",
		zap.Stringer("address", address),
		zap.Uint64("reward", reward),
		zap.Stringer("hash", genesis.Hash))
	return genesis, nil
}

// SendResult describes a committed transfer.
type SendResult struct {
	Tx    *model.Transaction
	Block *model.Block
	Fee   uint64
}

// Send moves amount from the wallet at from to to in a new block. On error
// the chain, the UTXO set and the store are left as they were.
func (s *Service) Send(ctx context.Context, from, to model.Address, amount uint64) (*SendResult, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	if err := wallet.ValidateAddress(from); err != nil {
		return nil, err
	}
	if err := wallet.ValidateAddress(to); err != nil {
		return nil, err
	}
	w, err := s.wallets.Get(from)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := s.limiter.Allow(from); err != nil {
		return nil, err
	}

	if s.conf.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.conf.SendTimeout)
		defer cancel()
	}
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	start := time.Now()
	if s.chain.Tip() == nil {
		return nil, model.ErrEmptyChain
	}
	tx, err := s.engine.Build(w, to, amount)
	if err != nil {
		return nil, err
	}
	// Fee runs the full verification
	fee, err := txn.Fee(tx, s.utxos)
	if err != nil {
		return nil, err
	}
	blk, err := s.chain.Seal([]*model.Transaction{tx})
	if err != nil {
		return nil, err
	}
	delta, err := s.utxos.Diff(tx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Commit(blk, delta); err != nil {
		return nil, err
	}
	if err := s.chain.Add(blk); err != nil {
		return nil, s.diverged(blk, err)
	}
	s.utxos.Commit(delta)

	s.logger.Info("Ledger::Send",
		zap.Stringer("txid", tx.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Uint64("amount", amount),
		zap.Uint64("height", blk.Index),
		zap.Duration("ttl", time.Since(start)))
	return &SendResult{Tx: tx, Block: blk, Fee: fee}, nil
}

// diverged reports a block that reached the store but not the in-memory
// chain. Reopening the ledger reloads it from the store.
func (s *Service) diverged(blk *model.Block, err error) error {
	s.logger.Error("Ledger::diverged",
		zap.Uint64("height", blk.Index),
		zap.Stringer("hash", blk.Hash),
		zap.Error(err))
	return fmt.Errorf("block %d stored but not applied, reopen the ledger: %w", blk.Index, err)
}

// GetBalance sums the spendable outputs of address.
func (s *Service) GetBalance(address model.Address) (uint64, error) {
	if err := wallet.ValidateAddress(address); err != nil {
		return 0, err
	}
	return s.utxos.Balance(address)
}

// UTXOs lists the spendable outputs of address in stable order.
func (s *Service) UTXOs(address model.Address) ([]model.UTXO, error) {
	if err := wallet.ValidateAddress(address); err != nil {
		return nil, err
	}
	return s.utxos.LookupSpendable(address), nil
}

// ListAddresses returns the addresses of every stored wallet.
func (s *Service) ListAddresses() ([]model.Address, error) {
	return s.wallets.ListAddresses()
}

// ReindexUTXO rebuilds the UTXO set from the chain, persists it and returns
// the number of transactions that still hold unspent outputs.
func (s *Service) ReindexUTXO() (int, error) {
	if err := s.lock(context.Background()); err != nil {
		return 0, err
	}
	defer s.unlock()

	if err := s.reindex(); err != nil {
		return 0, err
	}
	return s.utxos.CountTransactions(), nil
}

func (s *Service) reindex() error {
	height, ok := s.chain.Height()
	if !ok {
		return model.ErrEmptyChain
	}
	if err := s.utxos.Reindex(s.chain.Forward()); err != nil {
		return err
	}
	return s.store.ReplaceUTXOSnapshot(s.utxos.Entries(), height)
}

// VerifyChain rescans the loaded chain.
func (s *Service) VerifyChain() chain.Report {
	return s.chain.Verify()
}

// Height returns the tip block, or ErrEmptyChain before genesis.
func (s *Service) Height() (*model.Block, error) {
	tip := s.chain.Tip()
	if tip == nil {
		return nil, model.ErrEmptyChain
	}
	return tip, nil
}

// Blocks returns one page of blocks, newest first, and the chain length.
func (s *Service) Blocks(page, pageSize int) ([]*model.Block, int) {
	blocks := s.chain.Blocks()
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return pkg.Paginate(blocks, page, pageSize), len(blocks)
}

// UTXOCounts reports how many outputs and distinct transactions are unspent.
func (s *Service) UTXOCounts() (utxos, txs int) {
	return s.utxos.Count(), s.utxos.CountTransactions()
}

// Decimals is the number of fractional digits used when displaying amounts.
func (s *Service) Decimals() int32 {
	return s.conf.Decimals
}

// VerifyStored checks the blocks persisted in store without loading them
// into a ledger, so a corrupt chain can still be inspected.
func VerifyStored(store db.ChainStore) (chain.Report, error) {
	blocks, err := store.Blocks()
	var blockErr *db.BlockError
	if errors.As(err, &blockErr) {
		return chain.Report{
			OK:       false,
			Blocks:   int(blockErr.Index),
			BadIndex: int64(blockErr.Index),
			Reason:   blockErr.Err.Error(),
		}, nil
	}
	if err != nil {
		return chain.Report{}, err
	}
	return chain.VerifyBlocks(blocks), nil
}
