package db

import (
	"context"
	"fmt"

	"github.com/wx-shi/utxo-ledger/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const walletsDBName = "wallets"

// Stores bundles the chain and wallet stores opened from one configuration.
type Stores struct {
	Chain   ChainStore
	Wallets WalletStore
}

// Open opens the configured backends. Badger value log GC runs until ctx is
// done.
func Open(ctx context.Context, conf *config.Config, logger *zap.Logger) (*Stores, error) {
	chainKV, err := openKV(ctx, conf, conf.BadgerDB, conf.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("open chain store: %w", err)
	}
	chain, err := NewChainStore(chainKV, conf.Store.BlockCacheSize, logger)
	if err != nil {
		chainKV.Close()
		return nil, err
	}

	wallets, err := openWalletStore(ctx, conf, logger)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("open wallet store: %w", err)
	}
	return &Stores{Chain: chain, Wallets: wallets}, nil
}

func openKV(ctx context.Context, conf *config.Config, badgerConf *config.BadgerDBConfig, dbConf *config.DBConfig, logger *zap.Logger) (KV, error) {
	switch conf.Store.Backend {
	case config.BackendBadger:
		bdb, err := NewBadgerDB(badgerConf, logger)
		if err != nil {
			return nil, err
		}
		bdb.GC(ctx)
		return bdb, nil
	case config.BackendCosmos:
		cdb, err := NewCosmosDB(dbConf)
		if err != nil {
			return nil, err
		}
		return cdb, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.Store.Backend)
	}
}

func openWalletStore(ctx context.Context, conf *config.Config, logger *zap.Logger) (WalletStore, error) {
	sealer := NewSealer(conf.WalletStore.Passphrase)
	switch conf.WalletStore.Backend {
	case config.WalletBackendSQLite:
		store, err := NewSQLiteWalletStore(conf.WalletStore.Path, sealer)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.WalletBackendKV:
		badgerConf := *conf.BadgerDB
		badgerConf.Directory = conf.WalletStore.Path
		dbConf := *conf.DB
		dbConf.Name = walletsDBName
		kv, err := openKV(ctx, conf, &badgerConf, &dbConf, logger)
		if err != nil {
			return nil, err
		}
		return NewKVWalletStore(kv, sealer), nil
	default:
		return nil, fmt.Errorf("unknown wallet store backend %q", conf.WalletStore.Backend)
	}
}

// Close closes both stores in parallel.
func (s *Stores) Close() error {
	g, _ := errgroup.WithContext(context.Background())
	g.Go(s.Chain.Close)
	g.Go(s.Wallets.Close)
	return g.Wait()
}
