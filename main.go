package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/wx-shi/utxo-ledger/internal/config"
	"github.com/wx-shi/utxo-ledger/internal/db"
	"github.com/wx-shi/utxo-ledger/internal/ledger"
	"github.com/wx-shi/utxo-ledger/pkg"
	"go.uber.org/zap"
)

const defaultConf = "./config.yaml"

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", defaultConf, "config path, eg: -conf config.yaml")
	flag.Usage = usage
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := loadConfig(flagconf)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return 1
	}

	// Initialize logger
	logger, err := pkg.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := db.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Error opening stores", zap.Error(err))
		return 1
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("Stores::Close", zap.Error(err))
		}
	}()

	c := &cli{cfg: cfg, stores: stores, logger: logger, out: os.Stdout}
	if flag.Arg(0) != "verify" {
		svc, err := ledger.Open(cfg, stores, clock.New(), logger)
		if err != nil {
			logger.Error("Error opening ledger", zap.Error(err))
			return 1
		}
		c.svc = svc
	}

	if err := c.run(ctx, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig falls back to the defaults when the default config file is absent.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConf {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [-conf config.yaml] <command> [arguments]

Commands:
  createwallet                 create a wallet
  create <address>             create a new blockchain paying the genesis reward to address
  getbalance <address>         get the balance of address
  send <from> <to> <amount>    send amount from a local wallet
  listaddresses                list all wallet addresses
  printchain                   print all blocks, newest first
  reindex                      rebuild the UTXO set from the chain
  verify                       check the integrity of the stored chain
  serve                        run the HTTP server
`, os.Args[0])
}
