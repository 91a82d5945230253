package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wx-shi/utxo-ledger/internal/config"
	"github.com/wx-shi/utxo-ledger/internal/db"
	"github.com/wx-shi/utxo-ledger/internal/ledger"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/server"
	"github.com/wx-shi/utxo-ledger/pkg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errUsage = errors.New("invalid arguments")

type cli struct {
	cfg    *config.Config
	stores *db.Stores
	svc    *ledger.Service
	logger *zap.Logger
	out    io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	want := map[string]int{
		"createwallet":  0,
		"create":        1,
		"getbalance":    1,
		"send":          3,
		"listaddresses": 0,
		"printchain":    0,
		"reindex":       0,
		"verify":        0,
		"serve":         0,
	}
	n, ok := want[cmd]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if len(args) != n {
		return fmt.Errorf("%w: %s takes %d arguments, got %d", errUsage, cmd, n, len(args))
	}

	switch cmd {
	case "createwallet":
		addr, err := c.svc.CreateWallet()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Success! address: %s\n", addr)
	case "create":
		if _, err := c.svc.CreateGenesis(model.Address(args[0]), 0); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "created blockchain!")
	case "getbalance":
		balance, err := c.svc.GetBalance(model.Address(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Balance of '%s': %s\n", args[0], pkg.FormatAmount(balance, c.svc.Decimals()))
	case "send":
		return c.send(ctx, args[0], args[1], args[2])
	case "listaddresses":
		addrs, err := c.svc.ListAddresses()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, "addresses:")
		for _, addr := range addrs {
			fmt.Fprintln(c.out, addr)
		}
	case "printchain":
		return c.svc.PrintChain(c.out)
	case "reindex":
		count, err := c.svc.ReindexUTXO()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Done! There are %d transactions in the UTXO set.\n", count)
	case "verify":
		report, err := ledger.VerifyStored(c.stores.Chain)
		if err != nil {
			return err
		}
		if !report.OK {
			fmt.Fprintf(c.out, "Chain is corrupt at block %d: %s\n", report.BadIndex, report.Reason)
			return report.Err()
		}
		fmt.Fprintf(c.out, "Chain OK: %d blocks verified.\n", report.Blocks)
	case "serve":
		return c.serve(ctx)
	}
	return nil
}

func (c *cli) send(ctx context.Context, from, to, amount string) error {
	value, err := pkg.ParseAmount(amount)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidAmount, err)
	}
	res, err := c.svc.Send(ctx, model.Address(from), model.Address(to), value)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Success! txid: %s block: %d\n", res.Tx.ID, res.Block.Index)
	return nil
}

// serve runs the HTTP server until ctx is cancelled.
func (c *cli) serve(ctx context.Context) error {
	c.svc.Run(ctx)
	httpServer := server.NewServer(c.cfg.Server, c.logger, c.svc)
	httpServer.Run()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		c.logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
