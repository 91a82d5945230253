package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/ratelimit"
	"github.com/wx-shi/utxo-ledger/pkg"
	"go.uber.org/zap"
)

func bind(ctx *gin.Context, req interface{}) bool {
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"code": http.StatusBadRequest,
			"msg":  err.Error(),
		})
		return false
	}
	return true
}

// statusOf maps ledger errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidAddress),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrMalformedTransaction):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrChainExists),
		errors.Is(err, model.ErrEmptyChain):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrDoubleSpend),
		errors.Is(err, model.ErrInvalidSignature),
		errors.Is(err, model.ErrValueImbalance),
		errors.Is(err, model.ErrUnknownInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(ctx *gin.Context, err error) {
	status := statusOf(err)
	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		ctx.Header("Retry-After", strconv.Itoa(int(math.Ceil(limitErr.RetryAfter.Seconds()))))
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(ctx.Request.URL.Path, zap.Error(err))
	}
	ctx.JSON(status, gin.H{
		"code": status,
		"msg":  err.Error(),
	})
}

func (s *Server) walletHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		addr, err := s.ledger.CreateWallet()
		if err != nil {
			s.fail(ctx, err)
			return
		}
		ok(ctx, model.WalletReply{Address: addr.String()})
	}
}

func (s *Server) addressesHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		addrs, err := s.ledger.ListAddresses()
		if err != nil {
			s.fail(ctx, err)
			return
		}
		reply := model.AddressesReply{Addresses: make([]string, 0, len(addrs))}
		for _, addr := range addrs {
			reply.Addresses = append(reply.Addresses, addr.String())
		}
		ok(ctx, reply)
	}
}

func (s *Server) genesisHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.GenesisRequest
		if !bind(ctx, &req) {
			return
		}
		var reward uint64
		if req.Reward != "" {
			var err error
			if reward, err = pkg.ParseAmount(req.Reward); err != nil {
				s.fail(ctx, fmt.Errorf("%w: %v", model.ErrInvalidAmount, err))
				return
			}
		}

		genesis, err := s.ledger.CreateGenesis(model.Address(req.Address), reward)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		ok(ctx, s.blockItem(genesis))
	}
}

func (s *Server) sendHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.SendRequest
		if !bind(ctx, &req) {
			return
		}
		amount, err := pkg.ParseAmount(req.Amount)
		if err != nil {
			s.fail(ctx, fmt.Errorf("%w: %v", model.ErrInvalidAmount, err))
			return
		}

		res, err := s.ledger.Send(ctx.Request.Context(), model.Address(req.From), model.Address(req.To), amount)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		ok(ctx, model.SendReply{
			TxID:   res.Tx.ID.String(),
			Block:  res.Block.Hash.String(),
			Height: res.Block.Index,
			Fee:    s.amount(res.Fee),
		})
	}
}

func (s *Server) blocksHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.BlocksRequest
		// an empty body asks for the first page
		if ctx.Request.ContentLength != 0 && !bind(ctx, &req) {
			return
		}

		page, pageSize := pkg.NormalizePage(req.Page, req.PageSize)
		blocks, total := s.ledger.Blocks(page, pageSize)
		reply := model.BlocksReply{
			Blocks:    make([]model.BlockItem, 0, len(blocks)),
			TotalSize: total,
			Page:      page,
			PageSize:  pageSize,
		}
		for _, blk := range blocks {
			reply.Blocks = append(reply.Blocks, s.blockItem(blk))
		}
		ok(ctx, reply)
	}
}

func (s *Server) verifyHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		report := s.ledger.VerifyChain()
		ok(ctx, model.VerifyReply{
			OK:       report.OK,
			BadIndex: report.BadIndex,
			Reason:   report.Reason,
		})
	}
}

func (s *Server) heightHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		tip, err := s.ledger.Height()
		if err != nil {
			s.fail(ctx, err)
			return
		}
		ok(ctx, model.HeightReply{
			Height: tip.Index,
			Tip:    tip.Hash.String(),
		})
	}
}

func (s *Server) blockItem(blk *model.Block) model.BlockItem {
	item := model.BlockItem{
		Index:        blk.Index,
		Timestamp:    blk.Timestamp,
		Hash:         blk.Hash.String(),
		PrevHash:     blk.PrevHash.String(),
		MerkleRoot:   blk.MerkleRoot.String(),
		Transactions: make([]model.TxItem, 0, len(blk.Transactions)),
	}
	for _, tx := range blk.Transactions {
		txItem := model.TxItem{
			TxID:    tx.ID.String(),
			Inputs:  make([]model.TxInItem, 0, len(tx.Inputs)),
			Outputs: make([]model.TxOutItem, 0, len(tx.Outputs)),
		}
		for _, in := range tx.Inputs {
			txItem.Inputs = append(txItem.Inputs, model.TxInItem{TxID: in.TxID.String(), Index: in.Index})
		}
		for _, out := range tx.Outputs {
			txItem.Outputs = append(txItem.Outputs, model.TxOutItem{
				Address: out.Address.String(),
				Value:   s.amount(out.Amount),
			})
		}
		item.Transactions = append(item.Transactions, txItem)
	}
	return item
}
