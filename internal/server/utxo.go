package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/pkg"
)

func (s *Server) utxoHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.UTXORequest
		if !bind(ctx, &req) {
			return
		}

		address := model.Address(req.Address)
		utxos, err := s.ledger.UTXOs(address)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		// one snapshot for both the list and the balance
		var balance uint64
		for _, u := range utxos {
			balance += u.Output.Amount
		}

		page, pageSize := pkg.NormalizePage(req.Page, req.PageSize)
		items := make([]model.UTXOItem, 0, pageSize)
		for _, u := range pkg.Paginate(utxos, page, pageSize) {
			items = append(items, model.UTXOItem{
				TxID:  u.TxID.String(),
				Index: u.Index,
				Value: s.amount(u.Output.Amount),
			})
		}

		ok(ctx, model.UTXOReply{
			Address:   req.Address,
			Balance:   s.amount(balance),
			Utxos:     items,
			TotalSize: len(utxos),
			Page:      page,
			PageSize:  pageSize,
		})
	}
}

func (s *Server) balanceHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.BalanceRequest
		if !bind(ctx, &req) {
			return
		}

		balance, err := s.ledger.GetBalance(model.Address(req.Address))
		if err != nil {
			s.fail(ctx, err)
			return
		}
		ok(ctx, model.BalanceReply{
			Address: req.Address,
			Balance: s.amount(balance),
		})
	}
}

func (s *Server) reindexHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		txs, err := s.ledger.ReindexUTXO()
		if err != nil {
			s.fail(ctx, err)
			return
		}
		utxos, _ := s.ledger.UTXOCounts()
		ok(ctx, model.ReindexReply{Transactions: txs, Utxos: utxos})
	}
}

// amount formats base units for display.
func (s *Server) amount(v uint64) string {
	return pkg.FormatAmount(v, s.ledger.Decimals())
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": data,
	})
}
