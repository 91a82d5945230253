// Package txn builds signed transfers and checks transactions against the
// spendable outputs they claim.
package txn

import (
	"errors"
	"fmt"

	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/wallet"
	"go.uber.org/zap"
)

// View resolves outpoints to unspent outputs.
type View interface {
	Get(op model.Outpoint) (model.TxOutput, bool)
}

// Source is a View that can also list the outputs locked to an address.
type Source interface {
	View
	LookupSpendable(address model.Address) []model.UTXO
}

type Engine struct {
	utxos  Source
	logger *zap.Logger
}

func New(utxos Source, logger *zap.Logger) *Engine {
	return &Engine{utxos: utxos, logger: logger}
}

// Build selects outputs of from in stable order until amount is covered,
// pays amount to to and any remainder back to from, then signs every input.
func (e *Engine) Build(from *wallet.Wallet, to model.Address, amount uint64) (*model.Transaction, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	if err := wallet.ValidateAddress(to); err != nil {
		return nil, err
	}

	var (
		selected []model.UTXO
		acc      uint64
	)
	spendable := e.utxos.LookupSpendable(from.Address)
	for _, u := range spendable {
		if acc >= amount {
			break
		}
		acc += u.Output.Amount
		selected = append(selected, u)
	}
	if acc < amount {
		return nil, fmt.Errorf("%w: %s has %d, needs %d", model.ErrInsufficientFunds, from.Address, acc, amount)
	}

	tx := &model.Transaction{
		Outputs: []model.TxOutput{{Amount: amount, Address: to}},
	}
	if acc > amount {
		tx.Outputs = append(tx.Outputs, model.TxOutput{Amount: acc - amount, Address: from.Address})
	}
	pub := from.KeyPair.PublicKey()
	for _, u := range selected {
		tx.Inputs = append(tx.Inputs, model.TxInput{TxID: u.TxID, Index: u.Index, PubKey: pub})
	}
	if err := Sign(tx, from.KeyPair); err != nil {
		return nil, err
	}

	e.logger.Debug("TxEngine::Build",
		zap.Stringer("txid", tx.ID),
		zap.Stringer("from", from.Address),
		zap.Stringer("to", to),
		zap.Uint64("amount", amount),
		zap.Int("inputs", len(tx.Inputs)))
	return tx, nil
}

// Sign signs every input of tx with kp and recomputes the id.
func Sign(tx *model.Transaction, kp *wallet.KeyPair) error {
	for i := range tx.Inputs {
		sig, err := kp.Sign(tx.SigHash(i))
		if err != nil {
			return err
		}
		tx.Inputs[i].Signature = sig
	}
	tx.ID = tx.ComputeID()
	return nil
}

// NewCoinbase mints amount to a valid address.
func NewCoinbase(to model.Address, amount uint64) (*model.Transaction, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: coinbase amount must be positive", model.ErrInvalidAmount)
	}
	if err := wallet.ValidateAddress(to); err != nil {
		return nil, err
	}
	return model.NewCoinbase(to, amount), nil
}

// Verify checks tx against the outputs in view. It does not change view.
func Verify(tx *model.Transaction, view View) error {
	_, err := check(tx, view)
	return err
}

// Fee returns how much the inputs of tx exceed its outputs.
func Fee(tx *model.Transaction, view View) (uint64, error) {
	return check(tx, view)
}

func check(tx *model.Transaction, view View) (uint64, error) {
	if tx == nil {
		return 0, errors.New("nil transaction")
	}
	if tx.ComputeID() != tx.ID {
		return 0, fmt.Errorf("%w: id %s does not match contents", model.ErrMalformedTransaction, tx.ID)
	}
	if len(tx.Outputs) == 0 {
		return 0, fmt.Errorf("%w: no outputs", model.ErrMalformedTransaction)
	}
	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return 0, fmt.Errorf("%w: output %d has zero amount", model.ErrMalformedTransaction, i)
		}
		if err := wallet.ValidateAddress(out.Address); err != nil {
			return 0, fmt.Errorf("%w: output %d: %v", model.ErrMalformedTransaction, i, err)
		}
	}
	outTotal, err := tx.OutputTotal()
	if err != nil {
		return 0, err
	}

	if tx.IsCoinbase() {
		if len(tx.Outputs) != 1 {
			return 0, fmt.Errorf("%w: coinbase must have exactly one output", model.ErrMalformedTransaction)
		}
		return 0, nil
	}

	var inTotal uint64
	seen := make(map[model.Outpoint]struct{}, len(tx.Inputs))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		op := in.Outpoint()
		if _, ok := seen[op]; ok {
			return 0, fmt.Errorf("%w: input %d repeats %s", model.ErrDoubleSpend, i, op)
		}
		seen[op] = struct{}{}

		prev, ok := view.Get(op)
		if !ok {
			return 0, fmt.Errorf("%w: input %d references %s", model.ErrUnknownInput, i, op)
		}
		if wallet.DeriveAddress(in.PubKey) != prev.Address {
			return 0, fmt.Errorf("%w: input %d public key does not own %s", model.ErrInvalidSignature, i, prev.Address)
		}
		if !wallet.VerifySignature(in.PubKey, tx.SigHash(i), in.Signature) {
			return 0, fmt.Errorf("%w: input %d", model.ErrInvalidSignature, i)
		}
		sum := inTotal + prev.Amount
		if sum < inTotal {
			return 0, fmt.Errorf("%w: input total overflows", model.ErrMalformedTransaction)
		}
		inTotal = sum
	}
	if inTotal < outTotal {
		return 0, fmt.Errorf("%w: inputs %d, outputs %d", model.ErrValueImbalance, inTotal, outTotal)
	}
	return inTotal - outTotal, nil
}
